package models

import "time"

// Position is the last known coordinate of a device.
type Position struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Snapshot is a point-in-time telemetry record of a device.
type Snapshot struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Pedometer int       `json:"pedometer"`
	Rolls     int       `json:"rolls"`
	Battery   int       `json:"battery"`
}

// Report holds positions and snapshots of all devices of one user.
type Report struct {
	Positions []Position `json:"positions"`
	Snapshots []Snapshot `json:"snapshots"`
}
