package models

import "time"

// Location represents a GPS fix reported by a tracker. Time is the time of
// the message that carried the fix and orders locations against history and
// links. FixTime is the receiver's own fix time, which lags Time for fixes
// the watch buffered and uploaded later.
type Location struct {
	Time       time.Time `bson:"time" json:"time"`
	FixTime    time.Time `bson:"fix_time" json:"fix_time"`
	Valid      bool      `bson:"valid" json:"valid"`
	Latitude   float64   `bson:"latitude" json:"latitude"`
	Longitude  float64   `bson:"longitude" json:"longitude"`
	Speed      float64   `bson:"speed" json:"speed"`   // km/h
	Course     float64   `bson:"course" json:"course"` // degrees
	Altitude   float64   `bson:"altitude" json:"altitude"`
	Satellites int       `bson:"satellites" json:"satellites"`
	GSM        int       `bson:"gsm" json:"gsm"`         // signal strength, percent
	Battery    int       `bson:"battery" json:"battery"` // percent
	Pedometer  int       `bson:"pedometer" json:"pedometer"`
	Rolls      int       `bson:"rolls" json:"rolls"`
	Status     uint32    `bson:"status" json:"status"`
}

// Link represents the connectivity and telemetry status a tracker sends with
// its keep-alive messages.
type Link struct {
	Time      time.Time `bson:"time" json:"time"`
	Pedometer int       `bson:"pedometer" json:"pedometer"`
	Rolls     int       `bson:"rolls" json:"rolls"`
	Battery   int       `bson:"battery" json:"battery"`
}
