// Package device holds the live view of connected kid trackers.
package device

import (
	"time"

	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/protocol"
)

// FieldName names a live-state field of a device.
type FieldName string

const (
	FieldLocation FieldName = "location"
	FieldLink     FieldName = "link"
)

// LockKey scopes a backfill critical section to one field of one device.
type LockKey struct {
	DeviceID string
	Field    FieldName
}

// Device is the live state of one tracker. Location and link are
// independently absent until first known.
type Device struct {
	id       string
	location Field[models.Location]
	link     Field[models.Link]
}

// New returns a device with no known state.
func New(id string) *Device {
	return &Device{id: id}
}

// ID returns the device identifier.
func (d *Device) ID() string {
	return d.id
}

// Location returns the last known location or nil.
func (d *Device) Location() *models.Location {
	return d.location.Load()
}

// Link returns the last known link or nil.
func (d *Device) Link() *models.Link {
	return d.link.Load()
}

// UpdateLocation records loc unless a newer location is already known.
func (d *Device) UpdateLocation(loc *models.Location) bool {
	return d.location.Advance(loc, func(v, held *models.Location) bool {
		return v.Time.Before(held.Time)
	})
}

// UpdateLink records link unless a newer link is already known.
func (d *Device) UpdateLink(link *models.Link) bool {
	return d.link.Advance(link, func(v, held *models.Link) bool {
		return v.Time.Before(held.Time)
	})
}

// LocationOrFill returns the location, calling fill under the location lock
// of this device when it is absent.
func (d *Device) LocationOrFill(locks *KeyedMutex[LockKey], fill func() (*models.Location, error)) (*models.Location, error) {
	return GetOrFill(locks, LockKey{DeviceID: d.id, Field: FieldLocation}, &d.location, fill)
}

// LinkOrFill returns the link, calling fill under the link lock of this
// device when it is absent.
func (d *Device) LinkOrFill(locks *KeyedMutex[LockKey], fill func() (*models.Link, error)) (*models.Link, error) {
	return GetOrFill(locks, LockKey{DeviceID: d.id, Field: FieldLink}, &d.link, fill)
}

// Position projects the live location, or nil when unknown.
func (d *Device) Position() *models.Position {
	loc := d.Location()
	if loc == nil {
		return nil
	}
	return protocol.PositionOf(d.id, loc)
}

// Snapshot projects the live link, or nil when unknown.
func (d *Device) Snapshot() *models.Snapshot {
	link := d.Link()
	if link == nil {
		return nil
	}
	return protocol.SnapshotOf(d.id, link)
}

// LastSeen returns the newest timestamp among the known fields.
func (d *Device) LastSeen() time.Time {
	var t time.Time
	if loc := d.Location(); loc != nil {
		t = loc.Time
	}
	if link := d.Link(); link != nil && link.Time.After(t) {
		t = link.Time
	}
	return t
}
