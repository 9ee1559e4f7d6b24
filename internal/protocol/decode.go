package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ukydev/kid-tracker/internal/models"
)

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("unable to decode message")

// DecodeError describes a persisted message that could not be interpreted.
type DecodeError struct {
	DeviceID string
	Type     string
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s message of %s: %s", e.Type, e.DeviceID, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

const (
	locationFields = 16
	linkFields     = 3
	fixLayout      = "020106150405"
)

func decodeError(m models.Message, format string, args ...interface{}) error {
	return &DecodeError{DeviceID: m.DeviceID, Type: m.Type, Reason: fmt.Sprintf(format, args...)}
}

// ToLocation decodes a location-class message. The payload is
// date,time,validity,lat,N|S,lon,E|W,speed,course,altitude,satellites,gsm,battery,pedometer,rolls,status
// optionally followed by base station data, which is ignored. The location
// is stamped with the message time; the payload time is kept as FixTime.
func ToLocation(m models.Message) (*models.Location, error) {
	if !IsLocation(m.Type) {
		return nil, decodeError(m, "not a location message")
	}
	f := strings.Split(m.Payload, ",")
	if len(f) < locationFields {
		return nil, decodeError(m, "expected at least %d fields, got %d", locationFields, len(f))
	}

	fix, err := time.ParseInLocation(fixLayout, f[0]+f[1], time.UTC)
	if err != nil {
		return nil, decodeError(m, "bad fix time %q", f[0]+","+f[1])
	}

	p := fieldParser{m: m}
	loc := &models.Location{
		Time:       m.Timestamp,
		FixTime:    fix,
		Valid:      f[2] == "A",
		Latitude:   p.float(f[3], "latitude"),
		Longitude:  p.float(f[5], "longitude"),
		Speed:      p.float(f[7], "speed"),
		Course:     p.float(f[8], "course"),
		Altitude:   p.float(f[9], "altitude"),
		Satellites: p.int(f[10], "satellites"),
		GSM:        p.int(f[11], "gsm"),
		Battery:    p.int(f[12], "battery"),
		Pedometer:  p.int(f[13], "pedometer"),
		Rolls:      p.int(f[14], "rolls"),
		Status:     p.hex(f[15], "status"),
	}
	if p.err != nil {
		return nil, p.err
	}

	switch f[4] {
	case "N":
	case "S":
		loc.Latitude = -loc.Latitude
	default:
		return nil, decodeError(m, "bad latitude hemisphere %q", f[4])
	}
	switch f[6] {
	case "E":
	case "W":
		loc.Longitude = -loc.Longitude
	default:
		return nil, decodeError(m, "bad longitude hemisphere %q", f[6])
	}

	return loc, nil
}

// ToLink decodes a link-class message. An empty payload is a bare keep-alive
// and yields a link carrying only the message time.
func ToLink(m models.Message) (*models.Link, error) {
	if !IsLink(m.Type) {
		return nil, decodeError(m, "not a link message")
	}
	link := &models.Link{Time: m.Timestamp}
	if strings.TrimSpace(m.Payload) == "" {
		return link, nil
	}

	f := strings.Split(m.Payload, ",")
	if len(f) != linkFields {
		return nil, decodeError(m, "expected %d fields, got %d", linkFields, len(f))
	}
	p := fieldParser{m: m}
	link.Pedometer = p.int(f[0], "pedometer")
	link.Rolls = p.int(f[1], "rolls")
	link.Battery = p.int(f[2], "battery")
	if p.err != nil {
		return nil, p.err
	}
	return link, nil
}

// ToPosition decodes a location-class message into a position.
func ToPosition(m models.Message) (*models.Position, error) {
	loc, err := ToLocation(m)
	if err != nil {
		return nil, err
	}
	return PositionOf(m.DeviceID, loc), nil
}

// ToSnapshot decodes a location-class or link-class message into a snapshot
// stamped with the message time.
func ToSnapshot(m models.Message) (*models.Snapshot, error) {
	switch {
	case IsLocation(m.Type):
		loc, err := ToLocation(m)
		if err != nil {
			return nil, err
		}
		return &models.Snapshot{
			DeviceID:  m.DeviceID,
			Timestamp: m.Timestamp,
			Pedometer: loc.Pedometer,
			Rolls:     loc.Rolls,
			Battery:   loc.Battery,
		}, nil
	case IsLink(m.Type):
		link, err := ToLink(m)
		if err != nil {
			return nil, err
		}
		return SnapshotOf(m.DeviceID, link), nil
	default:
		return nil, decodeError(m, "no snapshot for message type")
	}
}

// PositionOf projects a location onto a position of deviceID.
func PositionOf(deviceID string, loc *models.Location) *models.Position {
	return &models.Position{
		DeviceID:  deviceID,
		Timestamp: loc.Time,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
	}
}

// SnapshotOf projects a link onto a snapshot of deviceID.
func SnapshotOf(deviceID string, link *models.Link) *models.Snapshot {
	return &models.Snapshot{
		DeviceID:  deviceID,
		Timestamp: link.Time,
		Pedometer: link.Pedometer,
		Rolls:     link.Rolls,
		Battery:   link.Battery,
	}
}

// fieldParser keeps the first parse error so a payload can be decoded
// field by field without checking after each one.
type fieldParser struct {
	m   models.Message
	err error
}

func (p *fieldParser) float(s, name string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		p.err = decodeError(p.m, "bad %s %q", name, s)
	}
	return v
}

func (p *fieldParser) int(s, name string) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		p.err = decodeError(p.m, "bad %s %q", name, s)
	}
	return v
}

func (p *fieldParser) hex(s, name string) uint32 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 32)
	if err != nil {
		p.err = decodeError(p.m, "bad %s %q", name, s)
	}
	return uint32(v)
}
