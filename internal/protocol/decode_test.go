package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/kid-tracker/internal/models"
)

const samplePayload = "220414,134652,A,22.571707,N,113.8613968,E,0.1,0.0,100,7,60,90,1000,50,0000,4,1,460,0,9360,4082,131"

func TestToLocation(t *testing.T) {
	stored := time.Date(2014, 4, 22, 13, 47, 0, 0, time.UTC)
	m := models.Message{DeviceID: "3G*1234567890", Type: TypeLocation, Payload: samplePayload, Timestamp: stored}

	loc, err := ToLocation(m)
	require.NoError(t, err)
	assert.Equal(t, stored, loc.Time)
	assert.Equal(t, time.Date(2014, 4, 22, 13, 46, 52, 0, time.UTC), loc.FixTime)
	assert.True(t, loc.Valid)
	assert.InDelta(t, 22.571707, loc.Latitude, 1e-9)
	assert.InDelta(t, 113.8613968, loc.Longitude, 1e-9)
	assert.Equal(t, 7, loc.Satellites)
	assert.Equal(t, 60, loc.GSM)
	assert.Equal(t, 90, loc.Battery)
	assert.Equal(t, 1000, loc.Pedometer)
	assert.Equal(t, 50, loc.Rolls)
}

func TestToLocation_Hemispheres(t *testing.T) {
	m := models.Message{
		DeviceID: "3G*1234567890",
		Type:     TypeAlarm,
		Payload:  "010124,080000,V,33.868800,S,151.209300,W,0,0,0,0,0,50,0,0,00000001",
	}

	loc, err := ToLocation(m)
	require.NoError(t, err)
	assert.False(t, loc.Valid)
	assert.InDelta(t, -33.8688, loc.Latitude, 1e-9)
	assert.InDelta(t, -151.2093, loc.Longitude, 1e-9)
	assert.Equal(t, uint32(1), loc.Status)
}

func TestToLocation_BufferedFix(t *testing.T) {
	stored := time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC)
	m := models.Message{
		DeviceID:  "3G*1",
		Type:      TypeLocationExtra,
		Payload:   "010524,060000,A,22.5,N,113.9,E,0,0,0,5,50,70,10,0,00000000",
		Timestamp: stored,
	}

	loc, err := ToLocation(m)
	require.NoError(t, err)
	assert.Equal(t, stored, loc.Time)
	assert.Equal(t, stored.Add(-2*time.Hour-5*time.Minute), loc.FixTime)

	pos, err := ToPosition(m)
	require.NoError(t, err)
	assert.Equal(t, stored, pos.Timestamp)

	s, err := ToSnapshot(m)
	require.NoError(t, err)
	assert.Equal(t, stored, s.Timestamp)
}

func TestToLocation_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  models.Message
	}{
		{"wrong type", models.Message{Type: TypeLink, Payload: samplePayload}},
		{"too few fields", models.Message{Type: TypeLocation, Payload: "220414,134652,A"}},
		{"bad date", models.Message{Type: TypeLocation, Payload: "991399,134652,A,22.5,N,113.8,E,0,0,0,0,0,0,0,0,0"}},
		{"bad latitude", models.Message{Type: TypeLocation, Payload: "220414,134652,A,xx,N,113.8,E,0,0,0,0,0,0,0,0,0"}},
		{"bad hemisphere", models.Message{Type: TypeLocation, Payload: "220414,134652,A,22.5,Q,113.8,E,0,0,0,0,0,0,0,0,0"}},
		{"bad status", models.Message{Type: TypeLocationExtra, Payload: "220414,134652,A,22.5,N,113.8,E,0,0,0,0,0,0,0,0,zz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ToLocation(tt.msg)
			assert.Nil(t, loc)
			assert.True(t, errors.Is(err, ErrDecode), "expected ErrDecode, got %v", err)
			var de *DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestToLink(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	link, err := ToLink(models.Message{Type: TypeLink, Payload: "1200,3,85", Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, models.Link{Time: ts, Pedometer: 1200, Rolls: 3, Battery: 85}, *link)

	link, err = ToLink(models.Message{Type: TypeLink, Payload: "", Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, models.Link{Time: ts}, *link)

	_, err = ToLink(models.Message{Type: TypeLink, Payload: "1200,3"})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = ToLink(models.Message{Type: TypeLink, Payload: "1200,x,85"})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = ToLink(models.Message{Type: TypeLocation, Payload: "1200,3,85"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestToSnapshot(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	s, err := ToSnapshot(models.Message{DeviceID: "a", Type: TypeLocation, Payload: samplePayload, Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, "a", s.DeviceID)
	assert.Equal(t, ts, s.Timestamp)
	assert.Equal(t, 90, s.Battery)
	assert.Equal(t, 1000, s.Pedometer)

	s, err = ToSnapshot(models.Message{DeviceID: "b", Type: TypeLink, Payload: "10,2,40", Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, models.Snapshot{DeviceID: "b", Timestamp: ts, Pedometer: 10, Rolls: 2, Battery: 40}, *s)

	_, err = ToSnapshot(models.Message{DeviceID: "c", Type: "TKQ"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFormatLocation_RoundTrip(t *testing.T) {
	stored := time.Date(2024, 6, 2, 7, 20, 0, 0, time.UTC)
	in := models.Location{
		FixTime:    time.Date(2024, 6, 2, 7, 15, 30, 0, time.UTC),
		Valid:      true,
		Latitude:   -23.550500,
		Longitude:  -46.633300,
		Satellites: 9,
		GSM:        80,
		Battery:    64,
		Pedometer:  4321,
		Rolls:      12,
		Status:     0x10,
	}

	out, err := ToLocation(models.Message{Type: TypeLocation, Payload: FormatLocation(in), Timestamp: stored})
	require.NoError(t, err)
	assert.Equal(t, in.FixTime, out.FixTime)
	assert.Equal(t, stored, out.Time)
	assert.InDelta(t, in.Latitude, out.Latitude, 1e-6)
	assert.InDelta(t, in.Longitude, out.Longitude, 1e-6)
	assert.Equal(t, in.Battery, out.Battery)
	assert.Equal(t, in.Status, out.Status)
}

func TestKinds(t *testing.T) {
	assert.True(t, IsLocation(TypeLocation))
	assert.True(t, IsLocation(TypeAlarm))
	assert.False(t, IsLocation(TypeLink))
	assert.True(t, IsLink(TypeLink))
	assert.ElementsMatch(t, []string{"UD", "UD2", "AL", "LK"}, SnapshotTypes())
}
