package tracker

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/protocol"
)

// MockHistory is a mock implementation of History
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) Last(ctx context.Context, q models.HistoryQuery) ([]models.Message, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockHistory) Range(ctx context.Context, q models.HistoryQuery) ([]models.Message, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

// MockUsers is a mock implementation of Users
type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func locationQuery(deviceID string) interface{} {
	return mock.MatchedBy(func(q models.HistoryQuery) bool {
		return len(q.DeviceIDs) == 1 && q.DeviceIDs[0] == deviceID &&
			q.Source == models.SourceDevice && len(q.Kinds) == len(protocol.LocationTypes) &&
			protocol.IsLocation(q.Kinds[0])
	})
}

func linkQuery(deviceID string) interface{} {
	return mock.MatchedBy(func(q models.HistoryQuery) bool {
		return len(q.DeviceIDs) == 1 && q.DeviceIDs[0] == deviceID &&
			q.Source == models.SourceDevice && len(q.Kinds) == 1 && protocol.IsLink(q.Kinds[0])
	})
}

func locationMessage(deviceID string, ts time.Time, lat, lon float64) models.Message {
	return models.Message{
		DeviceID:  deviceID,
		Type:      protocol.TypeLocation,
		Source:    models.SourceDevice,
		Timestamp: ts,
		Payload: protocol.FormatLocation(models.Location{
			Time:      ts,
			Valid:     true,
			Latitude:  lat,
			Longitude: lon,
			Battery:   80,
		}),
	}
}

// bufferedMessage is a UD2 upload whose fix was taken at fix but stored at
// stored.
func bufferedMessage(deviceID string, stored, fix time.Time, lat float64) models.Message {
	return models.Message{
		DeviceID:  deviceID,
		Type:      protocol.TypeLocationExtra,
		Source:    models.SourceDevice,
		Timestamp: stored,
		Payload: protocol.FormatLocation(models.Location{
			FixTime:   fix,
			Valid:     true,
			Latitude:  lat,
			Longitude: lat,
			Battery:   60,
		}),
	}
}

func linkMessage(deviceID string, ts time.Time, battery int) models.Message {
	return models.Message{
		DeviceID:  deviceID,
		Type:      protocol.TypeLink,
		Source:    models.SourceDevice,
		Timestamp: ts,
		Payload:   protocol.FormatLink(models.Link{Pedometer: 100, Rolls: 1, Battery: battery}),
	}
}

func malformedMessage(deviceID, kind string, ts time.Time) models.Message {
	return models.Message{
		DeviceID:  deviceID,
		Type:      kind,
		Source:    models.SourceDevice,
		Timestamp: ts,
		Payload:   "garbage",
	}
}
