package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/kid-tracker/internal/middleware"
	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/tracker"
)

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) Report(ctx context.Context, userID string) (*models.Report, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Report), args.Error(1)
}

func (m *MockTracker) SnapshotForUser(ctx context.Context, userID string, ts time.Time) ([]models.Snapshot, error) {
	args := m.Called(ctx, userID, ts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Snapshot), args.Error(1)
}

func (m *MockTracker) SnapshotForDevice(ctx context.Context, deviceID string, ts time.Time) (*models.Snapshot, error) {
	args := m.Called(ctx, deviceID, ts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Snapshot), args.Error(1)
}

func (m *MockTracker) Path(ctx context.Context, deviceID string, start, end time.Time) ([]models.Position, error) {
	args := m.Called(ctx, deviceID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Position), args.Error(1)
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTrackerHandler(tr *MockTracker) *TrackerHandler {
	h := NewTrackerHandler(tr)
	h.now = func() time.Time { return now }
	return h
}

func asUser(req *http.Request, userID string, role models.Role, devices ...string) *http.Request {
	claims := &models.Claims{UserID: userID, Role: role, Devices: devices}
	return req.WithContext(middleware.WithClaims(req.Context(), claims))
}

func TestTrackerHandler_Report(t *testing.T) {
	t.Run("own report", func(t *testing.T) {
		tr := new(MockTracker)
		report := &models.Report{
			Positions: []models.Position{{DeviceID: "3G*1", Timestamp: now, Latitude: 1, Longitude: 2}},
			Snapshots: []models.Snapshot{{DeviceID: "3G*1", Timestamp: now, Battery: 80}},
		}
		tr.On("Report", mock.Anything, "u1").Return(report, nil)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).Report(w, asUser(httptest.NewRequest(http.MethodGet, "/api/report", nil), "u1", models.RoleParent))

		assert.Equal(t, http.StatusOK, w.Code)
		var got models.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, *report, got)
		tr.AssertExpectations(t)
	})

	t.Run("admin reads another user", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("Report", mock.Anything, "u2").Return(&models.Report{}, nil)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).Report(w, asUser(httptest.NewRequest(http.MethodGet, "/api/report?user_id=u2", nil), "admin", models.RoleAdmin))

		assert.Equal(t, http.StatusOK, w.Code)
		tr.AssertExpectations(t)
	})

	t.Run("parent cannot read another user", func(t *testing.T) {
		tr := new(MockTracker)
		w := httptest.NewRecorder()
		newTrackerHandler(tr).Report(w, asUser(httptest.NewRequest(http.MethodGet, "/api/report?user_id=u2", nil), "u1", models.RoleParent))

		assert.Equal(t, http.StatusForbidden, w.Code)
		tr.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("Report", mock.Anything, "u1").Return(nil, fmt.Errorf("%w: u1", tracker.ErrUnknownUser))

		w := httptest.NewRecorder()
		newTrackerHandler(tr).Report(w, asUser(httptest.NewRequest(http.MethodGet, "/api/report", nil), "u1", models.RoleParent))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("lookup failure", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("Report", mock.Anything, "u1").Return(nil, assert.AnError)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).Report(w, asUser(httptest.NewRequest(http.MethodGet, "/api/report", nil), "u1", models.RoleParent))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("no claims", func(t *testing.T) {
		w := httptest.NewRecorder()
		newTrackerHandler(new(MockTracker)).Report(w, httptest.NewRequest(http.MethodGet, "/api/report", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTrackerHandler_Snapshot(t *testing.T) {
	ts := time.Date(2024, 4, 30, 18, 0, 0, 0, time.UTC)

	t.Run("explicit ts", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("SnapshotForUser", mock.Anything, "u1", ts).Return([]models.Snapshot{{DeviceID: "3G*1", Timestamp: ts}}, nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/snapshot?ts="+ts.Format(time.RFC3339), nil)
		newTrackerHandler(tr).Snapshot(w, asUser(req, "u1", models.RoleViewer))

		assert.Equal(t, http.StatusOK, w.Code)
		var got []models.Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Len(t, got, 1)
		tr.AssertExpectations(t)
	})

	t.Run("defaults to now", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("SnapshotForUser", mock.Anything, "u1", now).Return([]models.Snapshot{}, nil)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).Snapshot(w, asUser(httptest.NewRequest(http.MethodGet, "/api/snapshot", nil), "u1", models.RoleViewer))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("unix seconds", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("SnapshotForUser", mock.Anything, "u1", ts).Return([]models.Snapshot{}, nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/snapshot?ts=%d", ts.Unix()), nil)
		newTrackerHandler(tr).Snapshot(w, asUser(req, "u1", models.RoleViewer))
		assert.Equal(t, http.StatusOK, w.Code)
		tr.AssertExpectations(t)
	})

	t.Run("bad ts", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/snapshot?ts=yesterday", nil)
		newTrackerHandler(new(MockTracker)).Snapshot(w, asUser(req, "u1", models.RoleViewer))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func deviceRequest(path, deviceID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.SetPathValue("id", deviceID)
	return req
}

func TestTrackerHandler_DeviceSnapshot(t *testing.T) {
	t.Run("owned device", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("SnapshotForDevice", mock.Anything, "3G*1", now).Return(&models.Snapshot{DeviceID: "3G*1", Battery: 55}, nil)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).DeviceSnapshot(w, asUser(deviceRequest("/api/devices/3G*1/snapshot", "3G*1"), "u1", models.RoleParent, "3G*1"))

		assert.Equal(t, http.StatusOK, w.Code)
		var got models.Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, 55, got.Battery)
	})

	t.Run("foreign device", func(t *testing.T) {
		tr := new(MockTracker)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).DeviceSnapshot(w, asUser(deviceRequest("/api/devices/3G*9/snapshot", "3G*9"), "u1", models.RoleParent, "3G*1"))

		assert.Equal(t, http.StatusNotFound, w.Code)
		tr.AssertNotCalled(t, "SnapshotForDevice", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("token without devices", func(t *testing.T) {
		tr := new(MockTracker)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).DeviceSnapshot(w, asUser(deviceRequest("/api/devices/3G*1/snapshot", "3G*1"), "u1", models.RoleParent))

		assert.Equal(t, http.StatusNotFound, w.Code)
		tr.AssertNotCalled(t, "SnapshotForDevice", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("admin reads any device", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("SnapshotForDevice", mock.Anything, "3G*9", now).Return(&models.Snapshot{DeviceID: "3G*9"}, nil)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).DeviceSnapshot(w, asUser(deviceRequest("/api/devices/3G*9/snapshot", "3G*9"), "admin", models.RoleAdmin))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("no history", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("SnapshotForDevice", mock.Anything, "3G*1", now).Return(nil, nil)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).DeviceSnapshot(w, asUser(deviceRequest("/api/devices/3G*1/snapshot", "3G*1"), "admin", models.RoleAdmin))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTrackerHandler_DevicePath(t *testing.T) {
	start := now.Add(-2 * time.Hour)

	t.Run("explicit range", func(t *testing.T) {
		tr := new(MockTracker)
		positions := []models.Position{
			{DeviceID: "3G*1", Timestamp: start.Add(time.Minute)},
			{DeviceID: "3G*1", Timestamp: start.Add(2 * time.Minute)},
		}
		tr.On("Path", mock.Anything, "3G*1", start, now).Return(positions, nil)

		path := fmt.Sprintf("/api/devices/3G*1/path?start=%s&end=%s", start.Format(time.RFC3339), now.Format(time.RFC3339))
		w := httptest.NewRecorder()
		newTrackerHandler(tr).DevicePath(w, asUser(deviceRequest(path, "3G*1"), "admin", models.RoleAdmin))

		assert.Equal(t, http.StatusOK, w.Code)
		var got []models.Position
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, positions, got)
	})

	t.Run("default range is the last day", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("Path", mock.Anything, "3G*1", now.Add(-24*time.Hour), now).Return([]models.Position{}, nil)

		w := httptest.NewRecorder()
		newTrackerHandler(tr).DevicePath(w, asUser(deviceRequest("/api/devices/3G*1/path", "3G*1"), "admin", models.RoleAdmin))

		assert.Equal(t, http.StatusOK, w.Code)
		tr.AssertExpectations(t)
	})

	t.Run("inverted range", func(t *testing.T) {
		tr := new(MockTracker)
		tr.On("Path", mock.Anything, "3G*1", now, start).Return(nil, tracker.ErrInvalidRange)

		path := fmt.Sprintf("/api/devices/3G*1/path?start=%d&end=%d", now.Unix(), start.Unix())
		w := httptest.NewRecorder()
		newTrackerHandler(tr).DevicePath(w, asUser(deviceRequest(path, "3G*1"), "admin", models.RoleAdmin))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad start", func(t *testing.T) {
		w := httptest.NewRecorder()
		newTrackerHandler(new(MockTracker)).DevicePath(w, asUser(deviceRequest("/api/devices/3G*1/path?start=x", "3G*1"), "admin", models.RoleAdmin))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
