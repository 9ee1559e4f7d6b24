package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/kid-tracker/internal/middleware"
	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/tracker"
)

// Tracker is the query surface served over HTTP.
type Tracker interface {
	Report(ctx context.Context, userID string) (*models.Report, error)
	SnapshotForUser(ctx context.Context, userID string, ts time.Time) ([]models.Snapshot, error)
	SnapshotForDevice(ctx context.Context, deviceID string, ts time.Time) (*models.Snapshot, error)
	Path(ctx context.Context, deviceID string, start, end time.Time) ([]models.Position, error)
}

// TrackerHandler serves reports, snapshots and paths.
type TrackerHandler struct {
	tracker Tracker
	now     func() time.Time
}

// NewTrackerHandler creates a handler over t. Device access is checked
// against the device list in the caller's token.
func NewTrackerHandler(t Tracker) *TrackerHandler {
	return &TrackerHandler{
		tracker: t,
		now:     time.Now,
	}
}

// Report returns the live report of the caller, or of ?user_id= for admins.
func (h *TrackerHandler) Report(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}

	report, err := h.tracker.Report(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Snapshot returns the historical snapshot of all devices of the caller at
// ?ts=, defaulting to now.
func (h *TrackerHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}
	ts, err := parseTime(r.URL.Query().Get("ts"), h.now())
	if err != nil {
		http.Error(w, "Invalid ts", http.StatusBadRequest)
		return
	}

	snapshots, err := h.tracker.SnapshotForUser(r.Context(), userID, ts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// DeviceSnapshot returns the historical snapshot of one device at ?ts=.
func (h *TrackerHandler) DeviceSnapshot(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r)
	if !ok {
		return
	}
	ts, err := parseTime(r.URL.Query().Get("ts"), h.now())
	if err != nil {
		http.Error(w, "Invalid ts", http.StatusBadRequest)
		return
	}

	snapshot, err := h.tracker.SnapshotForDevice(r.Context(), deviceID, ts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if snapshot == nil {
		http.Error(w, "No snapshot", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// DevicePath returns the positions of one device within [?start=, ?end=).
// end defaults to now and start to one day before end.
func (h *TrackerHandler) DevicePath(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	end, err := parseTime(q.Get("end"), h.now())
	if err != nil {
		http.Error(w, "Invalid end", http.StatusBadRequest)
		return
	}
	start, err := parseTime(q.Get("start"), end.Add(-24*time.Hour))
	if err != nil {
		http.Error(w, "Invalid start", http.StatusBadRequest)
		return
	}

	positions, err := h.tracker.Path(r.Context(), deviceID, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// subject resolves whose data the request is about.
func (h *TrackerHandler) subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return "", false
	}
	if other := r.URL.Query().Get("user_id"); other != "" && other != claims.UserID {
		if claims.Role != models.RoleAdmin {
			http.Error(w, "Insufficient permissions", http.StatusForbidden)
			return "", false
		}
		return other, true
	}
	return claims.UserID, true
}

// device resolves the {id} path value and checks that the caller owns it.
func (h *TrackerHandler) device(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return "", false
	}
	deviceID := r.PathValue("id")
	if deviceID == "" {
		http.Error(w, "Device id is required", http.StatusBadRequest)
		return "", false
	}
	if !claims.CanAccess(deviceID) {
		http.Error(w, "Device not found", http.StatusNotFound)
		return "", false
	}
	return deviceID, true
}

func (h *TrackerHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracker.ErrUnknownUser):
		http.Error(w, "User not found", http.StatusNotFound)
	case errors.Is(err, tracker.ErrInvalidRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// parseTime accepts RFC 3339 or unix seconds. Empty yields fallback.
func parseTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
