// Package tracker reconciles the live view of kid trackers with their
// persisted message history and builds reports, snapshots and paths.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/kid-tracker/internal/device"
	"github.com/ukydev/kid-tracker/internal/models"
)

var (
	// ErrUnknownUser is returned when a user identifier does not resolve.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidRange is returned for path queries whose end is not after start.
	ErrInvalidRange = models.ErrInvalidRange
)

// History is the persisted message store.
type History interface {
	// Last returns the most recent matching message of each device in q,
	// at or before q.Before.
	Last(ctx context.Context, q models.HistoryQuery) ([]models.Message, error)
	// Range returns matching messages within [q.Start, q.End) in ascending
	// timestamp order.
	Range(ctx context.Context, q models.HistoryQuery) ([]models.Message, error)
}

// Users resolves accounts. FindUserByID returns an error matching
// db.ErrNotFound for unknown identifiers.
type Users interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// Registry is the live device registry.
type Registry interface {
	Select(ids []string) []*device.Device
}

// GatewayError reports that the history store could not answer a query.
type GatewayError struct {
	DeviceID string
	Field    device.FieldName
	Err      error
}

func (e *GatewayError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("history unavailable: %v", e.Err)
	}
	return fmt.Sprintf("history unavailable for %s of %s: %v", e.Field, e.DeviceID, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
