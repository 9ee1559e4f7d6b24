package tracker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/kid-tracker/internal/device"
	"github.com/ukydev/kid-tracker/internal/metrics"
	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/protocol"
)

// DefaultQueryTimeout bounds a single history query.
const DefaultQueryTimeout = 5 * time.Second

// Backfiller fills absent live state of devices from history. For each
// device and field at most one history query runs per miss, no matter how
// many callers resolve it concurrently.
type Backfiller struct {
	history History
	locks   device.KeyedMutex[device.LockKey]
	timeout time.Duration
	now     func() time.Time
}

// NewBackfiller creates a backfiller. A non-positive timeout selects
// DefaultQueryTimeout.
func NewBackfiller(history History, timeout time.Duration) *Backfiller {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Backfiller{
		history: history,
		timeout: timeout,
		now:     time.Now,
	}
}

// ResolveLocation returns the live location of d, loading the most recent
// location message from history when none is known. It returns nil without
// error when history has no usable message, and a *GatewayError when
// history could not be queried.
func (b *Backfiller) ResolveLocation(ctx context.Context, d *device.Device) (*models.Location, error) {
	return d.LocationOrFill(&b.locks, func() (*models.Location, error) {
		msg, err := b.last(ctx, d.ID(), device.FieldLocation, protocol.LocationTypes)
		if err != nil || msg == nil {
			return nil, err
		}
		loc, err := protocol.ToLocation(*msg)
		if err != nil {
			b.decodeFailed(d.ID(), device.FieldLocation, msg, err)
			return nil, nil
		}
		b.record(d.ID(), device.FieldLocation, metrics.OutcomeFound).Debug("Location restored from history")
		return loc, nil
	})
}

// ResolveLink is ResolveLocation for the link field.
func (b *Backfiller) ResolveLink(ctx context.Context, d *device.Device) (*models.Link, error) {
	return d.LinkOrFill(&b.locks, func() (*models.Link, error) {
		msg, err := b.last(ctx, d.ID(), device.FieldLink, protocol.LinkTypes)
		if err != nil || msg == nil {
			return nil, err
		}
		link, err := protocol.ToLink(*msg)
		if err != nil {
			b.decodeFailed(d.ID(), device.FieldLink, msg, err)
			return nil, nil
		}
		b.record(d.ID(), device.FieldLink, metrics.OutcomeFound).Debug("Link restored from history")
		return link, nil
	})
}

// last queries the newest device-sourced message of the given kinds. The
// query is detached from caller cancellation so an abandoned request still
// fills the registry for the next one; the timeout keeps it bounded.
func (b *Backfiller) last(ctx context.Context, deviceID string, field device.FieldName, kinds []string) (*models.Message, error) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	msgs, err := b.history.Last(qctx, models.HistoryQuery{
		DeviceIDs: []string{deviceID},
		Kinds:     kinds,
		Source:    models.SourceDevice,
		Before:    b.now(),
	})
	timer.ObserveDuration(metrics.HistoryQueryDuration.WithLabelValues("last"))
	if err != nil {
		b.record(deviceID, field, metrics.OutcomeGatewayFailure).WithError(err).Warn("History unavailable, field left empty")
		return nil, &GatewayError{DeviceID: deviceID, Field: field, Err: err}
	}

	for i := range msgs {
		if msgs[i].DeviceID == deviceID {
			return &msgs[i], nil
		}
	}
	b.record(deviceID, field, metrics.OutcomeNotFound).Debug("No historical message")
	return nil, nil
}

func (b *Backfiller) decodeFailed(deviceID string, field device.FieldName, msg *models.Message, err error) {
	b.record(deviceID, field, metrics.OutcomeDecodeFailure).WithError(err).WithFields(log.Fields{
		"message_id":   msg.ID.Hex(),
		"message_type": msg.Type,
	}).Warn("Unable to decode historical message")
}

func (b *Backfiller) record(deviceID string, field device.FieldName, outcome string) *log.Entry {
	metrics.BackfillTotal.WithLabelValues(string(field), outcome).Inc()
	return log.WithFields(log.Fields{
		"device_id": deviceID,
		"field":     string(field),
		"outcome":   outcome,
	})
}
