package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/kid-tracker/internal/db"
	"github.com/ukydev/kid-tracker/internal/device"
	"github.com/ukydev/kid-tracker/internal/metrics"
	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/protocol"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the backfills one report runs in parallel.
const DefaultConcurrency = 8

// Options tunes a Processor.
type Options struct {
	QueryTimeout time.Duration
	Concurrency  int
}

// Processor answers report, snapshot and path requests.
type Processor struct {
	users       Users
	registry    Registry
	history     History
	backfill    *Backfiller
	timeout     time.Duration
	concurrency int
}

// NewProcessor wires a processor over its collaborators.
func NewProcessor(users Users, registry Registry, history History, opts Options) *Processor {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Processor{
		users:       users,
		registry:    registry,
		history:     history,
		backfill:    NewBackfiller(history, opts.QueryTimeout),
		timeout:     opts.QueryTimeout,
		concurrency: opts.Concurrency,
	}
}

// Report returns the positions and snapshots of all live devices of a user.
// Devices whose state is neither live nor recoverable from history are
// omitted; only an unknown user fails the call.
func (p *Processor) Report(ctx context.Context, userID string) (*models.Report, error) {
	user, err := p.user(ctx, userID)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	devices := p.registry.Select(user.DeviceIDs())

	positions := make([]models.Position, 0, len(devices))
	snapshots := make([]models.Snapshot, 0, len(devices))
	var noLocation, noLink []*device.Device
	for _, d := range devices {
		if pos := d.Position(); pos != nil {
			positions = append(positions, *pos)
		} else {
			noLocation = append(noLocation, d)
		}
		if s := d.Snapshot(); s != nil {
			snapshots = append(snapshots, *s)
		} else {
			noLink = append(noLink, d)
		}
	}

	restoredPositions := make([]*models.Position, len(noLocation))
	restoredSnapshots := make([]*models.Snapshot, len(noLink))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, d := range noLocation {
		g.Go(func() error {
			loc, err := p.backfill.ResolveLocation(ctx, d)
			if err != nil {
				log.WithError(err).WithField("device_id", d.ID()).Debug("Location omitted from report")
				return nil
			}
			if loc != nil {
				restoredPositions[i] = protocol.PositionOf(d.ID(), loc)
			}
			return nil
		})
	}
	for i, d := range noLink {
		g.Go(func() error {
			link, err := p.backfill.ResolveLink(ctx, d)
			if err != nil {
				log.WithError(err).WithField("device_id", d.ID()).Debug("Link omitted from report")
				return nil
			}
			if link != nil {
				restoredSnapshots[i] = protocol.SnapshotOf(d.ID(), link)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, pos := range restoredPositions {
		if pos != nil {
			positions = append(positions, *pos)
		}
	}
	for _, s := range restoredSnapshots {
		if s != nil {
			snapshots = append(snapshots, *s)
		}
	}

	metrics.ReportsTotal.WithLabelValues("ok").Inc()
	return &models.Report{Positions: positions, Snapshots: snapshots}, nil
}

// SnapshotForUser returns the newest snapshot at or before ts of every
// device of a user, read from history only.
func (p *Processor) SnapshotForUser(ctx context.Context, userID string, ts time.Time) ([]models.Snapshot, error) {
	user, err := p.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := user.DeviceIDs()
	if len(ids) == 0 {
		return []models.Snapshot{}, nil
	}
	return p.snapshots(ctx, ids, ts), nil
}

// SnapshotForDevice returns the newest snapshot of a device at or before
// ts, or nil when history has none.
func (p *Processor) SnapshotForDevice(ctx context.Context, deviceID string, ts time.Time) (*models.Snapshot, error) {
	for _, s := range p.snapshots(ctx, []string{deviceID}, ts) {
		if s.DeviceID == deviceID {
			return &s, nil
		}
	}
	return nil, nil
}

// Path returns the positions a device reported within [start, end) in
// message time order. Undecodable messages are skipped.
func (p *Processor) Path(ctx context.Context, deviceID string, start, end time.Time) ([]models.Position, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	qctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	msgs, err := p.history.Range(qctx, models.HistoryQuery{
		DeviceIDs: []string{deviceID},
		Kinds:     protocol.LocationTypes,
		Source:    models.SourceDevice,
		Start:     start,
		End:       end,
	})
	timer.ObserveDuration(metrics.HistoryQueryDuration.WithLabelValues("range"))
	if err != nil {
		log.WithError(&GatewayError{DeviceID: deviceID, Field: device.FieldLocation, Err: err}).
			Warn("History unavailable, path is empty")
		return []models.Position{}, nil
	}

	positions := make([]models.Position, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp.Before(start) || !m.Timestamp.Before(end) {
			continue
		}
		pos, err := protocol.ToPosition(m)
		if err != nil {
			log.WithError(err).WithField("device_id", deviceID).Debug("Skipping malformed path message")
			continue
		}
		positions = append(positions, *pos)
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].Timestamp.Before(positions[j].Timestamp)
	})
	return positions, nil
}

func (p *Processor) snapshots(ctx context.Context, ids []string, ts time.Time) []models.Snapshot {
	qctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	msgs, err := p.history.Last(qctx, models.HistoryQuery{
		DeviceIDs: ids,
		Kinds:     protocol.SnapshotTypes(),
		Source:    models.SourceDevice,
		Before:    ts,
	})
	timer.ObserveDuration(metrics.HistoryQueryDuration.WithLabelValues("last"))
	if err != nil {
		log.WithError(&GatewayError{Err: err}).WithField("devices", len(ids)).Warn("History unavailable, snapshot is empty")
		return []models.Snapshot{}
	}

	out := make([]models.Snapshot, 0, len(msgs))
	for _, m := range msgs {
		s, err := protocol.ToSnapshot(m)
		if err != nil {
			log.WithError(err).WithField("device_id", m.DeviceID).Warn("Unable to decode historical snapshot")
			continue
		}
		out = append(out, *s)
	}
	return out
}

func (p *Processor) user(ctx context.Context, userID string) (*models.User, error) {
	user, err := p.users.FindUserByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && user == nil) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return user, nil
}
