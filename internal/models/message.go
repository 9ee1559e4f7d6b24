package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Source tells who produced a message.
type Source string

const (
	SourceDevice   Source = "device"
	SourcePlatform Source = "platform"
)

// Message is a persisted tracker message. Payload holds the comma separated
// message body exactly as the device sent it, without the type prefix.
type Message struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DeviceID     string             `bson:"device_id" json:"device_id"`
	Manufacturer string             `bson:"manufacturer" json:"manufacturer"`
	Type         string             `bson:"type" json:"type"`
	Payload      string             `bson:"payload" json:"payload"`
	Source       Source             `bson:"source" json:"source"`
	Timestamp    time.Time          `bson:"timestamp" json:"timestamp"`
}

var (
	ErrEmptyQuery   = errors.New("history query has no devices")
	ErrNoKinds      = errors.New("history query has no message kinds")
	ErrInvalidRange = errors.New("history query range end must be after start")
)

// HistoryQuery selects persisted messages. A query either has an upper bound
// (Before) or a half open range [Start, End).
type HistoryQuery struct {
	DeviceIDs []string
	Kinds     []string
	Source    Source
	Before    time.Time
	Start     time.Time
	End       time.Time
}

// IsRange reports whether the query selects a [Start, End) range.
func (q HistoryQuery) IsRange() bool {
	return !q.Start.IsZero() || !q.End.IsZero()
}

// Validate checks that the query can be executed.
func (q HistoryQuery) Validate() error {
	if len(q.DeviceIDs) == 0 {
		return ErrEmptyQuery
	}
	if len(q.Kinds) == 0 {
		return ErrNoKinds
	}
	if q.IsRange() && !q.End.After(q.Start) {
		return ErrInvalidRange
	}
	return nil
}
