package db

import (
	"context"
	"errors"

	"github.com/ukydev/kid-tracker/internal/models"
)

// ErrNotFound is returned when a looked up document does not exist.
var ErrNotFound = errors.New("not found")

// MessageCollection defines the interface for tracker message history.
type MessageCollection interface {
	InsertMessage(ctx context.Context, message models.Message) error
	Last(ctx context.Context, q models.HistoryQuery) ([]models.Message, error)
	Range(ctx context.Context, q models.HistoryQuery) ([]models.Message, error)
}

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}
