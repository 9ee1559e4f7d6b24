package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleParent Role = "parent"
	RoleViewer Role = "viewer"
)

// Kid is a tracked child and the device they wear.
type Kid struct {
	DeviceID string `bson:"device_id" json:"device_id"`
	Name     string `bson:"name" json:"name"`
}

// User represents an account owning one or more kid trackers
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	Kids         []Kid              `bson:"kids" json:"kids"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// DeviceIDs returns the identifiers of all devices the user owns.
func (u *User) DeviceIDs() []string {
	ids := make([]string, 0, len(u.Kids))
	for _, kid := range u.Kids {
		if kid.DeviceID != "" {
			ids = append(ids, kid.DeviceID)
		}
	}
	return ids
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Role     Role     `json:"role"`
	Devices  []string `json:"devices,omitempty"`
	Exp      int64    `json:"exp"`
}

// CanAccess reports whether the token holder may read deviceID. Admins read
// every device, everyone else the devices listed in the token.
func (c *Claims) CanAccess(deviceID string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	for _, id := range c.Devices {
		if id == deviceID {
			return true
		}
	}
	return false
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleParent, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role may perform a specific action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleParent:
		return action == "view_report" || action == "view_history"
	case RoleViewer:
		return action == "view_report"
	default:
		return false
	}
}
