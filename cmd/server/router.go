package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/kid-tracker/internal/auth"
	"github.com/ukydev/kid-tracker/internal/db"
	"github.com/ukydev/kid-tracker/internal/handlers"
	"github.com/ukydev/kid-tracker/internal/metrics"
	"github.com/ukydev/kid-tracker/internal/middleware"
	"github.com/ukydev/kid-tracker/internal/models"
)

// HealthCheck reports the state of one dependency.
type HealthCheck func(ctx context.Context) error

type routerDeps struct {
	auth    *auth.Service
	users   db.UserCollection
	tracker handlers.Tracker
	limiter *middleware.LoginLimiter
	checks  map[string]HealthCheck
}

func newRouter(deps routerDeps) http.Handler {
	authHandler := handlers.NewAuthHandler(deps.auth, deps.users)
	trackerHandler := handlers.NewTrackerHandler(deps.tracker)
	authMW := middleware.NewAuthMiddleware(deps.auth)
	viewReport := authMW.RequirePermission("view_report")
	viewHistory := authMW.RequirePermission("view_history")

	login := http.Handler(http.HandlerFunc(authHandler.Login))
	if deps.limiter != nil {
		login = deps.limiter.Limit(login)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", login)
	mux.HandleFunc("GET /api/auth/profile", authHandler.GetProfile)
	mux.Handle("GET /api/report", viewReport(http.HandlerFunc(trackerHandler.Report)))
	mux.Handle("GET /api/snapshot", viewHistory(http.HandlerFunc(trackerHandler.Snapshot)))
	mux.Handle("GET /api/devices/{id}/snapshot", viewHistory(http.HandlerFunc(trackerHandler.DeviceSnapshot)))
	mux.Handle("GET /api/devices/{id}/path", viewHistory(http.HandlerFunc(trackerHandler.DevicePath)))
	mux.HandleFunc("GET /health", healthHandler(deps.checks))
	mux.Handle("GET /metrics", metrics.Handler())

	return authMW.Authenticate(mux)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "healthy"
		services := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.WithError(err).WithField("service", name).Warn("Health check failed")
				services[name] = "disconnected"
				status = "unhealthy"
				continue
			}
			services[name] = "connected"
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services":  services,
		})
	}
}

// seedAdmin creates the admin account when it does not exist yet.
func seedAdmin(ctx context.Context, authService *auth.Service, users db.UserCollection, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := users.FindUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := authService.HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.InsertUser(ctx, models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
	}); err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	log.WithField("username", username).Info("Seeded admin account")
	return nil
}
