package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/kid-tracker/internal/auth"
	"github.com/ukydev/kid-tracker/internal/config"
	"github.com/ukydev/kid-tracker/internal/db"
	"github.com/ukydev/kid-tracker/internal/device"
	"github.com/ukydev/kid-tracker/internal/ingest"
	"github.com/ukydev/kid-tracker/internal/logging"
	"github.com/ukydev/kid-tracker/internal/middleware"
	"github.com/ukydev/kid-tracker/internal/tracker"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("MongoDB disconnect failed")
		}
	}()
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

	database := client.Database(cfg.MongoDB)
	messages := &db.MongoMessageCollection{Collection: database.Collection(cfg.MessagesCollection)}
	users := &db.MongoUserCollection{Collection: database.Collection(cfg.UsersCollection)}
	if err := messages.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Warn("Failed to create message indexes")
	}

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		log.WithError(err).Fatal("Failed to create auth service")
	}
	if err := seedAdmin(ctx, authService, users, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.WithError(err).Error("Failed to seed admin account")
	}

	registry := device.NewManager()
	processor := tracker.NewProcessor(users, registry, messages, tracker.Options{
		QueryTimeout: cfg.BackfillTimeout,
		Concurrency:  cfg.ReportConcurrency,
	})

	ingestor := ingest.New(ingest.Config{
		Broker:   cfg.MQTTBroker,
		Topic:    cfg.MQTTTopic,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, messages, registry)
	if err := ingestor.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start MQTT ingestion")
	}
	defer ingestor.Stop()

	limiter := middleware.NewLoginLimiter(10, time.Minute)
	limiter.TrustProxy = cfg.TrustProxy

	router := newRouter(routerDeps{
		auth:    authService,
		users:   users,
		tracker: processor,
		limiter: limiter,
		checks: map[string]HealthCheck{
			"mongo": func(ctx context.Context) error { return client.Ping(ctx, nil) },
			"mqtt": func(context.Context) error {
				if !ingestor.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown did not complete")
	}
}
