package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/apiserver"
	"github.com/gameupdater/gameupdater/pkg/auth"
	"github.com/gameupdater/gameupdater/pkg/config"
	"github.com/gameupdater/gameupdater/pkg/dedup"
	"github.com/gameupdater/gameupdater/pkg/eventbus"
	"github.com/gameupdater/gameupdater/pkg/executor"
	"github.com/gameupdater/gameupdater/pkg/logging"
	"github.com/gameupdater/gameupdater/pkg/notify"
	"github.com/gameupdater/gameupdater/pkg/orchestrator"
	"github.com/gameupdater/gameupdater/pkg/queue"
	"github.com/gameupdater/gameupdater/pkg/store/gormstore"
	redisclient "github.com/gameupdater/gameupdater/pkg/store/redis"
)

const shutdownTimeout = 30 * time.Second

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init log: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := gormstore.NewStore(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate database: %w", err)
	}

	ledger := gormstore.NewLedgerRepository(db.DB())
	publications := gormstore.NewPublicationRepository(db.DB())
	settings := gormstore.NewSettingsRepository(db.DB())
	installations := gormstore.NewInstallationRepository(db.DB())

	hub := notify.NewHub(logger)
	notifiers := notify.Multi{hub}

	var redis *redisclient.Client
	if cfg.Redis.Enabled() {
		redis, err = redisclient.NewClient(ctx, &cfg.Redis)
		if err != nil {
			// Mirroring is optional; local observers still get events.
			logger.Warn("redis unavailable, status events stay local", zap.Error(err))
		} else {
			notifiers = append(notifiers, notify.NewRedisPublisher(redis.Client(), cfg.Redis.Channel, logger))
		}
	}

	transport := eventbus.NewNATSTransport(cfg.NATS, eventbus.DefaultBindings, logger)
	bus := eventbus.NewManager(transport, publications, cfg.Bus, logger)

	driver := executor.NewDriver(cfg.Driver, logger,
		executor.WithPromptObserver(orchestrator.NewPromptObserver(notifiers, logger)),
	)
	publisher := orchestrator.NewStatusPublisher(bus, notifiers, logger)
	processor := queue.NewProcessor(ledger, installations, settings, driver, publisher, logger)

	service := orchestrator.NewService(orchestrator.Deps{
		Ledger:        ledger,
		Admitter:      dedup.New(ledger, cfg.Updater.UserID, logger),
		Queue:         processor,
		Bus:           bus,
		Codes:         driver,
		Settings:      settings,
		Installations: installations,
		Notifier:      notifiers,
	}, cfg.Updater, logger)

	var tokens *auth.TokenManager
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	}
	server := apiserver.NewServer(service, hub, tokens, logger,
		apiserver.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	// No write timeout: /api/v1/events streams for as long as the client stays.
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     server.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- service.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var result error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		result = multierror.Append(result, fmt.Errorf("api server: %w", err))
		stop()
	case err := <-serviceDone:
		if err != nil {
			result = multierror.Append(result, err)
		}
		serviceDone = nil
		stop()
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown api server: %w", err))
	}
	if serviceDone != nil {
		select {
		case err := <-serviceDone:
			if err != nil {
				result = multierror.Append(result, err)
			}
		case <-shutdownCtx.Done():
			logger.Warn("update processor did not stop in time")
		}
	}
	if err := bus.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close bus: %w", err))
	}
	if redis != nil {
		if err := redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close database: %w", err))
	}
	return result
}
