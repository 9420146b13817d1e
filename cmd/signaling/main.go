package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mossy-p/screenshare-signaling/config"
	"github.com/mossy-p/screenshare-signaling/internal/directory"
	"github.com/mossy-p/screenshare-signaling/internal/handlers"
	"github.com/mossy-p/screenshare-signaling/internal/iceservers"
	"github.com/mossy-p/screenshare-signaling/internal/logging"
	"github.com/mossy-p/screenshare-signaling/internal/redis"
	"github.com/mossy-p/screenshare-signaling/internal/registry"
	"github.com/mossy-p/screenshare-signaling/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.IsProduction())
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger = logger.With("instance", instanceID)

	reg := registry.New()
	relayOpts := relay.Options{
		Logger:      logger,
		SendTimeout: cfg.SendTimeout,
		SendBuffer:  cfg.SendBuffer,
	}

	// The room directory is optional; without Redis the registry alone serves lookups
	var roomDir handlers.RoomDirectory
	if cfg.Redis.Enabled() {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("Redis connection established", "host", cfg.Redis.Host)

		mirror := directory.New(rdb, directory.Options{InstanceID: instanceID, Logger: logger})
		if err := mirror.Reset(ctx); err != nil {
			logger.Warn("directory reset failed", "error", err)
		}
		// Outlives ctx so disconnects during shutdown still reach Redis
		mirrorCtx, stopMirror := context.WithCancel(context.Background())
		defer stopMirror()
		go func() {
			if err := mirror.Run(mirrorCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("directory worker stopped", "error", err)
			}
		}()
		relayOpts.Directory = mirror
		roomDir = mirror
	}

	rel := relay.New(reg, relayOpts)

	var ice iceservers.Provider = iceservers.NewStatic(iceservers.StaticConfig{
		Mode:         cfg.ICE.Mode,
		STUNURLs:     cfg.ICE.STUNURLs,
		TURNURLs:     cfg.ICE.TURNURLs,
		TURNUsername: cfg.ICE.TURNUsername,
		TURNPassword: cfg.ICE.TURNPassword,
	}, logger)
	if cfg.ICE.CredentialURL != "" {
		remote := iceservers.NewRemote(iceservers.RemoteConfig{
			Endpoint: cfg.ICE.CredentialURL,
			Secret:   cfg.ICE.CredentialSecret,
		}, logger)
		ice = iceservers.NewWithFallback(remote, ice, logger)
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Deps{
		Registry:  reg,
		Relay:     rel,
		Directory: roomDir,
		ICE:       ice,
		Origins:   handlers.NewOriginPolicy(cfg.AllowedOrigins),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting signaling server", "port", cfg.Port, "origins", cfg.AllowedOrigins)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "connections", rel.Count(), "rooms", reg.Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return rel.Shutdown(shutdownCtx)
}
