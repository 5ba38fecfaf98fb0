package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/auth"
	"github.com/Hammer-Institute/boiler/internal/config"
	"github.com/Hammer-Institute/boiler/internal/gateway"
	"github.com/Hammer-Institute/boiler/internal/store"
	"github.com/Hammer-Institute/boiler/internal/store/sqlite"
	transporthttp "github.com/Hammer-Institute/boiler/internal/transport/http"
)

// App wires together the gateway engine and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	bridge          *gateway.Bridge
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	ids := gateway.NewSnowflake(cfg.NodeID)
	gw := gateway.New(st, ids, logger, &gateway.Options{
		HeartbeatMin: cfg.HeartbeatMin,
		HeartbeatMax: cfg.HeartbeatMax,
	})
	bridge := gateway.NewBridge(gw, logger)

	server := transporthttp.NewServer(gw, bridge, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		bridge:          bridge,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the event bridge and HTTP server, blocking until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.bridge.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
