package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ossettyres/tyre-api/internal/config"
	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/ossettyres/tyre-api/internal/server"
	"github.com/ossettyres/tyre-api/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	deps := server.Dependencies{Metrics: metrics.New()}

	if cfg.Redis.Enabled() {
		redis, err := storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, lookup cache disabled")
		} else {
			defer redis.Close()
			deps.Redis = redis
			log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("connected to redis")
		}
	}

	if cfg.Database.Enabled() {
		postgres, err := storage.NewPostgres(postgresConfig(cfg.Database))
		if err != nil {
			return err
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			return err
		}
		deps.Postgres = postgres
		log.Info().Msg("connected to database")
	}

	srv, err := server.New(cfg, deps, version)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	log.Info().Msg("server exited")
	return nil
}

func postgresConfig(db config.DatabaseConfig) storage.PostgresConfig {
	return storage.PostgresConfig{
		DSN:             db.DSN,
		MaxIdleConns:    db.MaxIdleConns,
		MaxOpenConns:    db.MaxOpenConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		SlowQuery:       db.SlowQuery,
	}
}
