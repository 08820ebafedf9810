// Command marketauthd serves the marketauth HTTP API.
//
//	marketauthd -config /etc/marketauth/marketauth.yaml
//
// Without database.dsn it runs on the in-memory store, which is only
// suitable for local development.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/httpapi"
	"github.com/MrEthical07/marketauth/internal/audit"
	"github.com/MrEthical07/marketauth/internal/config"
	"github.com/MrEthical07/marketauth/internal/logging"
	"github.com/MrEthical07/marketauth/metrics/export/prometheus"
	"github.com/MrEthical07/marketauth/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "marketauthd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	builder := marketauth.New().
		WithConfig(engineCfg).
		WithLogger(logger.Named("engine")).
		WithAuditSink(audit.NewZapSink(logger.Named("security")))

	// -------- STORE --------
	if cfg.Database.DSN != "" {
		db, err := store.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer closeDB(db, logger)

		if cfg.Database.Migrate {
			if err := store.Migrate(ctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		builder.WithStore(store.NewPostgres(db))
	} else {
		logger.Warn("database.dsn not set; using the in-memory store")
		builder.WithStore(store.NewMemory())
	}

	// -------- RATE LIMIT COUNTERS --------
	if cfg.Redis.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		Logger:         logger.Named("http"),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		SecureCookies:  cfg.HTTP.SecureCookies || cfg.Auth.Production,
		TrustProxy:     cfg.HTTP.TrustProxy,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}
	if cfg.Metrics.Enabled {
		exporter, err := prometheus.NewExporter(engine)
		if err != nil {
			return fmt.Errorf("metrics exporter: %w", err)
		}
		opts.Metrics = exporter.Handler()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(engine, opts),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	return nil
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}
