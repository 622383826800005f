package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/psinetreject/card-scanner/internal/app"
	"github.com/psinetreject/card-scanner/internal/blob"
	"github.com/psinetreject/card-scanner/internal/config"
	"github.com/psinetreject/card-scanner/internal/gitrepo"
	"github.com/psinetreject/card-scanner/internal/intake"
	"github.com/psinetreject/card-scanner/internal/search"
	"github.com/psinetreject/card-scanner/internal/session"
	"github.com/psinetreject/card-scanner/internal/store"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authority HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg, ctx.log())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

// buildDeps connects every configured backend. Backends left unconfigured
// fall back to the in-process defaults of app.New.
func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (app.Deps, error) {
	deps := app.Deps{Logger: logger}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return deps, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return deps, fmt.Errorf("migrations failed: %w", err)
		}
		deps.Store = store.NewPostgresStore(db)
		logger.Info("using postgres store")
	} else {
		logger.Warn("no database configured, state is kept in memory")
	}

	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return deps, fmt.Errorf("create repos dir: %w", err)
		}
		deps.Versions = gitrepo.New(cfg.ReposDir)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return deps, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info("using redis for refresh sessions and rate limits")
		deps.Sessions = redisStore
		deps.Limiter = intake.NewRedisLimiter(redisStore.Client(), cfg.RateWindow, cfg.RateMax)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	deps.Search = search.NewService(meiliClient, search.NewLocal(), logger)

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		archive, err := blob.New(blob.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return deps, fmt.Errorf("snapshot archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return deps, fmt.Errorf("snapshot bucket: %w", err)
		}
		deps.Snapshots = archive
	}
	return deps, nil
}

func runServe(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	service := app.New(cfg, deps)
	defer func() {
		if err := service.Close(); err != nil {
			logger.Warn("close service", slog.String("error", err.Error()))
		}
	}()
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error, will retry on next restart", slog.String("error", err.Error()))
	}

	throttle := app.NewThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, throttle).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("card scanner authority listening", slog.String("addr", cfg.Addr), slog.String("version", app.AppVersion))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	return nil
}
