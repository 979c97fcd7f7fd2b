package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"omniavatar/server/internal/api"
	"omniavatar/server/internal/auth"
	"omniavatar/server/internal/billing"
	"omniavatar/server/internal/catalog"
	"omniavatar/server/internal/config"
	"omniavatar/server/internal/events"
	"omniavatar/server/internal/job"
	"omniavatar/server/internal/model"
	"omniavatar/server/internal/provider"
	"omniavatar/server/internal/session"
	"omniavatar/server/internal/storage"
	"omniavatar/server/internal/store"
	"omniavatar/server/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepInterval   = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat())
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions := openSessions(cfg, st)
	authSvc := auth.NewService(st, sessions, cfg.JWTSecret, cfg.SessionTTL)
	if err := authSvc.SeedDemoUser(ctx, cfg.DemoEmail, cfg.DemoPassword); err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := authSvc.SeedUser(ctx, cfg.AdminEmail, cfg.AdminPassword, "Administrator", model.RoleAdmin); err != nil {
			return fmt.Errorf("seed admin user: %w", err)
		}
	}

	hub := events.NewHub()
	prov := provider.NewMockAdapter(cfg.MockRenderStep, cfg.MockFailureRate)
	jobSvc := job.NewService(st, hub, prov, logger, job.Options{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		MaxUserJobs:   cfg.MaxUserJobs,
	})

	blobs, uploadDir, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	cat := catalog.Default()
	billingSvc := billing.NewService(st, cat, billing.NewMockProvider(cfg.CheckoutBaseURL, cfg.PaymentAPIKey, logger), logger)

	srv := api.NewServer(api.Deps{
		Auth:    authSvc,
		Store:   st,
		Jobs:    jobSvc,
		Hub:     hub,
		Blobs:   blobs,
		Billing: billingSvc,
		Catalog: cat,
		Logger:  logger,
	}, api.Options{
		SecureCookies:  cfg.Secure(),
		AuthRateLimit:  cfg.AuthRateLimit,
		AuthRateBurst:  cfg.AuthRateBurst,
		UploadDir:      uploadDir,
		UploadPath:     uploadPath(uploadDir, cfg.PublicBaseURL),
		OriginPatterns: originHosts(cfg.CORSOrigins),
	})

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Trace-Id", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Trace-Id"},
		AllowCredentials: true,
	}).Handler(srv.Router())

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return jobSvc.Run(gctx)
	})
	g.Go(func() error {
		sessions.RunSweeper(gctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		logger.Info("server_start",
			"addr", cfg.Addr,
			"env", cfg.Env,
			"database", storeName(cfg),
			"storage", cfg.StorageDriver,
			"demo_user", cfg.DemoEmail,
			"max_concurrent_jobs", cfg.MaxConcurrentJobs,
			"max_user_jobs", cfg.MaxUserJobs,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server_shutdown")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.DatabasePath == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

// openSessions keeps sessions next to the accounts when they are persisted.
func openSessions(cfg config.Config, st store.Store) session.Sweeper {
	if sq, ok := st.(*store.SQLiteStore); ok {
		return session.NewSQLiteStore(sq.DB(), cfg.SessionTTL)
	}
	return session.NewMemoryStore(cfg.SessionTTL)
}

func storeName(cfg config.Config) string {
	if cfg.DatabasePath == "" {
		return "memory"
	}
	return cfg.DatabasePath
}

// openBlobs returns the configured blob store and, for local disk, the
// directory to serve uploads from.
func openBlobs(ctx context.Context, cfg config.Config) (storage.BlobStore, string, error) {
	switch strings.ToLower(cfg.StorageDriver) {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, "", fmt.Errorf("open s3 storage: %w", err)
		}
		return s3Store, "", nil
	case "local", "":
		local, err := storage.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL)
		if err != nil {
			return nil, "", err
		}
		return local, local.Dir(), nil
	}
	return nil, "", fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// uploadPath is the route uploads are served on, when the public base URL is
// a path on this server.
func uploadPath(dir, baseURL string) string {
	if dir == "" || !strings.HasPrefix(baseURL, "/") {
		return ""
	}
	return strings.TrimRight(baseURL, "/")
}

func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}
