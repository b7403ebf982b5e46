package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docmanager/backend/internal/api"
	"github.com/docmanager/backend/internal/audit"
	"github.com/docmanager/backend/internal/auth"
	"github.com/docmanager/backend/internal/config"
	"github.com/docmanager/backend/internal/metrics"
	"github.com/docmanager/backend/internal/records"
	"github.com/docmanager/backend/internal/revision"
	"github.com/docmanager/backend/internal/session"
	"github.com/docmanager/backend/internal/storage"
	"github.com/docmanager/backend/internal/upload"
	"github.com/docmanager/backend/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, path)
		},
	}
}

func runServer(ctx context.Context, cfg *config.AppConfig, configPath string) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	db, err := records.Open(cfg.Storage.DatabasePath, records.Options{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	seed, err := records.LoadTaxonomyFile(cfg.Storage.TaxonomyFile)
	if err != nil {
		return err
	}
	if err := db.SeedTaxonomy(ctx, seed); err != nil {
		return err
	}
	if accounts, err := db.ListAccounts(ctx); err == nil && len(accounts) == 0 {
		log.Warn().Msg("no accounts exist; create an administrator with: docmanager user add --admin")
	}

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir(), cfg.Storage.TempDirectory)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	auditLog := audit.NewLogger(db, log.Logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	docMetrics := metrics.New(registry)

	resolver := revision.NewResolver(fileStore, auditLog,
		revision.WithObserver(docMetrics),
		revision.WithArchiveSuffix(cfg.Storage.ArchiveSuffix),
	)

	secret := cfg.Security.TokenSecret
	if secret == "" {
		secret, err = auth.RandomSecret()
		if err != nil {
			return err
		}
		log.Warn().Msg("Security.TokenSecret is not set; using a random secret, sessions end on restart")
	}
	tokens, err := auth.NewTokenIssuer(secret, cfg.TokenTTL())
	if err != nil {
		return err
	}

	sessionMgr := session.NewManager(cfg.SessionTimeout())

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	uploadMgr := upload.NewManager(jobCtx, fileStore, resolver, docMetrics,
		upload.WithMaxFileSize(cfg.MaxFileSize()),
	)

	go cleanupLoop(ctx, cfg, sessionMgr, uploadMgr)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e)
	configureMiddleware(e, cfg)

	handlers := api.NewHandlers(&api.Dependencies{
		Store:       fileStore,
		Resolver:    resolver,
		UploadMgr:   uploadMgr,
		Accounts:    db,
		Taxonomy:    db,
		AuditReader: db,
		Audit:       auditLog,
		Sessions:    sessionMgr,
		Tokens:      tokens,
		Metrics:     docMetrics,
		Registration: api.RegistrationPolicy{
			Allow:    cfg.Security.AllowRegistration,
			CodeHash: cfg.Security.RegistrationCodeHash,
		},
		SecureCookies: cfg.Security.SecureCookies,
		Version:       Version,
	})
	api.RegisterRoutes(e, handlers)

	if cfg.Advanced.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Warn().Err(err).Msg("failed to register static routes")
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, embeddedMode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	cancelJobs()
	uploadMgr.Wait()
	return nil
}

func configureMiddleware(e *echo.Echo, cfg *config.AppConfig) {
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/metrics" || strings.HasSuffix(path, "/stream")
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = log.Error().Err(v.Error)
			}
			event.Str("component", "http").
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.Contains(path, "/upload") ||
				strings.Contains(path, "/download") ||
				c.Request().Header.Get("Accept") == "text/event-stream"
		},
		ErrorMessage: "Request timeout",
	}))

	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return c.Request().Header.Get("Accept") == "text/event-stream" ||
					strings.HasSuffix(c.Request().URL.Path, "/stream")
			},
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			AllowCredentials: origins[0] != "*",
		}))
	}
}

// cleanupLoop expires idle login sessions and finished upload jobs until ctx ends.
func cleanupLoop(ctx context.Context, cfg *config.AppConfig, sessions *session.Manager, uploads *upload.Manager) {
	ticker := time.NewTicker(cfg.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.CleanupOldSessions(cfg.SessionTimeout())
			uploads.CleanupOldJobs(cfg.UploadJobMaxAge())
		}
	}
}

func printBanner(cfg *config.AppConfig, configPath string, embeddedMode bool) {
	mode := "API only"
	if embeddedMode {
		mode = "Embedded frontend"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Engineering Document Manager                    ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Uploads:   %-46s║\n", cfg.GetUploadDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
