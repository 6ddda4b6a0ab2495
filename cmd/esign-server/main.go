package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/config"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/domain/documents"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/domain/esign"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/domain/identity"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/auth"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/blobstore"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/db"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/middleware"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "esign-server",
		Short: "E-signature request API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the e-signature API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("unsafe configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "4M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Staff API group with JWT auth
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthHMACKey),
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Public signing gateway: no auth, tight per-token and per-IP limits.
	public := e.Group("/sign")
	gatewayCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.GatewayLimitRPS,
		BurstSize:         cfg.GatewayLimitBurst,
	}
	if gatewayCfg.RequestsPerSecond <= 0 {
		gatewayCfg = middleware.GatewayRateLimitConfig()
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		window := middleware.RedisRateLimitConfig{
			RequestsPerWindow: cfg.GatewayLimitBurst,
			Window:            time.Minute,
			KeyPrefix:         "esign:ratelimit",
		}
		public.Use(middleware.RedisRateLimitWithKey(rdb, window, middleware.KeyByPathToken, logger))
		public.Use(middleware.RedisRateLimitWithKey(rdb, window, middleware.KeyByIP, logger))
		logger.Info().Msg("gateway rate limiting backed by redis")
	} else {
		public.Use(middleware.RateLimitWithKey(gatewayCfg, middleware.KeyByPathToken))
		public.Use(middleware.RateLimitWithKey(gatewayCfg, middleware.KeyByIP))
	}

	// Collaborators
	blobs := blobstore.NewInMemoryStore()
	docRepo := documents.NewRepoPG(pool)
	docSvc := documents.NewService(docRepo, blobs, logger)
	docResolver := documents.NewResolver(docSvc)

	identRepo := identity.NewRepoPG(pool)
	identSvc := identity.NewService(identRepo, logger)

	templates := notification.NewTemplateEngine()
	// TODO: swap the mock senders for the SES/Twilio senders once the
	// provider credentials land in config.
	mgr := notification.NewNotificationManager(&notification.MockEmailSender{}, &notification.MockSMSSender{}, templates)
	dispatcher := notification.NewDispatcher(mgr, logger)
	defer dispatcher.Close()

	// Signature request domain
	requestRepo := esign.NewRequestRepoPG(pool)
	eventRepo := esign.NewEventRepoPG(pool)
	artifactRepo := esign.NewArtifactRepoPG(pool)
	txRunner := esign.NewPGTxRunner(pool)

	esignSvc := esign.NewService(
		requestRepo, eventRepo, artifactRepo, txRunner,
		docResolver, identSvc, dispatcher, logger,
		esign.WithLinkBase(cfg.PublicBaseURL),
	)
	esignHandler := esign.NewHandler(esignSvc)
	esignHandler.RegisterRoutes(apiV1, public)

	// Periodic expiry sweep. Enforcement is lazy at access time; this keeps
	// dashboards and reports from showing stale pending requests.
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := esignSvc.SweepExpired(sweepCtx, 500); err != nil {
					logger.Warn().Err(err).Msg("expiry sweep failed")
				} else if n > 0 {
					logger.Info().Int("expired", n).Msg("expiry sweep")
				}
			}
		}
	}()

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")

		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
