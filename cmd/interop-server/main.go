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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/interop/interop/internal/config"
	"github.com/interop/interop/internal/domain/consent"
	"github.com/interop/interop/internal/domain/hl7msg"
	"github.com/interop/interop/internal/domain/mapping"
	"github.com/interop/interop/internal/domain/resource"
	"github.com/interop/interop/internal/domain/system"
	"github.com/interop/interop/internal/domain/transaction"
	"github.com/interop/interop/internal/integration/fhirclient"
	"github.com/interop/interop/internal/integration/hl7proc"
	"github.com/interop/interop/internal/platform/db"
	"github.com/interop/interop/internal/platform/hl7v2"
	"github.com/interop/interop/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "interop-server",
		Short: "Healthcare interoperability engine",
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
		Short: "Start the interoperability API server",
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
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Repositories
	systemRepo := system.NewSystemRepoPG(pool)
	consentRepo := consent.NewConsentRepoPG(pool)
	resourceRepo := resource.NewResourceRepoPG(pool)
	messageRepo := hl7msg.NewMessageRepoPG(pool)
	mappingRepo := mapping.NewMappingRepoPG(pool)
	txnRepo := transaction.NewTransactionRepoPG(pool)

	// Services
	registry := system.NewRegistry(systemRepo, cfg.ProbeTimeout, logger)
	consents := consent.NewLedger(consentRepo, logger)
	store := resource.NewStore(resourceRepo)
	engine := mapping.NewEngine(mappingRepo, logger)
	ledger := transaction.NewLedger(txnRepo, logger)
	registry.RecordProbes(ledger)
	exchange := fhirclient.NewClient(registry, consents, store, ledger, fhirclient.Options{
		Timeout:     cfg.OutboundTimeout,
		MaxInflight: cfg.SystemMaxInflight,
	}, logger)
	sender := &hl7v2.Sender{DialTimeout: cfg.MLLPDialTimeout}
	processor := hl7proc.NewProcessor(messageRepo, registry, ledger, sender, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Routes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	api := e.Group("/api/v1/interop")
	system.NewHandler(registry).RegisterRoutes(api)
	consent.NewHandler(consents).RegisterRoutes(api)
	resource.NewHandler(store).RegisterRoutes(api)
	mapping.NewHandler(engine).RegisterRoutes(api)
	transaction.NewHandler(ledger).RegisterRoutes(api)
	fhirclient.NewHandler(exchange, store).RegisterRoutes(api)
	hl7proc.NewHandler(processor).RegisterRoutes(api)
	api.GET("/stats", statsHandler(registry, processor, ledger, store))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// statsHandler aggregates counters across the engine for the operations
// dashboard.
func statsHandler(registry *system.Registry, processor *hl7proc.Processor,
	ledger *transaction.Ledger, store *resource.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		systems, err := registry.CountByStatus(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		messages, err := processor.CountByStatus(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		txnStats, err := ledger.Stats(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		resources, err := store.Count(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"systems_by_status":      systems,
			"messages_by_status":     messages,
			"transactions_by_status": txnStats.ByStatus,
			"failed_last_7d":         txnStats.FailedLast7d,
			"avg_duration_ms":        txnStats.AvgDurationMs,
			"stored_resources":       resources,
		})
	}
}
