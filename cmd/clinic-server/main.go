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

	"github.com/cian/agenda/internal/config"
	"github.com/cian/agenda/internal/domain/clinic"
	"github.com/cian/agenda/internal/platform/auth"
	"github.com/cian/agenda/internal/platform/db"
	"github.com/cian/agenda/internal/platform/middleware"
	"github.com/cian/agenda/internal/platform/openapi"
	"github.com/cian/agenda/internal/platform/sandbox"
	"github.com/cian/agenda/internal/platform/store"
	"github.com/cian/agenda/internal/platform/telemetry"
	"github.com/cian/agenda/migrations"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "clinic-server",
		Short:   "Clinic agenda API server",
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (PostgreSQL backend only)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func seedCmd() *cobra.Command {
	seedCfg := sandbox.DefaultSeedConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the configured backend with demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.IsDev())
			ctx := context.Background()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := sandbox.NewSeeder(newAgenda(cfg, st, logger), seedCfg, logger).Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d patient(s), %d professional(s), %d service(s), %d appointment(s) on %s.\n",
				res.Patients, res.Professionals, res.Services, res.Appointments, st.Backend())
			return nil
		},
	}
	cmd.Flags().IntVar(&seedCfg.PatientCount, "patients", seedCfg.PatientCount, "number of patients")
	cmd.Flags().IntVar(&seedCfg.ProfessionalCount, "professionals", seedCfg.ProfessionalCount, "number of professionals")
	cmd.Flags().IntVar(&seedCfg.DaysBack, "days-back", seedCfg.DaysBack, "days of history before today")
	cmd.Flags().IntVar(&seedCfg.DaysAhead, "days-ahead", seedCfg.DaysAhead, "days of bookings after today")
	cmd.Flags().Int64Var(&seedCfg.Seed, "seed", 0, "random seed (0 picks one from the clock)")
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	return store.Open(ctx, store.Options{
		DatabaseURL: cfg.DatabaseURL,
		DataDir:     cfg.DataDir,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	}, logger)
}

func newAgenda(cfg *config.Config, st store.Store, logger zerolog.Logger, opts ...clinic.Option) *clinic.Agenda {
	settings := clinic.Settings{
		BlockMinutes: cfg.BlockMinutes,
		WorkdayStart: cfg.WorkdayStart,
		WorkdayEnd:   cfg.WorkdayEnd,
	}
	return clinic.NewAgenda(clinic.NewStoreRepositories(st), settings, append([]clinic.Option{clinic.WithLogger(logger)}, opts...)...)
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.UsesDatabase() {
		return fmt.Errorf("DATABASE_URL is not set; the file backend needs no migrations")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newServer(cfg *config.Config, st store.Store, logger zerolog.Logger) (*echo.Echo, error) {
	metrics := telemetry.New()
	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	passphrase := auth.NewPassphrase(cfg.AppPassword)
	if !passphrase.Configured() {
		logger.Warn().Msg("APP_PASSWORD is not set; every login will be rejected")
	}

	agenda := newAgenda(cfg, st, logger, clinic.WithObserver(metrics))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "backend": st.Backend()})
	})
	e.GET("/metrics", metrics.Handler())
	if pool := store.Pool(st); pool != nil {
		e.GET("/health/db", db.HealthHandler(pool, logger, store.Tables()...))
		metrics.ObservePool(pool)
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(auth.SessionMiddleware(sessions, auth.AuthSkipper))

	auth.NewHandler(passphrase, sessions, logger).RegisterRoutes(apiV1)
	clinic.NewHandler(agenda).RegisterRoutes(apiV1)

	openapi.NewGenerator(e.Routes, "/api/v1", version, auth.IsPublicPath).RegisterRoutes(e)

	return e, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.IsDev())

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	e, err := newServer(cfg, st, logger)
	if err != nil {
		return err
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", st.Backend()).Msg("starting server")
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
