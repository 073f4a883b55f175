package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lunysse/lunysse/internal/config"
	"github.com/lunysse/lunysse/internal/domain/care"
	"github.com/lunysse/lunysse/internal/platform/auth"
	"github.com/lunysse/lunysse/internal/platform/db"
	"github.com/lunysse/lunysse/internal/platform/middleware"
	"github.com/lunysse/lunysse/internal/platform/notification"
	"github.com/lunysse/lunysse/internal/platform/refresh"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "lunysse-server",
		Short:        "Lunysse care portal API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore returns the configured store. The pool is nil for the memory
// driver; otherwise the caller closes it.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (care.Store, *pgxpool.Pool, error) {
	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("connected to database")
		return care.NewPGStore(pool), pool, nil
	}

	store := care.NewMemoryStore()
	if cfg.SeedDemoData {
		pid, err := devPractitioner(cfg)
		if err != nil {
			return nil, nil, err
		}
		care.SeedDemo(store, pid, time.Now())
		logger.Info().Str("practitioner_id", pid.String()).Msg("seeded demo data")
	}
	return store, nil, nil
}

func devPractitioner(cfg *config.Config) (uuid.UUID, error) {
	pid, err := uuid.Parse(cfg.DevPractitioner)
	if err != nil {
		return uuid.Nil, fmt.Errorf("DEV_PRACTITIONER_ID: %w", err)
	}
	return pid, nil
}

func practitionerFlag(cmd *cobra.Command, cfg *config.Config) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("practitioner")
	if raw == "" {
		return devPractitioner(cfg)
	}
	pid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--practitioner: %w", err)
	}
	return pid, nil
}

// app holds the wired components behind the HTTP server.
type app struct {
	echo  *echo.Echo
	views *care.ViewRegistry
}

func newApp(cfg *config.Config, store care.Store, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	board := notification.NewBoard(notification.DefaultCapacity, notification.DefaultTTL)
	lifecycle := care.NewLifecycle(store, board, logger.With().Str("component", "lifecycle").Logger())
	svc := care.NewService(store, lifecycle)
	views := care.NewViewRegistry(store, cfg.RefreshInterval, logger.With().Str("component", "views").Logger(),
		care.WithIdleTimeout(cfg.ViewIdleTimeout),
		care.WithMaxViews(cfg.MaxViews),
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1", middleware.RequestTimeout(cfg.RequestTimeout))
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		pid, err := devPractitioner(cfg)
		if err != nil {
			return nil, err
		}
		apiV1.Use(auth.DevAuthMiddleware(pid))
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	care.NewHandler(svc, views).RegisterRoutes(apiV1)
	notification.NewHandler(board).RegisterRoutes(apiV1.Group("", auth.RequireRole(auth.RolePractitioner)))

	return &app{echo: e, views: views}, nil
}

func (a *app) close() { a.views.Close() }

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: requests without a token act as the demo practitioner")
	}

	ctx := context.Background()
	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	a, err := newApp(cfg, store, pool, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dir", "./migrations", "Path to migrations directory")

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		dir, _ := cmd.Flags().GetString("dir")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrations")
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 0})
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, dir))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			at = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

func dashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print a practitioner's dashboard as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pid, err := practitionerFlag(cmd, cfg)
			if err != nil {
				return err
			}
			search, _ := cmd.Flags().GetString("search")

			logger := newLogger(cfg)
			ctx := cmd.Context()
			store, pool, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			svc := care.NewService(store, care.NewLifecycle(store, nil, logger))
			d, err := svc.Dashboard(ctx, pid, search)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner id (defaults to DEV_PRACTITIONER_ID)")
	cmd.Flags().String("search", "", "Filter upcoming appointments by patient name")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a practitioner's dashboard and log KPIs on every refresh",
		Long: "Polls every REFRESH_INTERVAL. Press Enter to refresh immediately; " +
			"Ctrl-C stops watching.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pid, err := practitionerFlag(cmd, cfg)
			if err != nil {
				return err
			}
			search, _ := cmd.Flags().GetString("search")
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, pool, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			return watch(ctx, cmd.InOrStdin(), store, pid, search, cfg.RefreshInterval, logger)
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner id (defaults to DEV_PRACTITIONER_ID)")
	cmd.Flags().String("search", "", "Filter upcoming appointments by patient name")
	return cmd
}

// watch runs a refresh scheduler until ctx is done. Every line read from in
// triggers a focus refresh.
func watch(ctx context.Context, in io.Reader, store care.Store, pid uuid.UUID, search string, interval time.Duration, logger zerolog.Logger) error {
	sched := refresh.New(
		func(ctx context.Context) (care.Snapshot, error) {
			return care.FetchSnapshot(ctx, store, pid, time.Now)
		},
		func(gen uint64, snap care.Snapshot) {
			d := care.Aggregate(snap, pid, time.Now(), search)
			logger.Info().
				Uint64("generation", gen).
				Int("active_patients", d.ActivePatientCount).
				Int("today", len(d.TodayAppointments)).
				Int("completed_sessions", d.CompletedSessions).
				Int("pending_requests", d.PendingRequestCount).
				Int("upcoming", len(d.UpcomingAppointments)).
				Bool("new_practitioner", d.IsNewPractitioner).
				Msg("dashboard refreshed")
		},
		refresh.WithInterval(interval),
		refresh.WithLogger(logger),
		refresh.WithName("watch:"+pid.String()),
	)

	h := sched.Start(ctx)
	// Each input line is a focus signal. The read is not interruptible, so
	// this goroutine outlives ctx until in reaches EOF or the process
	// exits; Focus after Stop is a no-op.
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			h.Focus()
		}
	}()

	<-ctx.Done()
	h.Stop()
	h.Wait()
	logger.Info().Msg("watch stopped")
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed practitioner token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is required to issue tokens")
			}
			pid, err := practitionerFlag(cmd, cfg)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			tok, err := auth.NewToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, pid, []string{auth.RolePractitioner}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner id (defaults to DEV_PRACTITIONER_ID)")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
