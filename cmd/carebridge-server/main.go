package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/domain/journal"
	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/domain/triage/memstore"
	"github.com/carebridge/carebridge/internal/domain/triage/pgstore"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/internal/platform/middleware"
	"github.com/carebridge/carebridge/internal/platform/notification"
	"github.com/carebridge/carebridge/internal/platform/tracing"
	"github.com/carebridge/carebridge/migrations"
)

const (
	version     = "0.1.0"
	serviceName = "carebridge-server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Clinical intake and triage API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, newLogger(cfg, os.Stdout))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
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
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
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
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.StorePostgres {
		return fmt.Errorf("migrations need STORE_DRIVER=%s, got %q", config.StorePostgres, cfg.StoreDriver)
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the typology and badge catalog",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a catalog file and print its contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			c, err := triage.LoadCatalog(file)
			if err != nil {
				color.New(color.FgRed, color.Bold).Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
				return err
			}
			printCatalog(cmd.OutOrStdout(), c)
			return nil
		},
	}
	check.Flags().String("file", os.Getenv("CATALOG_FILE"), "Catalog YAML file (empty selects the built-in catalog)")
	cmd.AddCommand(check)

	return cmd
}

func printCatalog(w io.Writer, c *triage.Catalog) {
	heading := color.New(color.FgCyan, color.Bold)
	name := color.New(color.FgGreen)
	dim := color.New(color.Faint)

	heading.Fprintln(w, "Typologies")
	for _, t := range c.Typologies {
		name.Fprintf(w, "  %s", t.Name)
		dim.Fprintf(w, "  (%s, %d questions)\n", t.Aggregation, len(t.Questions))
		bands := make([]string, 0, len(t.Thresholds))
		for _, th := range t.Thresholds {
			bands = append(bands, fmt.Sprintf("%s >= %g", th.Priority, th.MinScore))
		}
		if len(bands) == 0 {
			bands = append(bands, "always schedulable")
		}
		fmt.Fprintf(w, "    %s\n", strings.Join(bands, ", "))
	}

	heading.Fprintln(w, "Badges")
	for _, b := range c.Badges {
		name.Fprintf(w, "  %s", b.Name)
		dim.Fprintf(w, "  %s >= %d\n", b.Criterion.Kind, b.Criterion.Threshold)
	}
	color.New(color.FgGreen, color.Bold).Fprintf(w, "✓ catalog valid: %d typologies, %d badges\n",
		len(c.Typologies), len(c.Badges))
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(out).With().Timestamp().Str("service", "carebridge").Logger()
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// backend is the storage selected by STORE_DRIVER.
type backend struct {
	store   triage.Store
	journal journal.Repository
	inbox   notification.Inbox
	health  echo.HandlerFunc
	close   func()
}

type alwaysUp struct{}

func (alwaysUp) Ping(context.Context) error { return nil }

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		return &backend{
			store:   memstore.New(),
			journal: journal.NewMemoryRepo(),
			inbox:   notification.NewMemoryInbox(),
			health:  db.HealthHandler(alwaysUp{}, nil),
			close:   func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")
	return &backend{
		store:   pgstore.New(pool),
		journal: journal.NewRepoPG(pool),
		inbox:   notification.NewPGInbox(pool),
		health:  db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }),
		close:   pool.Close,
	}, nil
}

// server is the assembled application.
type server struct {
	echo       *echo.Echo
	dispatcher *notification.Dispatcher
	closers    []func() error
}

func newServer(cfg *config.Config, logger zerolog.Logger, be *backend) (*server, error) {
	catalog, err := triage.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &server{}
	channels := []notification.Channel{be.inbox}
	if len(cfg.KafkaBrokers) > 0 {
		kc := notification.NewKafkaChannel(cfg.KafkaBrokers, cfg.KafkaTopic)
		channels = append(channels, kc)
		srv.closers = append(srv.closers, kc.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing notifications to kafka")
	}
	srv.dispatcher = notification.NewDispatcher(notification.NewTemplateEngine(), logger,
		notification.NewMetrics(reg), channels...)

	triageSvc := triage.NewService(be.store, be.journal, catalog, srv.dispatcher, triage.NewMetrics(reg), logger)
	journalSvc := journal.NewService(be.journal, triageSvc, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.NewHTTPMetrics(reg).Middleware())
	if cfg.TracingEnabled {
		e.Use(tracing.HTTPMiddleware(serviceName, otel.GetTracerProvider()))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", be.health)
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	api := e.Group("/api/v1", authMiddleware(cfg, logger))
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rl))

	triage.NewHandler(triageSvc).RegisterRoutes(api)
	journal.NewHandler(journalSvc).RegisterRoutes(api)
	notification.NewHandler(be.inbox).RegisterRoutes(api)

	srv.echo = e
	return srv, nil
}

func authMiddleware(cfg *config.Config, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" && cfg.AuthIssuer == "" {
		logger.Warn().Msg("development auth enabled; identity is taken from X-Dev-Actor and X-Dev-Role")
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

// shutdown stops accepting requests, drains pending notifications and then
// releases the channels.
func (s *server) shutdown(ctx context.Context, logger zerolog.Logger) error {
	var errs []error
	if err := s.echo.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain notifications: %w", err))
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error().Err(err).Msg("unclean shutdown")
		return err
	}
	return nil
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.TracingEnabled {
		stopTracing, err := tracing.Setup(ctx, tracing.Config{
			ServiceName: serviceName,
			Endpoint:    cfg.OTLPEndpoint,
			SampleRatio: cfg.TraceSampling,
		})
		if err != nil {
			return err
		}
		logger.Info().Str("endpoint", cfg.OTLPEndpoint).Float64("ratio", cfg.TraceSampling).Msg("tracing enabled")
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := stopTracing(flushCtx); err != nil {
				logger.Error().Err(err).Msg("flush traces")
			}
		}()
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	srv, err := newServer(cfg, logger, be)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.shutdown(shutdownCtx, logger); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
