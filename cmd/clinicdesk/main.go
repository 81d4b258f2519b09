package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinicdesk/internal/config"
	"github.com/clinicdesk/clinicdesk/internal/domain/appointment"
	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/domain/encounter"
	"github.com/clinicdesk/clinicdesk/internal/domain/inventory"
	"github.com/clinicdesk/clinicdesk/internal/domain/patient"
	"github.com/clinicdesk/clinicdesk/internal/domain/setting"
	"github.com/clinicdesk/clinicdesk/internal/domain/user"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/backup"
	"github.com/clinicdesk/clinicdesk/internal/platform/blobstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
	"github.com/clinicdesk/clinicdesk/internal/platform/reporting"
	"github.com/clinicdesk/clinicdesk/internal/platform/websocket"
	"github.com/clinicdesk/clinicdesk/internal/prefs"
	"github.com/clinicdesk/clinicdesk/internal/relay"
	"github.com/clinicdesk/clinicdesk/internal/view"
	"github.com/clinicdesk/clinicdesk/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicdesk",
		Short: "Clinic front desk and EHR server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(backupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
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
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, _ *config.Config) error {
				n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, _ *config.Config) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, s := range statuses {
					applied := "pending"
					if s.AppliedAt != nil {
						applied = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%03d\t%s\t%s\n", s.Version, s.Name, applied)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	var in user.CreateInput
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, _ *config.Config) error {
				bus := events.NewBus(zerolog.Nop())
				users := user.NewService(user.NewRepo(pool), db.NewTransactor(pool),
					auditlog.NewService(auditlog.NewRepo(pool)), bus)
				u, err := users.Create(ctx, in)
				if err != nil {
					return err
				}
				fmt.Printf("created %s (%s) as %s\n", u.Email, u.ID, u.Role)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&in.Email, "email", "", "login email")
	createCmd.Flags().StringVar(&in.Name, "name", "", "full name")
	createCmd.Flags().StringVar(&in.Role, "role", auth.RoleStaff, "admin, doctor, nurse or staff")
	createCmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("password")

	cmd.AddCommand(createCmd)
	return cmd
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Dump every table to the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
				logger := newLogger(cfg.Env)
				blobs, err := blobstore.NewFSStore(cfg.BackupDir)
				if err != nil {
					return err
				}
				tx := db.NewTransactor(pool)
				bus := events.NewBus(logger)
				audit := auditlog.NewService(auditlog.NewRepo(pool))

				m, err := backup.NewService(pool, tx, blobs, setting.NewRepo(pool), audit, bus, logger).Run(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("backup %s written to %s (%d collections)\n", m.ID, cfg.BackupDir, len(m.Files))
				return nil
			})
		},
	}
}

// withPool loads config, opens the database for a one-shot command and
// closes it afterwards.
func withPool(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, cfg)
}

func newRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Events, metrics and push
	bus := events.NewBus(logger)
	reg := newRegistry()
	eventMetrics := metrics.NewEventMetrics(reg)
	defer eventMetrics.Attach(bus)()
	hub := websocket.NewHub(logger)
	defer hub.Attach(bus)()

	// Local preference cache
	var kv prefs.KV = prefs.NewMemoryKV()
	if cfg.RedisURL != "" {
		client, err := newRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure redis")
		}
		defer client.Close()
		kv = prefs.NewRedisKV(client)
		logger.Info().Msg("preference cache backed by redis")
	}

	// Domain services
	audit := auditlog.NewService(auditlog.NewRepo(pool))
	settingRepo := setting.NewRepo(pool)
	settings := setting.NewService(settingRepo, tx, audit, bus).WithDefaultTimezone(cfg.ClinicTimezone)
	store := prefs.NewStore(kv, setting.NewRemote(settings), logger)
	users := user.NewService(user.NewRepo(pool), tx, audit, bus)
	patients := patient.NewService(patient.NewRepo(pool), patient.NewStudentRepo(pool), tx, audit, bus)
	appointments := appointment.NewService(appointment.NewRepo(pool), patients, tx, audit, bus)
	encounters := encounter.NewService(encounter.NewRepo(pool), patients, tx, audit, bus, store).WithLogger(logger)
	stock := inventory.NewService(inventory.NewRepo(pool), tx, audit, bus)
	reports := reporting.NewService(pool, settings)

	blobs, err := blobstore.NewFSStore(cfg.BackupDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open backup directory")
	}
	backups := backup.NewService(pool, tx, blobs, settingRepo, audit, bus, logger)

	// Views
	views := view.Views{
		Dashboard: view.NewDashboard(bus, view.DashboardSources{
			Appointments: appointments,
			Encounters:   encounters,
			Inventory:    stock,
			Patients:     patients,
			Timezone:     settings,
		}, store, cfg.DashboardPollInterval, eventMetrics, logger),
		AuditFeed: view.NewAuditFeed(bus, audit, eventMetrics, logger),
		Sidebar:   view.NewSidebar(bus, settings, hub, cfg.DashboardPollInterval, eventMetrics, logger),
		Settings:  view.NewSettings(bus, settings, store, eventMetrics, logger),
		Profiles: view.NewProfiles(bus, view.ProfileSources{
			Patients:     patients,
			Encounters:   encounters,
			Appointments: appointments,
		}, view.DefaultProfileCapacity, eventMetrics, logger),
	}
	if err := views.Mount(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to mount views")
	}
	defer views.Unmount()

	// Optional captcha relay in front of login
	var captcha user.CaptchaVerifier
	if cfg.RelayURL != "" {
		captcha = relay.NewClient(cfg.RelayURL, cfg.RelayForwardToken, 10*time.Second)
		logger.Info().Str("relay", cfg.RelayURL).Msg("login requires captcha verification")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Client IPs key the API rate limit and the relay quota, so forwarded
	// headers are only believed from configured proxies.
	if e.IPExtractor, err = relay.IPExtractor(cfg.TrustedProxies); err != nil {
		logger.Fatal().Err(err).Msg("invalid TRUSTED_PROXIES")
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	issuer := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.SessionTTL)
	e.Use(auth.JWTMiddleware(issuer, auth.AuthSkipper))

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	user.NewHandler(users, issuer, captcha, store).RegisterRoutes(apiV1)
	patient.NewHandler(patients).RegisterRoutes(apiV1)
	appointment.NewHandler(appointments).RegisterRoutes(apiV1)
	encounter.NewHandler(encounters).RegisterRoutes(apiV1)
	inventory.NewHandler(stock).RegisterRoutes(apiV1)
	auditlog.NewHandler(audit).RegisterRoutes(apiV1)
	setting.NewHandler(settings, store).RegisterRoutes(apiV1)
	view.NewHandler(views).RegisterRoutes(apiV1)
	reporting.NewHandler(reports).RegisterRoutes(apiV1)
	backup.NewHandler(backups).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	return serve(ctx, e, ":"+cfg.Port, logger)
}

// serve runs e until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, e *echo.Echo, addr string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
