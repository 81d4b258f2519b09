package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinicdesk/internal/config"
	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
	"github.com/clinicdesk/clinicdesk/internal/platform/middleware"
	"github.com/clinicdesk/clinicdesk/internal/relay"
)

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Start the captcha verification relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay()
		},
	}
}

func runRelay() error {
	logger := newLogger(os.Getenv("ENV")).With().Str("service", "relay").Logger()

	cfg, err := config.LoadRelay()
	if err != nil {
		logger.Fatal().Err(err).Msg("refusing to start relay")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter, closeLimiter, err := newRelayLimiter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure quota")
	}
	defer closeLimiter()

	reg := newRegistry()
	relayMetrics := metrics.NewRelayMetrics(reg)
	verifier := relay.NewVerifier(cfg.Secret, cfg.VerifyURL, cfg.UpstreamTimeout, relayMetrics, logger)

	extractIP, err := relay.IPExtractor(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid RELAY_TRUSTED_PROXIES")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = extractIP
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type"},
	}))

	relay.NewHandler(verifier, limiter, cfg.QuotaPerMinute, relayMetrics, reg, logger).
		WithForwardToken(cfg.ForwardToken).
		RegisterRoutes(e)

	return serve(ctx, e, ":"+cfg.Port, logger)
}

func newRelayLimiter(cfg *config.RelayConfig, logger zerolog.Logger) (relay.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		l := relay.NewMemoryLimiter(cfg.QuotaPerMinute, relay.DefaultWindow)
		return l, func() { l.Close() }, nil
	}
	client, err := newRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("relay quota backed by redis")
	return relay.NewRedisLimiter(client, cfg.QuotaPerMinute, relay.DefaultWindow), func() { client.Close() }, nil
}
