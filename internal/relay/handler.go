package relay

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
)

const (
	// HeaderForwardToken carries the clinic server's shared token.
	HeaderForwardToken = "X-Relay-Token"
	// HeaderClientIP carries the address of the person logging in, as seen
	// by the clinic server. It is ignored without a valid forward token.
	HeaderClientIP = "X-Relay-Client-IP"
)

// TokenVerifier is the upstream check behind POST /verify.
type TokenVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (*Result, error)
}

type Handler struct {
	verifier     TokenVerifier
	limiter      Limiter
	limit        int
	metrics      *metrics.RelayMetrics
	gatherer     prometheus.Gatherer
	logger       zerolog.Logger
	forwardToken string
}

func NewHandler(verifier TokenVerifier, limiter Limiter, limit int, m *metrics.RelayMetrics, gatherer prometheus.Gatherer, logger zerolog.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		verifier: verifier,
		limiter:  limiter,
		limit:    limit,
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
	}
}

// WithForwardToken lets a caller presenting token name the client IP the
// quota and upstream check apply to.
func (h *Handler) WithForwardToken(token string) *Handler {
	h.forwardToken = token
	return h
}

// RegisterRoutes mounts the relay endpoints. Without an explicit extractor
// the caller is the TCP peer, so X-Forwarded-For cannot pick a quota bucket.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	if e.IPExtractor == nil {
		e.IPExtractor = echo.ExtractIPDirect()
	}
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	e.POST("/verify", h.Verify, h.Quota)
}

// IPExtractor trusts X-Forwarded-For only from the given CIDRs. With none
// the TCP peer address is used.
func IPExtractor(trusted []string) (echo.IPExtractor, error) {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trusted {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

// clientIP is the address a request is accounted to: the forwarded client
// for an authenticated clinic server, the peer otherwise.
func (h *Handler) clientIP(c echo.Context) string {
	if h.forwardToken == "" {
		return c.RealIP()
	}
	req := c.Request()
	got := req.Header.Get(HeaderForwardToken)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.forwardToken)) != 1 {
		return c.RealIP()
	}
	if ip := net.ParseIP(strings.TrimSpace(req.Header.Get(HeaderClientIP))); ip != nil {
		return ip.String()
	}
	return c.RealIP()
}

// Quota rejects callers that exceeded their per-window request count. A
// limiter failure lets the request through.
func (h *Handler) Quota(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		d, err := h.limiter.Allow(c.Request().Context(), h.clientIP(c))
		if err != nil {
			h.logger.Error().Err(err).Msg("quota check failed")
			return next(c)
		}
		c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limit))
		c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			h.metrics.ObserveQuotaRejection()
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
		}
		return next(c)
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	res, err := h.verifier.Verify(c.Request().Context(), req.Token, h.clientIP(c))
	if err != nil {
		h.logger.Error().Err(err).Msg("verification failed")
		return echo.NewHTTPError(http.StatusBadGateway, "verification unavailable").SetInternal(err)
	}
	return c.JSON(http.StatusOK, res)
}
