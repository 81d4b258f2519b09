package user

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

// CaptchaVerifier checks a bot-challenge token before login.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// SessionCache remembers the last profile served to a user.
type SessionCache interface {
	CacheSession(ctx context.Context, userID string, v any) error
	CachedSession(ctx context.Context, userID string, dst any) error
}

type Handler struct {
	svc      *Service
	issuer   *auth.Issuer
	captcha  CaptchaVerifier
	sessions SessionCache
}

// NewHandler builds the auth and user routes. captcha and sessions are
// optional.
func NewHandler(svc *Service, issuer *auth.Issuer, captcha CaptchaVerifier, sessions SessionCache) *Handler {
	return &Handler{svc: svc, issuer: issuer, captcha: captcha, sessions: sessions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.GET("/auth/me", h.Me)
	api.GET("/users", h.List)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/users", h.Create)
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	ctx := c.Request().Context()

	if h.captcha != nil {
		if req.CaptchaToken == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "captcha_token is required")
		}
		ok, err := h.captcha.Verify(ctx, req.CaptchaToken, c.RealIP())
		if errors.Is(err, apperr.ErrRateLimited) {
			var wait interface{ RetryAfterSeconds() int }
			if errors.As(err, &wait) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(wait.RetryAfterSeconds()))
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts").SetInternal(err)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "captcha verification unavailable").SetInternal(err)
		}
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "captcha verification failed")
		}
	}

	u, err := h.svc.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if err != nil {
		return apperr.HTTP(err)
	}

	token, exp, err := h.issuer.Issue(Identity(u))
	if err != nil {
		return apperr.HTTP(err)
	}
	if h.sessions != nil {
		_ = h.sessions.CacheSession(ctx, u.ID.String(), u)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: u})
}

// Me returns the caller's profile. When the database cannot be read the
// cached copy from the last successful call is served instead.
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	u, err := h.svc.Get(ctx, id)
	if err == nil {
		if h.sessions != nil {
			_ = h.sessions.CacheSession(ctx, id.String(), u)
		}
		return c.JSON(http.StatusOK, u)
	}
	if h.sessions != nil && !errors.Is(err, apperr.ErrNotFound) {
		var cached User
		if cerr := h.sessions.CachedSession(ctx, id.String(), &cached); cerr == nil {
			return c.JSON(http.StatusOK, &cached)
		}
	}
	return apperr.HTTP(err)
}

func (h *Handler) List(c echo.Context) error {
	users, err := h.svc.List(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, users)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, u)
}
