package setting

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/prefs"
)

const maxValueBytes = 64 << 10

type Handler struct {
	svc   *Service
	store *prefs.Store
}

func NewHandler(svc *Service, store *prefs.Store) *Handler {
	return &Handler{svc: svc, store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/settings/:key", h.Get)
	api.GET("/drafts/:form", h.GetDraft)
	api.PUT("/drafts/:form", h.SaveDraft)
	api.DELETE("/drafts/:form", h.ClearDraft)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/settings/:key", h.Put)
}

type settingResponse struct {
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Source prefs.Source    `json:"source"`
}

// Get loads through the preference store so a cached value is served
// while the database is unreachable.
func (h *Handler) Get(c echo.Context) error {
	key := c.Param("key")
	if err := validateKey(key); err != nil {
		return apperr.HTTP(err)
	}
	var v json.RawMessage
	src, err := h.store.Load(c.Request().Context(), key, &v)
	if err != nil {
		if errors.Is(err, prefs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "setting not found")
		}
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, settingResponse{Key: key, Value: v, Source: src})
}

func readJSON(c echo.Context) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxValueBytes+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body) > maxValueBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "value too large")
	}
	if !json.Valid(body) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "body must be JSON")
	}
	return json.RawMessage(body), nil
}

// Put saves the raw JSON body. When the database write fails the value is
// kept locally and the response is 202 with synced=false.
func (h *Handler) Put(c echo.Context) error {
	key := c.Param("key")
	if err := validateKey(key); err != nil {
		return apperr.HTTP(err)
	}
	value, err := readJSON(c)
	if err != nil {
		return err
	}
	if err := h.svc.Validate(key, value); err != nil {
		return apperr.HTTP(err)
	}

	err = h.store.Save(c.Request().Context(), key, value)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]any{"key": key, "value": value, "synced": true})
	case errors.Is(err, prefs.ErrNotSynced):
		return c.JSON(http.StatusAccepted, map[string]any{"key": key, "value": value, "synced": false})
	default:
		return apperr.HTTP(err)
	}
}

func (h *Handler) GetDraft(c echo.Context) error {
	raw, err := h.store.LoadDraftRaw(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), c.Param("form"))
	if errors.Is(err, prefs.ErrNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func (h *Handler) SaveDraft(c echo.Context) error {
	value, err := readJSON(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.store.SaveDraft(ctx, auth.UserIDFromContext(ctx), c.Param("form"), value); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ClearDraft(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.store.ClearDraft(ctx, auth.UserIDFromContext(ctx), c.Param("form")); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
