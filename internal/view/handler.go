package view

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/domain/setting"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

// Views groups the mounted views the HTTP API serves.
type Views struct {
	Dashboard *Dashboard
	AuditFeed *Controller[[]*auditlog.Entry]
	Sidebar   *Sidebar
	Settings  *Controller[[]*setting.Setting]
	Profiles  *Profiles
}

type Handler struct {
	views Views
}

func NewHandler(views Views) *Handler {
	return &Handler{views: views}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard", h.Dashboard)
	api.GET("/sidebar", h.Sidebar)
	api.GET("/audit-logs/recent", h.AuditFeed)
	api.GET("/settings", h.Settings)
	api.GET("/patients/:studentID/profile", h.Profile)
}

// Dashboard serves the cached dashboard. refresh=true schedules a refetch
// without waiting for it.
func (h *Handler) Dashboard(c echo.Context) error {
	if c.QueryParam("refresh") == "true" {
		h.views.Dashboard.Refresh()
	}
	return c.JSON(http.StatusOK, h.views.Dashboard.Snapshot())
}

func (h *Handler) Sidebar(c echo.Context) error {
	return c.JSON(http.StatusOK, h.views.Sidebar.Current())
}

func (h *Handler) AuditFeed(c echo.Context) error {
	return c.JSON(http.StatusOK, h.views.AuditFeed.Snapshot())
}

func (h *Handler) Settings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.views.Settings.Snapshot())
}

func (h *Handler) Profile(c echo.Context) error {
	snap, err := h.views.Profiles.Get(c.Request().Context(), c.Param("studentID"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type lifecycle interface {
	Mount(ctx context.Context) error
	Unmount()
}

func (v Views) always() []lifecycle {
	return []lifecycle{v.Dashboard, v.AuditFeed, v.Sidebar, v.Settings}
}

// Mount mounts the always-on views. Profiles mount on demand.
func (v Views) Mount(ctx context.Context) error {
	var mounted []lifecycle
	for _, view := range v.always() {
		if err := view.Mount(ctx); err != nil {
			for _, m := range mounted {
				m.Unmount()
			}
			return err
		}
		mounted = append(mounted, view)
	}
	return nil
}

func (v Views) Unmount() {
	for _, view := range v.always() {
		view.Unmount()
	}
	v.Profiles.Close()
}
