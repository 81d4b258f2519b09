package reporting

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	g.GET("", h.ListMeasures)
	g.GET("/:id", h.Run)
	g.GET("/:id/export.csv", h.ExportCSV)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) report(c echo.Context) (*Report, error) {
	ctx := c.Request().Context()
	r, err := ParseRange(c.QueryParam("from"), c.QueryParam("to"), h.svc.Today(ctx))
	if err != nil {
		return nil, err
	}
	return h.svc.Run(ctx, c.Param("id"), r)
}

func (h *Handler) Run(c echo.Context) error {
	rep, err := h.report(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, rep)
}

// ExportCSV streams the report as a CSV attachment.
func (h *Handler) ExportCSV(c echo.Context) error {
	rep, err := h.report(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", FileName(rep)))
	c.Response().WriteHeader(http.StatusOK)
	return WriteCSV(c.Response(), rep)
}
