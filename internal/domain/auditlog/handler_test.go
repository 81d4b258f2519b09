package auditlog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog/auditlogtest"
)

func TestHandler_Search(t *testing.T) {
	svc := auditlog.NewService(auditlogtest.NewMemoryRepo())
	_, _ = svc.Record(context.Background(), "admin", auditlog.ActionUserCreated, "created nurse.cruz@clinic.test")
	h := auditlog.NewHandler(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?action=user.created", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected total 1, got %d", body.Total)
	}
}

func TestHandler_SearchBadDate(t *testing.T) {
	h := auditlog.NewHandler(auditlog.NewService(auditlogtest.NewMemoryRepo()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?from=yesterday", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Search(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
