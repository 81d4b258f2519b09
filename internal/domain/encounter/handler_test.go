package encounter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHandler_Create(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"student_id":"S200","chief_complaint":"Headache","vitals":{"temperature":37.4,"blood_pressure":"110/70"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", strings.NewReader(body)).WithContext(nurseCtx())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"clinician":"Nr. Joy"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CreateRejectsBadVitals(t *testing.T) {
	h := NewHandler(newFixture().svc)
	body := `{"student_id":"S200","chief_complaint":"Headache","vitals":{"blood_pressure":"high"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", strings.NewReader(body)).WithContext(nurseCtx())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := h.Create(echo.New().NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListBadDate(t *testing.T) {
	h := NewHandler(newFixture().svc)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/encounters?from=yesterday", nil)
	err := h.List(echo.New().NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetInvalidID(t *testing.T) {
	h := NewHandler(newFixture().svc)
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if he, ok := h.Get(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Error("expected 400 for malformed id")
	}
}
