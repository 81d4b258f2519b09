package setting

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/prefs"
)

func newTestHandler() (*Handler, *mockRepo) {
	svc, repo, _, _ := newTestService()
	store := prefs.NewStore(prefs.NewMemoryKV(), NewRemote(svc), zerolog.New(io.Discard))
	return NewHandler(svc, store), repo
}

func call(t *testing.T, fn echo.HandlerFunc, method, param, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(method, "/", strings.NewReader(body)).WithContext(adminCtx())
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("key")
	c.SetParamValues(param)
	return rec, fn(c)
}

func TestHandler_SettingRoundTripWithDatabaseDown(t *testing.T) {
	h, repo := newTestHandler()
	repo.down = true

	rec, err := call(t, h.Put, http.MethodPut, KeyClinicName, `"Campus Clinic"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"synced":false`) {
		t.Fatalf("expected 202 unsynced, got %d %s", rec.Code, rec.Body.String())
	}

	rec, err = call(t, h.Get, http.MethodGet, KeyClinicName, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"value":"Campus Clinic"`) || !strings.Contains(rec.Body.String(), `"source":"local"`) {
		t.Errorf("expected cached value, got %s", rec.Body.String())
	}
}

func TestHandler_PutSyncedThenRemoteWins(t *testing.T) {
	h, repo := newTestHandler()

	rec, err := call(t, h.Put, http.MethodPut, KeyTimezone, `"UTC"`)
	if err != nil || rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, err)
	}

	// another front desk changes it directly
	_, _ = repo.Put(adminCtx(), KeyTimezone, []byte(`"Asia/Tokyo"`), "Admin Rosa")

	rec, _ = call(t, h.Get, http.MethodGet, KeyTimezone, "")
	if !strings.Contains(rec.Body.String(), "Asia/Tokyo") || !strings.Contains(rec.Body.String(), `"source":"remote"`) {
		t.Errorf("expected remote value to win, got %s", rec.Body.String())
	}
}

func TestHandler_PutRejectsInvalidBeforeCaching(t *testing.T) {
	h, _ := newTestHandler()

	_, err := call(t, h.Put, http.MethodPut, KeyTimezone, `"Nowhere/Town"`)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	_, err = call(t, h.Get, http.MethodGet, KeyTimezone, "")
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected nothing cached, got %v", err)
	}
}

func TestHandler_Drafts(t *testing.T) {
	h, _ := newTestHandler()
	form := func(fn echo.HandlerFunc, method, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/", strings.NewReader(body)).WithContext(adminCtx())
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("form")
		c.SetParamValues("encounter")
		if err := fn(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return rec
	}

	if rec := form(h.GetDraft, http.MethodGet, ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected no draft, got %d", rec.Code)
	}
	form(h.SaveDraft, http.MethodPut, `{"chief_complaint":"Cough"}`)
	if rec := form(h.GetDraft, http.MethodGet, ""); !strings.Contains(rec.Body.String(), "Cough") {
		t.Errorf("expected saved draft, got %s", rec.Body.String())
	}
	form(h.ClearDraft, http.MethodDelete, "")
	if rec := form(h.GetDraft, http.MethodGet, ""); rec.Code != http.StatusNoContent {
		t.Errorf("expected draft cleared, got %d", rec.Code)
	}
}
