package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/prefs"
)

type fakeCaptcha struct {
	pass   bool
	err    error
	tokens []string
}

func (f *fakeCaptcha) Verify(_ context.Context, token, _ string) (bool, error) {
	f.tokens = append(f.tokens, token)
	return f.pass, f.err
}

func seedUser(t *testing.T, svc *Service) *User {
	t.Helper()
	u, err := svc.Create(context.Background(), CreateInput{
		Email: "dr.juan@clinic.test", Name: "Juan Cruz", Role: "doctor", Password: "longenough",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func postLogin(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.Login(e.NewContext(req, rec))
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError with %d, got %v", code, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestHandler_LoginIssuesToken(t *testing.T) {
	svc, _, _, _ := newTestService()
	seedUser(t, svc)
	issuer := auth.NewIssuer([]byte("k"), time.Hour)
	h := NewHandler(svc, issuer, nil, nil)

	rec, err := postLogin(t, h, `{"email":"dr.juan@clinic.test","password":"longenough"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := issuer.Parse(resp.Token)
	if err != nil {
		t.Fatalf("token does not parse: %v", err)
	}
	if claims.DisplayName != "Dr. Juan Cruz" || claims.Role != "doctor" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("response must not leak the password hash")
	}
}

func TestHandler_LoginWrongPassword(t *testing.T) {
	svc, _, _, _ := newTestService()
	seedUser(t, svc)
	h := NewHandler(svc, auth.NewIssuer([]byte("k"), time.Hour), nil, nil)

	_, err := postLogin(t, h, `{"email":"dr.juan@clinic.test","password":"nope-nope"}`)
	expectCode(t, err, http.StatusUnauthorized)
}

func TestHandler_LoginRequiresCaptchaWhenConfigured(t *testing.T) {
	svc, _, _, _ := newTestService()
	seedUser(t, svc)
	captcha := &fakeCaptcha{pass: true}
	h := NewHandler(svc, auth.NewIssuer([]byte("k"), time.Hour), captcha, nil)

	_, err := postLogin(t, h, `{"email":"dr.juan@clinic.test","password":"longenough"}`)
	expectCode(t, err, http.StatusBadRequest)

	if _, err := postLogin(t, h, `{"email":"dr.juan@clinic.test","password":"longenough","captcha_token":"tok"}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(captcha.tokens) != 1 || captcha.tokens[0] != "tok" {
		t.Errorf("expected token forwarded, got %v", captcha.tokens)
	}

	captcha.pass = false
	_, err = postLogin(t, h, `{"email":"dr.juan@clinic.test","password":"longenough","captcha_token":"tok"}`)
	expectCode(t, err, http.StatusUnauthorized)

	captcha.err = errors.New("relay down")
	_, err = postLogin(t, h, `{"email":"dr.juan@clinic.test","password":"longenough","captcha_token":"tok"}`)
	expectCode(t, err, http.StatusServiceUnavailable)
}

type quotaErr struct{}

func (quotaErr) Error() string          { return "relay: quota exceeded" }
func (quotaErr) Unwrap() error          { return apperr.ErrRateLimited }
func (quotaErr) RetryAfterSeconds() int { return 42 }

func TestHandler_LoginCaptchaQuotaIsTooManyRequests(t *testing.T) {
	svc, _, _, _ := newTestService()
	seedUser(t, svc)
	captcha := &fakeCaptcha{err: quotaErr{}}
	h := NewHandler(svc, auth.NewIssuer([]byte("k"), time.Hour), captcha, nil)

	rec, err := postLogin(t, h, `{"email":"dr.juan@clinic.test","password":"longenough","captcha_token":"tok"}`)
	expectCode(t, err, http.StatusTooManyRequests)
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Errorf("expected Retry-After 42, got %q", got)
	}
}

func TestHandler_MeFallsBackToCachedSession(t *testing.T) {
	svc, repo, _, _ := newTestService()
	u := seedUser(t, svc)
	sessions := prefs.NewStore(prefs.NewMemoryKV(), nil, zerolog.Nop())
	h := NewHandler(svc, auth.NewIssuer([]byte("k"), time.Hour), nil, sessions)

	call := func() (*httptest.ResponseRecorder, error) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), Identity(u)))
		rec := httptest.NewRecorder()
		return rec, h.Me(e.NewContext(req, rec))
	}

	if _, err := call(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo.fail = errors.New("connection refused")
	rec, err := call()
	if err != nil {
		t.Fatalf("expected cached session, got %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Dr. Juan Cruz") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
