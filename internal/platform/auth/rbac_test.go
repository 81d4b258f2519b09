package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(t *testing.T, has string, required ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if has != "" {
		req = req.WithContext(WithIdentity(context.Background(), Identity{UserID: "u", Role: has}))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(required...)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return rec, h(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runRequireRole(t, RoleNurse, RoleDoctor, RoleNurse)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminPassesEverything(t *testing.T) {
	if _, err := runRequireRole(t, RoleAdmin, RoleDoctor); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	_, err := runRequireRole(t, RoleStaff, RoleDoctor, RoleNurse)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoIdentity(t *testing.T) {
	_, err := runRequireRole(t, "", RoleAdmin)
	expectStatus(t, err, http.StatusForbidden)
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{"admin", "doctor", "nurse", "staff"} {
		if !IsValidRole(r) {
			t.Errorf("expected %q valid", r)
		}
	}
	if IsValidRole("physician") {
		t.Error("expected physician to be invalid")
	}
}
