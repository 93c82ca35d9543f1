package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRole(role string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	ctx := context.WithValue(req.Context(), UserRoleKey, role)
	c.SetRequest(req.WithContext(ctx))
	return c, rec
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := requestWithRole("LAB")
	h := RequireRole("LAB", "PATHOLOGY")(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminAlwaysAllowed(t *testing.T) {
	c, _ := requestWithRole("ADMIN")
	h := RequireRole("LAB")(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	c, _ := requestWithRole("XRAY")
	h := RequireRole("LAB")(okHandler)
	err := h(c)
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_NoRole(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole("LAB")(okHandler)
	if err := h(c); err == nil {
		t.Fatal("expected error for missing role")
	}
}

func TestRoleFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserRoleKey, "DOCTOR")
	if got := RoleFromContext(ctx); got != "DOCTOR" {
		t.Errorf("expected DOCTOR, got %s", got)
	}
	if got := RoleFromContext(context.Background()); got != "" {
		t.Errorf("expected empty role, got %s", got)
	}
}
