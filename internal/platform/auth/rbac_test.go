package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(roles []string, required ...string) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u-1", roles, ""))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return RequireRole(required...)(okHandler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := runWithRoles([]string{"radiologist"}, "coordinator", "radiologist"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	expectStatus(t, runWithRoles([]string{"radiologist"}, "coordinator"), http.StatusForbidden)
}

func TestRequireRole_NoIdentity(t *testing.T) {
	expectStatus(t, runWithRoles(nil, "coordinator"), http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if err := runWithRoles([]string{"admin"}, "coordinator"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIdentityFromEmptyContext(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || RolesFromContext(ctx) != nil || DoctorIDFromContext(ctx) != "" {
		t.Error("expected zero values from a bare context")
	}
}
