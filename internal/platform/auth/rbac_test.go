package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func contextWithRole(role Role) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), Actor{ID: uuid.New(), Role: role}))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := contextWithRole(RolePsychologist)
	if err := RequireRole(RolePsychologist, RoleAdmin)(ok)(c); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c, _ := contextWithRole(RolePatient)
	expectStatus(t, RequireRole(RolePsychologist)(ok)(c), http.StatusForbidden)
}

func TestRequireRole_NoAdminBypass(t *testing.T) {
	c, _ := contextWithRole(RoleAdmin)
	expectStatus(t, RequireRole(RolePsychologist)(ok)(c), http.StatusForbidden)
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	expectStatus(t, RequireRole(RolePatient)(ok)(c), http.StatusUnauthorized)
}

func TestMustActor(t *testing.T) {
	c, _ := contextWithRole(RoleAdmin)
	a, err := MustActor(c)
	if err != nil || a.Role != RoleAdmin {
		t.Fatalf("MustActor() = %+v, %v", a, err)
	}

	e := echo.New()
	bare := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, err := MustActor(bare); err == nil {
		t.Fatal("expected error without actor")
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RolePatient, RolePsychologist, RoleAdmin} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("nurse").Valid() {
		t.Error("nurse should not be valid")
	}
}
