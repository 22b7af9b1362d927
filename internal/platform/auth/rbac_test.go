package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required []string
		want     bool
	}{
		{"exact match", []string{RoleNurse}, []string{RoleNurse}, true},
		{"one of many", []string{RolePhysician}, []string{RoleNurse, RolePhysician}, true},
		{"admin passes", []string{RoleAdmin}, []string{RoleNurse}, true},
		{"no match", []string{"billing"}, []string{RoleNurse}, false},
		{"no roles", nil, []string{RoleNurse}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasAnyRole(tt.granted, tt.required...))
		})
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, []string{RolePhysician}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireRole(RolePhysician, RoleNurse)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	require.NoError(t, h(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, []string{"billing"}))
	c := e.NewContext(req, httptest.NewRecorder())

	h := RequireRole(RolePhysician, RoleNurse)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	err := h(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T", err)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}
