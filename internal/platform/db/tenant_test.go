package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTenantContext(header, jwtTenant string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wards", nil)
	if header != "" {
		req.Header.Set("X-Tenant-ID", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	if jwtTenant != "" {
		c.Set("jwt_tenant_id", jwtTenant)
	}
	return c
}

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		jwt    string
		want   string
	}{
		{"default", "", "", "default"},
		{"header", "city_general", "", "city_general"},
		{"jwt", "", "north_campus", "north_campus"},
		{"jwt over header", "city_general", "north_campus", "north_campus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTenantID(newTenantContext(tt.header, tt.jwt), "default"))
		})
	}
}

func TestExtractTenantID_IgnoresQueryParam(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wards?tenant_id=other", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	assert.Equal(t, "default", extractTenantID(c, "default"))
}

func TestValidateIdentifier(t *testing.T) {
	for _, v := range []string{"abc", "hospital_1", "A1B2", "tenant_default"} {
		assert.NoError(t, ValidateIdentifier("tenant", v), v)
	}
	for _, v := range []string{"a-b", "a.b", "a b", "'; DROP TABLE ward", "public; DROP SCHEMA x", ""} {
		err := ValidateIdentifier("schema", v)
		require.Error(t, err, v)
		assert.Contains(t, err.Error(), "invalid schema identifier")
	}
}

func TestTenantMiddleware_RejectsInvalidTenant(t *testing.T) {
	c := newTenantContext("bad-tenant", "")
	err := TenantMiddleware(nil, "default")(func(echo.Context) error {
		t.Fatal("handler should not run for an invalid tenant")
		return nil
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T", err)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "tenant_city_general", SchemaName("city_general"))
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "city_general")
	assert.Equal(t, "city_general", TenantFromContext(ctx))
	assert.Empty(t, TenantFromContext(context.WithValue(context.Background(), TenantIDKey, 42)))
}

func TestConnFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	assert.Nil(t, ConnFromContext(ctx))
}

func TestCreateTenantSchema_InvalidIDs(t *testing.T) {
	for _, id := range []string{"tenant-with-dash", "tenant.with.dot", "ten ant", "drop;table"} {
		assert.Error(t, CreateTenantSchema(context.Background(), nil, id, nil), id)
	}
}
