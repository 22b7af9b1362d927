package inpatient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital/hms/internal/platform/auth"
)

func newTestContext(method, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		var names, values []string
		for i := 0; i+1 < len(params); i += 2 {
			names = append(names, params[i])
			values = append(values, params[i+1])
		}
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	return c, rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func assertHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T (%v)", err, err)
	assert.Equal(t, code, httpErr.Code)
}

func TestHandler_CreateWard(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	body := `{"department_id":"` + f.dept.String() + `","name":"North","ward_type":"icu","capacity":8,"floor_number":3}`
	c, rec := newTestContext(http.MethodPost, body)

	require.NoError(t, h.CreateWard(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var w Ward
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
	assert.Equal(t, "North", w.Name)
	assert.Equal(t, WardActive, w.Status)
}

func TestHandler_CreateWard_BadRequest(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	c, _ := newTestContext(http.MethodPost, `{"name":"North","ward_type":"icu","capacity":0}`)
	assertHTTPError(t, h.CreateWard(c), http.StatusBadRequest)
}

func TestHandler_ChangeBedStatus_Conflict(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	w := f.ward(t, "North", 4)
	b := f.bed(t, w.ID, "A1", BedOccupied)

	c, rec := newTestContext(http.MethodPatch, `{"status":"out_of_order"}`, "id", b.ID.String())
	require.NoError(t, h.ChangeBedStatus(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "OCCUPIED_TO_OUT_OF_ORDER", body["error"])
	assert.Equal(t, "occupied_to_out_of_order", body["conflict_type"])
	assert.Contains(t, body["message"], "Discharge patient first")
	assert.NotEmpty(t, body["suggestions"])
	assert.NotContains(t, body, "index")

	bed := body["bed"].(map[string]interface{})
	assert.Equal(t, b.ID.String(), bed["id"])
	assert.Equal(t, "occupied", bed["current_status"])
	assert.Equal(t, "out_of_order", bed["requested_status"])
}

func TestHandler_ChangeBedStatus_BadStatus(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	c, _ := newTestContext(http.MethodPatch, `{"status":"haunted"}`, "id", uuid.New().String())
	assertHTTPError(t, h.ChangeBedStatus(c), http.StatusBadRequest)
}

func TestHandler_UpdateWard_CapacityConflict(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	w := f.ward(t, "West", 2)
	f.bed(t, w.ID, "W1", BedAvailable)
	f.bed(t, w.ID, "W2", BedAvailable)

	c, rec := newTestContext(http.MethodPut, `{"capacity":1}`, "id", w.ID.String())
	require.NoError(t, h.UpdateWard(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "CAPACITY_EXCEEDED", body["error"])
	ward := body["ward"].(map[string]interface{})
	assert.Equal(t, float64(2), ward["current_capacity"])
	assert.Equal(t, float64(1), ward["requested_capacity"])
}

func TestHandler_GetBed_NotFound(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	c, _ := newTestContext(http.MethodGet, "", "id", uuid.New().String())
	assertHTTPError(t, h.GetBed(c), http.StatusNotFound)

	c, _ = newTestContext(http.MethodGet, "", "id", "not-a-uuid")
	assertHTTPError(t, h.GetBed(c), http.StatusBadRequest)
}

func TestHandler_ListBeds_Pagination(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	w := f.ward(t, "North", 5)
	for _, n := range []string{"A1", "A2", "A3"} {
		f.bed(t, w.ID, n, BedAvailable)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wards/"+w.ID.String()+"/beds?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(w.ID.String())

	require.NoError(t, h.ListBeds(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, true, body["has_more"])
	assert.Len(t, body["data"], 2)
}

func TestHandler_ValidateBulk(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	w := f.ward(t, "North", 5)
	b := f.bed(t, w.ID, "A1", BedAvailable)

	ok := `{"updates":[{"id":"` + b.ID.String() + `","data":{"status":"reserved"}}]}`
	c, rec := newTestContext(http.MethodPost, ok, "entity_type", "beds")
	require.NoError(t, h.ValidateBulk(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["valid"])

	bad := `{"updates":[{"id":"` + b.ID.String() + `","data":{"status":"reserved"}},` +
		`{"id":"garbage","data":{"status":"reserved"}},` +
		`{"id":"` + b.ID.String() + `","data":{"status":"reserved"}}]}`
	c, rec = newTestContext(http.MethodPost, bad, "entity_type", "beds")
	require.NoError(t, h.ValidateBulk(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "BULK_VALIDATION_FAILED", body["error"])
	errs := body["errors"].([]interface{})
	require.Len(t, errs, 2)
	first := errs[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["index"])
	assert.Equal(t, "updates.1.id", first["field"])
	assert.Equal(t, float64(BatchIndex), errs[1].(map[string]interface{})["index"])

	// validation never writes
	assert.Equal(t, BedAvailable, f.storedBed(t, b.ID).Status)
}

func TestHandler_ValidateBulk_UnknownEntity(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	c, _ := newTestContext(http.MethodPost, `{"updates":[]}`, "entity_type", "patients")
	assertHTTPError(t, h.ValidateBulk(c), http.StatusBadRequest)
}

func TestHandler_ApplyBulk(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	w := f.ward(t, "North", 5)
	a := f.bed(t, w.ID, "A1", BedAvailable)
	b := f.bed(t, w.ID, "A2", BedOccupied)

	body := `{"updates":[{"id":"` + a.ID.String() + `","data":{"status":"reserved"}}]}`
	c, rec := newTestContext(http.MethodPost, body, "entity_type", "beds")
	require.NoError(t, h.ApplyBulk(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["updated"])

	body = `{"updates":[{"id":"` + a.ID.String() + `","data":{"status":"available"}},` +
		`{"id":"` + b.ID.String() + `","data":{"status":"out_of_order"}}]}`
	c, rec = newTestContext(http.MethodPost, body, "entity_type", "beds")
	require.NoError(t, h.ApplyBulk(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeBody(t, rec)
	assert.Equal(t, "OCCUPIED_TO_OUT_OF_ORDER", resp["error"])
	assert.Equal(t, float64(1), resp["index"])
	assert.Equal(t, BedReserved, f.storedBed(t, a.ID).Status)
}

func TestHandler_RemoveBed(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	w := f.ward(t, "North", 5)
	b := f.bed(t, w.ID, "A1", BedAvailable)

	c, rec := newTestContext(http.MethodDelete, "", "id", b.ID.String())
	require.NoError(t, h.RemoveBed(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_RoleGates(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, "North", 5)
	b := f.bed(t, w.ID, "A1", BedAvailable)

	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := strings.Split(c.Request().Header.Get("X-Test-Roles"), ",")
			c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), "tester", roles)))
			return next(c)
		}
	})
	NewHandler(f.svc).RegisterRoutes(api)

	tests := []struct {
		name   string
		role   string
		method string
		path   string
		want   int
	}{
		{"physician reads census", auth.RolePhysician, http.MethodGet, "/api/v1/wards/" + w.ID.String() + "/census", http.StatusOK},
		{"physician cannot admit", auth.RolePhysician, http.MethodPost, "/api/v1/beds/" + b.ID.String() + "/admit", http.StatusForbidden},
		{"nurse admits", auth.RoleNurse, http.MethodPost, "/api/v1/beds/" + b.ID.String() + "/admit", http.StatusOK},
		{"nurse cannot remove beds", auth.RoleNurse, http.MethodDelete, "/api/v1/beds/" + b.ID.String(), http.StatusForbidden},
		{"nurse cannot bulk update", auth.RoleNurse, http.MethodPost, "/api/v1/bulk/beds", http.StatusForbidden},
		{"unknown role cannot read", "porter", http.MethodGet, "/api/v1/wards", http.StatusForbidden},
		{"admin reads wards", auth.RoleAdmin, http.MethodGet, "/api/v1/wards", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("X-Test-Roles", tt.role)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
