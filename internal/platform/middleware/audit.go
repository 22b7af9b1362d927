package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/platform/auth"
)

// Audit logs every write under /api/v1: who changed which ward, bed or
// batch, and the resulting status. Reads are not audited.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodGet || req.Method == http.MethodHead ||
				!strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			resource, id := resourceFromPath(req.URL.Path)
			rid, _ := c.Get("request_id").(string)
			tenant, _ := c.Get("tenant_id").(string)

			logger.Info().
				Str("type", "audit").
				Str("request_id", rid).
				Str("tenant_id", tenant).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Strs("user_roles", auth.RolesFromContext(req.Context())).
				Str("action", methodToAction(req.Method)).
				Str("resource", resource).
				Str("resource_id", id).
				Str("path", req.URL.Path).
				Int("status", status).
				Msg("mutation")

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// resourceFromPath splits /api/v1/<resource>/<id>/... into its first two
// segments.
func resourceFromPath(path string) (resource, id string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) > 0 {
		resource = segments[0]
	}
	if len(segments) > 1 {
		id = segments[1]
	}
	return resource, id
}
