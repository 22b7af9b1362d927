package inpatient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hospital/hms/internal/platform/auth"
	"github.com/hospital/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, nurse, physician
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleNurse, auth.RolePhysician))
	readGroup.GET("/wards", h.ListWards)
	readGroup.GET("/wards/:id", h.GetWard)
	readGroup.GET("/wards/:id/census", h.GetCensus)
	readGroup.GET("/wards/:id/beds", h.ListBeds)
	readGroup.GET("/beds/:id", h.GetBed)

	// Bedside workflow – admin, nurse
	wardGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleNurse))
	wardGroup.PATCH("/beds/:id/status", h.ChangeBedStatus)
	wardGroup.POST("/beds/:id/admit", h.Admit)
	wardGroup.POST("/beds/:id/discharge", h.Discharge)

	// Write endpoints – admin only
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/wards", h.CreateWard)
	writeGroup.PUT("/wards/:id", h.UpdateWard)
	writeGroup.POST("/wards/:id/beds", h.CreateBed)
	writeGroup.PUT("/beds/:id", h.UpdateBed)
	writeGroup.DELETE("/beds/:id", h.RemoveBed)
	writeGroup.POST("/bulk/:entity_type/validate", h.ValidateBulk)
	writeGroup.POST("/bulk/:entity_type", h.ApplyBulk)
}

// -- Ward Handlers --

func (h *Handler) CreateWard(c echo.Context) error {
	var w Ward
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWard(c.Request().Context(), &w); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	p := pagination.FromContext(c)
	wards, total, err := h.svc.ListWards(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(wards, total, p).WithLinks(c.Request().URL.Path))
}

func (h *Handler) UpdateWard(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p WardPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.svc.UpdateWard(c.Request().Context(), id, p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) GetCensus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	census, err := h.svc.Census(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, census)
}

// -- Bed Handlers --

func (h *Handler) CreateBed(c echo.Context) error {
	wardID, err := pathID(c)
	if err != nil {
		return err
	}
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBed(c.Request().Context(), wardID, &b); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	wardID, err := pathID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	beds, total, err := h.svc.ListBeds(c.Request().Context(), wardID, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(beds, total, p).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p BedPatch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.UpdateBed(c.Request().Context(), id, p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type statusRequest struct {
	Status           string  `json:"status"`
	MaintenanceNotes *string `json:"maintenance_notes"`
}

func (h *Handler) ChangeBedStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := ParseBedStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.ChangeBedStatus(c.Request().Context(), id, status, req.MaintenanceNotes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Admit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Admit(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RemoveBed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveBed(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Bulk Handlers --

type bulkItem struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

type bulkRequest struct {
	Updates []bulkItem `json:"updates"`
}

// updates converts the request body. An id that does not parse becomes
// uuid.Nil so the guard reports it against its index.
func (r bulkRequest) updates() []BulkUpdate {
	out := make([]BulkUpdate, len(r.Updates))
	for i, item := range r.Updates {
		id, err := uuid.Parse(item.ID)
		if err != nil {
			id = uuid.Nil
		}
		out[i] = BulkUpdate{ID: id, Data: item.Data}
	}
	return out
}

func (h *Handler) ValidateBulk(c echo.Context) error {
	t := EntityType(c.Param("entity_type"))
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	errs, err := h.svc.ValidateBulkUpdate(c.Request().Context(), t, req.updates())
	if err != nil {
		return respondError(c, err)
	}
	if len(errs) > 0 {
		return respondError(c, &BulkValidationError{EntityType: t, Errors: errs})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid": true,
		"count": len(req.Updates),
	})
}

func (h *Handler) ApplyBulk(c echo.Context) error {
	t := EntityType(c.Param("entity_type"))
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.BulkUpdate(c.Request().Context(), t, req.updates())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Bulk update completed.",
		"updated": n,
	})
}

// -- Helpers --

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// respondError maps service errors onto HTTP responses. Conflicts and bulk
// validation failures are 422 with a structured body.
func respondError(c echo.Context, err error) error {
	index := -1
	var itemErr *BulkItemError
	if errors.As(err, &itemErr) {
		index = itemErr.Index
	}

	var conflict *ConflictReport
	if errors.As(err, &conflict) {
		body := conflict.Payload()
		if index >= 0 {
			body["index"] = index
		}
		return c.JSON(http.StatusUnprocessableEntity, body)
	}

	var bulkErr *BulkValidationError
	if errors.As(err, &bulkErr) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "The given data was invalid.",
			"error":   "BULK_VALIDATION_FAILED",
			"errors":  bulkErr.Errors,
		})
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownEntityType):
		status = http.StatusBadRequest
	}
	if index >= 0 {
		return c.JSON(status, map[string]interface{}{
			"message": err.Error(),
			"index":   index,
		})
	}
	return echo.NewHTTPError(status, err.Error())
}
