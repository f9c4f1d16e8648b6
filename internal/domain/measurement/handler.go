package measurement

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
	"github.com/haniot/mhealth-sub002/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the measurement routes twice: once under patients and
// once under the legacy users path.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	for _, owner := range []string{"/patients/:patient_id", "/users/:user_id"} {
		g := api.Group(owner + "/measurements")
		g.POST("", h.AddMeasurements)
		g.GET("", h.ListMeasurements)
		g.GET("/last", h.GetLastMeasurements)
		g.GET("/last/:date", h.GetLastMeasurements)
		g.GET("/:measurement_id", h.GetMeasurement)
		g.PATCH("/:measurement_id", h.UpdateMeasurement)
		g.DELETE("/:measurement_id", h.DeleteMeasurement)
	}
}

func errorResponse(c echo.Context, err error) error {
	return c.JSON(apperr.StatusCode(err), apperr.Body(err))
}

// ownerID returns the patient id from either route family, rejecting a
// malformed one before the service is involved.
func ownerID(c echo.Context) (string, error) {
	id := c.Param("patient_id")
	if id == "" {
		id = c.Param("user_id")
	}
	if err := validator.ObjectID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Handler) AddMeasurements(c echo.Context) error {
	patientID, err := ownerID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorResponse(c, apperr.Validation("Invalid payload!", err.Error()))
	}
	items, isArray, err := SplitPayload(body)
	if err != nil {
		return errorResponse(c, err)
	}
	ctx := c.Request().Context()
	if !isArray {
		created, err := h.svc.Add(ctx, patientID, items[0])
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusCreated, created)
	}
	result := h.svc.AddMany(ctx, patientID, items)
	if len(result.Error) > 0 {
		return c.JSON(http.StatusMultiStatus, result)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) ListMeasurements(c echo.Context) error {
	patientID, err := ownerID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	pg := pagination.FromContext(c)
	q := Query{
		PatientID: patientID,
		Type:      Type(c.QueryParam("type")),
		DeviceID:  c.QueryParam("device_id"),
		OrderBy:   pg.OrderBy(SortColumns, "timestamp DESC NULLS LAST"),
		Limit:     pg.Limit,
		Offset:    pg.Offset,
	}
	if q.Start, err = optionalDatetime(c.QueryParam("start_at")); err != nil {
		return errorResponse(c, err)
	}
	if q.End, err = optionalDatetime(c.QueryParam("end_at")); err != nil {
		return errorResponse(c, err)
	}
	items, total, err := h.svc.GetAll(c.Request().Context(), q)
	if err != nil {
		return errorResponse(c, err)
	}
	if items == nil {
		items = []Measurement{}
	}
	pagination.SetTotalCount(c, total)
	pagination.SetNextLink(c, pg, total)
	return c.JSON(http.StatusOK, items)
}

func optionalDatetime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) == len("2006-01-02") {
		t, err := validator.ParseDate(raw)
		return &t, err
	}
	t, err := validator.ParseDatetime(raw)
	return &t, err
}

func (h *Handler) GetLastMeasurements(c echo.Context) error {
	patientID, err := ownerID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	var asOf *time.Time
	if raw := c.Param("date"); raw != "" {
		day, err := validator.ParseDate(raw)
		if err != nil {
			return errorResponse(c, err)
		}
		end := day.Add(24*time.Hour - time.Millisecond)
		asOf = &end
	}
	last, err := h.svc.LastMeasurements(c.Request().Context(), patientID, asOf)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, last)
}

func (h *Handler) GetMeasurement(c echo.Context) error {
	patientID, err := ownerID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	m, err := h.svc.GetByID(c.Request().Context(), patientID, c.Param("measurement_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateMeasurement(c echo.Context) error {
	patientID, err := ownerID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil {
		return errorResponse(c, apperr.Validation("Invalid payload!", err.Error()))
	}
	m, err := h.svc.Update(c.Request().Context(), patientID, c.Param("measurement_id"), raw)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMeasurement(c echo.Context) error {
	patientID, err := ownerID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	if err := h.svc.Remove(c.Request().Context(), patientID, c.Param("measurement_id")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
