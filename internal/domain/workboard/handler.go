package workboard

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	wb := api.Group("/workboard")
	wb.GET("", h.Worklist)
	wb.GET("/results/:id/entry-form", h.EntryForm)
	wb.GET("/results/:id/audit", h.Audit)
	wb.PUT("/results/:id/entry", h.SaveEntry)
	wb.POST("/results/:id/submit", h.SubmitForReview)
	wb.POST("/results/:id/qc-approve", h.QCApprove)
	wb.POST("/results/:id/qc-reject", h.QCReject)
	wb.POST("/results/:id/review-approve", h.ReviewApprove)
	wb.POST("/results/:id/release", h.Release)
	wb.POST("/results/:id/amend", h.Amend)

	api.GET("/patient-results", h.PatientResults)
}

func callerFrom(c echo.Context) Caller {
	ctx := c.Request().Context()
	return Caller{
		ID:   auth.UserIDFromContext(ctx),
		Role: auth.RoleFromContext(ctx),
	}
}

func resultID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid result id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (h *Handler) Worklist(c echo.Context) error {
	pg := pagination.FromContext(c)
	p := WorklistParams{
		Category: catalog.Category(c.QueryParam("category")),
		Urgency:  c.QueryParam("urgency"),
		Limit:    pg.Limit,
		Offset:   pg.Offset(),
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			p.Statuses = append(p.Statuses, Status(strings.TrimSpace(s)))
		}
	}
	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		p.From = &t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		p.To = &t
	}

	items, total, err := h.svc.Worklist(c.Request().Context(), callerFrom(c), p)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*WorklistRow{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) EntryForm(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	form, err := h.svc.EntryForm(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, form)
}

func (h *Handler) Audit(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	trail, err := h.svc.Audit(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, trail)
}

func (h *Handler) SaveEntry(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	var in EntryInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	view, err := h.svc.SaveEntry(c.Request().Context(), callerFrom(c), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type submitRequest struct {
	Notes *string `json:"notes,omitempty"`
}

func (h *Handler) SubmitForReview(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	view, err := h.svc.SubmitForReview(c.Request().Context(), callerFrom(c), id, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) QCApprove(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	view, err := h.svc.QCApprove(c.Request().Context(), callerFrom(c), id, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) QCReject(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	view, err := h.svc.QCReject(c.Request().Context(), callerFrom(c), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ReviewApprove(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	var in ReviewInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	view, err := h.svc.ReviewApprove(c.Request().Context(), callerFrom(c), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Release(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Release(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Amend(c echo.Context) error {
	id, err := resultID(c)
	if err != nil {
		return err
	}
	var in AmendInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	view, err := h.svc.Amend(c.Request().Context(), callerFrom(c), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) PatientResults(c echo.Context) error {
	orderID, err := uuid.Parse(c.QueryParam("order_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "order_id is required")
	}
	views, err := h.svc.PatientResults(c.Request().Context(), orderID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, views)
}
