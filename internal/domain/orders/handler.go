package orders

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/workboard"
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
	g := api.Group("/orders")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/tests", h.AddTest)
	g.POST("/:id/results/:resultID/collect", h.CollectSample)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/complete", h.Complete)
}

func orderID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, workboard.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, workboard.ErrValidation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, workboard.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	detail, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, detail)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Status:  Status(c.QueryParam("status")),
		Urgency: Urgency(c.QueryParam("urgency")),
		Search:  c.QueryParam("search"),
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Order{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

type addTestRequest struct {
	TestID uuid.UUID `json:"test_id"`
}

func (h *Handler) AddTest(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req addTestRequest
	if err := c.Bind(&req); err != nil || req.TestID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "test_id is required")
	}
	detail, err := h.svc.AddTest(c.Request().Context(), id, req.TestID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) CollectSample(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	resultID, err := uuid.Parse(c.Param("resultID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	view, err := h.svc.CollectSample(c.Request().Context(), actor, id, resultID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	o, err := h.svc.Cancel(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}
