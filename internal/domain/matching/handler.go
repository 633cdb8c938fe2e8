package matching

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/match", h.Match, auth.RequireRole(auth.RoleParamedic))

	read := api.Group("/hospitals", auth.RequireRole(auth.RoleParamedic, auth.RoleHospital))
	read.GET("", h.ListHospitals)
	read.GET("/:id", h.GetHospital)

	api.PUT("/hospitals/:id/capacity", h.UpdateCapacity, auth.RequireRole(auth.RoleHospital))
}

func (h *Handler) Match(c echo.Context) error {
	var req MatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.ActorFromContext(c.Request().Context())
	res, err := h.svc.Match(c.Request().Context(), req, actor.ID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListHospitals(c echo.Context) error {
	items, err := h.svc.ListHospitals(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []HospitalRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetHospital(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type capacityBody struct {
	AvailableBeds *int `json:"available_beds"`
	ICUBeds       *int `json:"icu_beds"`
}

// UpdateCapacity lets hospital staff refresh their own bed counts.
func (h *Handler) UpdateCapacity(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if !actor.IsAdmin() && actor.HospitalID != id {
		return apperr.ToHTTP(apperr.ErrForbidden)
	}

	var body capacityBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.AvailableBeds == nil || body.ICUBeds == nil {
		return apperr.ToHTTP(apperr.Validation("available_beds and icu_beds are required"))
	}

	rec, err := h.svc.UpdateCapacity(c.Request().Context(), id, *body.AvailableBeds, *body.ICUBeds)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}
