package geo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
)

// PositionHandler lets paramedic devices report their location.
type PositionHandler struct {
	store *PositionStore
}

func NewPositionHandler(store *PositionStore) *PositionHandler {
	return &PositionHandler{store: store}
}

func (h *PositionHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/paramedics/me", auth.RequireRole(auth.RoleParamedic))
	g.PUT("/position", h.Report)
	g.GET("/position", h.Current)
	g.DELETE("/position", h.Clear)
}

func (h *PositionHandler) Report(c echo.Context) error {
	var coord Coordinate
	if err := c.Bind(&coord); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := auth.UserIDFromContext(c.Request().Context())
	p, err := h.store.Save(c.Request().Context(), id, coord)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *PositionHandler) Current(c echo.Context) error {
	id := auth.UserIDFromContext(c.Request().Context())
	coord, err := h.store.Locate(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, Position{ParamedicID: id, Coordinate: coord})
}

// Clear drops the caller's position, e.g. at the end of a shift.
func (h *PositionHandler) Clear(c echo.Context) error {
	id := auth.UserIDFromContext(c.Request().Context())
	if err := h.store.Clear(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
