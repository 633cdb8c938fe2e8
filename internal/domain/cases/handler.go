package cases

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cases", auth.RequireRole(auth.RoleParamedic, auth.RoleHospital))
	g.POST("", h.CreateCase, auth.RequireRole(auth.RoleParamedic))
	g.GET("", h.ListCases)
	g.GET("/:id", h.GetCase)
	g.POST("/:id/transition", h.TransitionCase)
	g.GET("/:id/history", h.GetHistory)
}

func setETag(c echo.Context, cs *Case) {
	c.Response().Header().Set("ETag", strconv.Quote(strconv.Itoa(cs.Version)))
}

// parseIfMatch reads a version from an If-Match header such as "3" or W/"3".
func parseIfMatch(v string) (*int, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "*" {
		return nil, nil
	}
	v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return nil, apperr.Validation("If-Match must carry a case version")
	}
	return &n, nil
}

func (h *Handler) CreateCase(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	cs, err := h.svc.Create(ctx, in, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	setETag(c, cs)
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset, ParamedicID: c.QueryParam("paramedic_id")}
	if v := c.QueryParam("hospital_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
		}
		f.HospitalID = id
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		f.Status = st
	}

	ctx := c.Request().Context()
	items, total, err := h.svc.List(ctx, f, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []Case{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	cs, err := h.svc.Get(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	setETag(c, cs)
	return c.JSON(http.StatusOK, cs)
}

type transitionBody struct {
	Status          string `json:"status"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
}

// TransitionCase takes the expected version from the body, or failing that
// from If-Match.
func (h *Handler) TransitionCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body transitionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseStatus(body.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	expected := body.ExpectedVersion
	if expected == nil {
		if expected, err = parseIfMatch(c.Request().Header.Get("If-Match")); err != nil {
			return apperr.ToHTTP(err)
		}
	}

	ctx := c.Request().Context()
	cs, err := h.svc.Transition(ctx, id, to, expected, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	setETag(c, cs)
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	items, err := h.svc.History(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []HistoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}
