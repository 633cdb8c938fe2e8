package triage

import (
	"net/http"
	"strconv"

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
	g := api.Group("/triage", auth.RequireRole(auth.RoleParamedic, auth.RoleHospital))
	g.GET("/patients", h.ListPatients)
	g.POST("/patients", h.AdmitPatient)
	g.POST("/patients/bulk-status", h.BulkUpdateStatus)
	g.GET("/patients/:id", h.GetPatient)
	g.PATCH("/patients/:id/status", h.UpdateStatus)
	g.GET("/summary", h.Summary)
}

func filterFromQuery(c echo.Context) (ListFilter, error) {
	var f ListFilter
	if v := c.QueryParam("hospital_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
		}
		f.HospitalID = &id
	}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid active flag")
		}
		f.ActiveOnly = active
	}
	return f, nil
}

// ListPatients returns one page of the ranked queue. Ranking happens over the
// whole queue before paging so pages never disagree about order.
func (h *Handler) ListPatients(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	key, err := ParseSortKey(c.QueryParam("sort"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	ranked, err := h.svc.Queue(c.Request().Context(), f, key)
	if err != nil {
		return apperr.ToHTTP(err)
	}

	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(ranked, pg), len(ranked), pg.Limit, pg.Offset))
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = uuid.Nil
	if err := h.svc.Admit(c.Request().Context(), &p, auth.ActorFromContext(c.Request().Context())); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

type statusBody struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body statusBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseStatus(body.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	p, err := h.svc.UpdateStatus(c.Request().Context(), id, to, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

type bulkBody struct {
	IDs    []uuid.UUID `json:"ids"`
	Status string      `json:"status"`
	Sort   string      `json:"sort"`
}

func (h *Handler) BulkUpdateStatus(c echo.Context) error {
	var body bulkBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseStatus(body.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	key, err := ParseSortKey(body.Sort)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	actor := auth.ActorFromContext(c.Request().Context())
	results, err := h.svc.BulkUpdateStatus(c.Request().Context(), NewSelection(body.IDs...), to, key, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results":   results,
		"succeeded": len(results) - failed,
		"failed":    failed,
	})
}

func (h *Handler) Summary(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	s, err := h.svc.Summary(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}
