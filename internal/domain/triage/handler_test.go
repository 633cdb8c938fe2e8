package triage

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rapidcare/rapidcare/internal/platform/auth"
)

func newTestHandler(patients ...Patient) (*Handler, *echo.Echo, *mockPatientRepo) {
	repo := newMockPatientRepo(patients...)
	svc, _ := newTestService(repo)
	return NewHandler(svc), echo.New(), repo
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_ListPatients(t *testing.T) {
	h, e, _ := newTestHandler(patient("A", 3, 0, 0), patient("B", 1, 0, 1), patient("C", 2, 0, 2))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/triage/patients?sort=severity&limit=2", nil)
	rec := httptest.NewRecorder()
	if err := h.ListPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 {
		t.Errorf("expected total 3, got %d", body.Total)
	}
	if n := names(body.Data); !equal(n, []string{"B", "C"}) {
		t.Errorf("expected first page [B C], got %v", n)
	}
}

func TestHandler_ListPatients_BadQuery(t *testing.T) {
	h, e, _ := newTestHandler()
	for _, q := range []string{"sort=age", "hospital_id=nope", "active=maybe"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/triage/patients?"+q, nil)
		err := h.ListPatients(e.NewContext(req, httptest.NewRecorder()))
		if statusOf(t, err) != http.StatusBadRequest {
			t.Errorf("%s: expected 400", q)
		}
	}
}

func TestHandler_AdmitPatient(t *testing.T) {
	h, e, repo := newTestHandler()

	body := `{"name":"Meera","severity_level":2,"needs_ventilator":true,"status":"discharged"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.AdmitPatient(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != StatusWaiting || !p.NeedsVentilator {
		t.Errorf("unexpected patient %+v", p)
	}
	if len(repo.store) != 1 {
		t.Errorf("expected 1 stored patient, got %d", len(repo.store))
	}
}

func TestHandler_AdmitPatient_UnknownHospital(t *testing.T) {
	h, e, repo := newTestHandler()
	repo.hospitals = map[uuid.UUID]bool{hospitalA: true}

	body := `{"name":"Meera","severity_level":2,"hospital_id":"` + hospitalB.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithActor(req.Context(), admin))
	err := h.AdmitPatient(e.NewContext(req, httptest.NewRecorder()))
	if statusOf(t, err) != http.StatusNotFound {
		t.Errorf("expected 404 for unknown hospital, got %v", err)
	}
	if len(repo.store) != 0 {
		t.Errorf("expected nothing stored, got %d", len(repo.store))
	}
}

func TestHandler_AdmitPatient_Invalid(t *testing.T) {
	h, e, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage/patients", strings.NewReader(`{"name":"","severity_level":2}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.AdmitPatient(e.NewContext(req, httptest.NewRecorder()))
	if statusOf(t, err) != http.StatusBadRequest {
		t.Fatal("expected 400")
	}
}

func TestHandler_GetPatient(t *testing.T) {
	p := patient("A", 1, 0, 0)
	h, e, _ := newTestHandler(p)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if statusOf(t, h.GetPatient(c)) != http.StatusBadRequest {
		t.Error("expected 400 for invalid id")
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	p := patient("A", 1, 0, 0)
	h, e, _ := newTestHandler(p)

	patch := func(body string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(p.ID.String())
		return rec, h.UpdateStatus(c)
	}

	rec, err := patch(`{"status":"in-treatment"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	_, err = patch(`{"status":"waiting"}`)
	if statusOf(t, err) != http.StatusConflict {
		t.Error("expected 409 moving back to waiting")
	}

	_, err = patch(`{"status":"gone"}`)
	if statusOf(t, err) != http.StatusBadRequest {
		t.Error("expected 400 for unknown status")
	}
}

func TestHandler_UpdateStatus_OtherHospitalForbidden(t *testing.T) {
	p := atHospital(patient("A", 2, 0, 0), hospitalA)
	h, e, repo := newTestHandler(p)

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"discharged"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithActor(req.Context(), staffB))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if statusOf(t, h.UpdateStatus(c)) != http.StatusForbidden {
		t.Error("expected 403 for staff of another hospital")
	}
	stored, _ := repo.GetByID(req.Context(), p.ID)
	if stored.Status != StatusWaiting {
		t.Errorf("expected status unchanged, got %s", stored.Status)
	}
}

func TestHandler_BulkUpdateStatus(t *testing.T) {
	a, b := patient("A", 2, 0, 0), patient("B", 1, 0, 1)
	h, e, _ := newTestHandler(a, b)

	body := `{"ids":["` + a.ID.String() + `","` + b.ID.String() + `"],"status":"discharged"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage/patients/bulk-status", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.BulkUpdateStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Results   []BulkResult `json:"results"`
		Succeeded int          `json:"succeeded"`
		Failed    int          `json:"failed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Succeeded != 2 || resp.Failed != 0 {
		t.Errorf("expected 2 succeeded, got %+v", resp)
	}
	if len(resp.Results) != 2 || resp.Results[0].ID != b.ID {
		t.Errorf("expected results in severity order, got %+v", resp.Results)
	}
}

func TestHandler_Summary(t *testing.T) {
	h, e, _ := newTestHandler(patient("A", 1, 0, 0))
	rec := httptest.NewRecorder()
	if err := h.Summary(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/triage/summary", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Total != 1 || s.Active != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}
