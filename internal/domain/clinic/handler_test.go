package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cian/agenda/internal/platform/middleware"
	"github.com/cian/agenda/internal/platform/store"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newTestAgenda(t)
	return NewHandler(f.svc), f, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he), "expected *echo.HTTPError, got %v", err)
	return he.Code
}

func (f *fixture) bookingBody(start string) string {
	return `{"patient_id":"` + f.patient.ID + `","professional_id":"` + f.pro.ID +
		`","service_id":"` + f.service.ID + `","date":"2026-10-20","start_time":"` + start + `"}`
}

func TestHandler_BookAppointment(t *testing.T) {
	h, f, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookingBody("10:00")), rec)
	require.NoError(t, h.BookAppointment(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var appt Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	assert.Equal(t, "10:45:00", appt.EndTime)
	assert.Equal(t, StatusScheduled, appt.Status)

	t.Run("conflict", func(t *testing.T) {
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookingBody("10:15")), httptest.NewRecorder())
		err := h.BookAppointment(c)
		assert.Equal(t, http.StatusConflict, httpCode(t, err))
	})

	t.Run("validation", func(t *testing.T) {
		body := `{"patient_id":"—","professional_id":"` + f.pro.ID + `","service_id":"` + f.service.ID + `","date":"2026-10-20","start_time":"12:00"}`
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", body), httptest.NewRecorder())
		err := h.BookAppointment(c)
		assert.Equal(t, http.StatusUnprocessableEntity, httpCode(t, err))
	})

	t.Run("malformed body", func(t *testing.T) {
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", `{"date":`), httptest.NewRecorder())
		err := h.BookAppointment(c)
		assert.Equal(t, http.StatusBadRequest, httpCode(t, err))
	})
}

func TestHandler_BookAppointment_TimedOutRequestLeavesNoBooking(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.st.fetchDelay = 80 * time.Millisecond
	e.Use(middleware.RequestTimeout(20 * time.Millisecond))
	e.POST("/api/v1/appointments", h.BookAppointment)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookingBody("10:00")))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Empty(t, f.st.rows(store.Appointments))

	// A retry books the slot rather than conflicting with a phantom row.
	f.st.fetchDelay = 0
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookingBody("10:00")))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, f.st.rows(store.Appointments), 1)
}

func TestHandler_UpdateAppointmentStatus(t *testing.T) {
	h, f, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", f.bookingBody("09:00")), rec)
	require.NoError(t, h.BookAppointment(c))
	var appt Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"absent"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(appt.ID)
	require.NoError(t, h.UpdateAppointmentStatus(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"absent"`)

	c = e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"absent"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	assert.Equal(t, http.StatusNotFound, httpCode(t, h.UpdateAppointmentStatus(c)))
}

func TestHandler_DayAgenda(t *testing.T) {
	h, _, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/agenda?date=2026-10-20&block=30&start=09:00&end=10:00", nil), rec)
	require.NoError(t, h.DayAgenda(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var view DayView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, view.Slots)
	assert.Len(t, view.Patients, 1)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/agenda?block=abc", nil), httptest.NewRecorder())
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.DayAgenda(c)))
}

func TestHandler_Patients(t *testing.T) {
	h, f, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"full_name":"Bruno Díaz","email":"bruno@example.com"}`), rec)
	require.NoError(t, h.CreatePatient(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"full_name":""}`), httptest.NewRecorder())
	assert.Equal(t, http.StatusUnprocessableEntity, httpCode(t, h.CreatePatient(c)))

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?q=bru&limit=10", nil), rec)
	require.NoError(t, h.ListPatients(c))
	var page struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Bruno Díaz", page.Data[0].FullName)

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"full_name":"Ana María Pérez"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.patient.ID)
	require.NoError(t, h.UpdatePatient(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	assert.Equal(t, http.StatusNotFound, httpCode(t, h.GetPatient(c)))
}

func TestHandler_Services(t *testing.T) {
	h, f, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"name":"Evaluación","duration_minutes":60,"price":45000}`), rec)
	require.NoError(t, h.CreateService(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"name":"Eterna","duration_minutes":600}`), httptest.NewRecorder())
	assert.Equal(t, http.StatusUnprocessableEntity, httpCode(t, h.CreateService(c)))

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"name":"Terapia 60min","duration_minutes":60,"price":30000}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.service.ID)
	require.NoError(t, h.UpdateService(c))
	assert.Contains(t, rec.Body.String(), `"duration_minutes":60`)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, h.ListServices(c))
	var items []Service
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 2)
}

func TestHandler_Professionals(t *testing.T) {
	h, f, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"full_name":"Carla Muñoz","specialty":"Kinesiología"}`), rec)
	require.NoError(t, h.CreateProfessional(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"full_name":"Dra. Rojas Vidal"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(f.pro.ID)
	require.NoError(t, h.UpdateProfessional(c))

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, h.ListProfessionals(c))
	assert.Contains(t, rec.Body.String(), "Dra. Rojas Vidal")
	assert.Contains(t, rec.Body.String(), "Carla Muñoz")
}

func TestHandler_Report(t *testing.T) {
	h, f, e := newTestHandler(t)

	c := e.NewContext(jsonRequest(http.MethodPost, "/", f.bookingBody("09:00")), httptest.NewRecorder())
	require.NoError(t, h.BookAppointment(c))

	rec := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports?from=2026-10-01&to=2026-10-31&professional=rojas", nil), rec)
	require.NoError(t, h.Report(c))

	var r Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, 1, r.Total)
	assert.Equal(t, 25000.0, r.Revenue)
	assert.Equal(t, []ProfessionalCount{{"Dra. Rojas", 1}}, r.TopProfessionals)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports?from=bad", nil), httptest.NewRecorder())
	assert.Equal(t, http.StatusUnprocessableEntity, httpCode(t, h.Report(c)))
}

func TestHTTPError_PassesThroughUnknownErrors(t *testing.T) {
	err := httpError(errBackendDown)
	assert.ErrorIs(t, err, errBackendDown)
}

func TestHandler_UpdatesKeepCreationTime(t *testing.T) {
	h, f, e := newTestHandler(t)

	put := func(handler echo.HandlerFunc, id, body string) *httptest.ResponseRecorder {
		t.Helper()
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPut, "/", body), rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		require.NoError(t, handler(c))
		require.Equal(t, http.StatusOK, rec.Code)
		return rec
	}
	var got struct {
		CreatedAt time.Time `json:"created_at"`
	}

	t.Run("patient", func(t *testing.T) {
		rec := put(h.UpdatePatient, f.patient.ID, `{"full_name":"Ana María Pérez","created_at":"2001-01-01T00:00:00Z"}`)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.CreatedAt.Equal(testNow), "created_at = %v", got.CreatedAt)

		p, err := f.svc.GetPatient(context.Background(), f.patient.ID)
		require.NoError(t, err)
		assert.True(t, p.CreatedAt.Equal(testNow))
		assert.Equal(t, "Ana María Pérez", p.FullName)
	})

	t.Run("professional", func(t *testing.T) {
		rec := put(h.UpdateProfessional, f.pro.ID, `{"full_name":"Dra. Rojas Vidal"}`)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.CreatedAt.Equal(testNow), "created_at = %v", got.CreatedAt)
	})

	t.Run("service", func(t *testing.T) {
		rec := put(h.UpdateService, f.service.ID, `{"name":"Terapia 60min","duration_minutes":60}`)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.CreatedAt.Equal(testNow), "created_at = %v", got.CreatedAt)
	})
}

func TestHandler_CreatePatientIgnoresClientTimestamps(t *testing.T) {
	h, _, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"id":"forced","full_name":"Bruno Díaz","created_at":"2001-01-01T00:00:00Z"}`), rec)
	require.NoError(t, h.CreatePatient(c))

	var p Patient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.NotEqual(t, "forced", p.ID)
	assert.True(t, p.CreatedAt.Equal(testNow))
}
