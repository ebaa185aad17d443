package clinic

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cian/agenda/pkg/pagination"
)

type Handler struct {
	svc *Agenda
}

func NewHandler(svc *Agenda) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/agenda", h.DayAgenda)

	api.GET("/appointments", h.ListAppointments)
	api.POST("/appointments", h.BookAppointment)
	api.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)

	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)

	api.GET("/professionals", h.ListProfessionals)
	api.POST("/professionals", h.CreateProfessional)
	api.PUT("/professionals/:id", h.UpdateProfessional)

	api.GET("/services", h.ListServices)
	api.POST("/services", h.CreateService)
	api.PUT("/services/:id", h.UpdateService)

	api.GET("/reports", h.Report)
}

// httpError maps domain errors to status codes. Anything unrecognised is
// returned as-is and rendered as 500 by echo.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, ErrConflict.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}

func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

// -- Agenda --

func (h *Handler) DayAgenda(c echo.Context) error {
	block, err := queryInt(c, "block")
	if err != nil {
		return err
	}
	view, err := h.svc.DayAgenda(c.Request().Context(), c.QueryParam("date"), AgendaOptions{
		BlockMinutes: block,
		Start:        c.QueryParam("start"),
		End:          c.QueryParam("end"),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// -- Appointments --

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.BookAppointment(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	items, err := h.svc.ListAppointments(c.Request().Context(), AppointmentFilter{
		From:   c.QueryParam("from"),
		To:     c.QueryParam("to"),
		Status: c.QueryParam("status"),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id"), "status": string(st)})
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	items, err := h.svc.ListPatients(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// patientInput is the create/edit payload of a patient. The id and creation
// time are never taken from the client.
type patientInput struct {
	FullName  string  `json:"full_name"`
	RUT       *string `json:"rut"`
	BirthDate *string `json:"birth_date"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
}

func (in patientInput) applyTo(p *Patient) {
	p.FullName = in.FullName
	p.RUT = in.RUT
	p.BirthDate = in.BirthDate
	p.Phone = in.Phone
	p.Email = in.Email
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in patientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Patient{}
	in.applyTo(p)
	if err := h.svc.SavePatient(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.GetPatient(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	var in patientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.applyTo(p)
	if err := h.svc.SavePatient(ctx, p); err != nil {
		return httpError(err)
	}
	saved, err := h.svc.GetPatient(ctx, p.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

// -- Professionals --

func (h *Handler) ListProfessionals(c echo.Context) error {
	items, err := h.svc.ListProfessionals(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type professionalInput struct {
	FullName  string  `json:"full_name"`
	Specialty *string `json:"specialty"`
}

func (h *Handler) CreateProfessional(c echo.Context) error {
	var in professionalInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Professional{FullName: in.FullName, Specialty: in.Specialty}
	if err := h.svc.SaveProfessional(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateProfessional(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.GetProfessional(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	var in professionalInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.FullName, p.Specialty = in.FullName, in.Specialty
	if err := h.svc.SaveProfessional(ctx, p); err != nil {
		return httpError(err)
	}
	saved, err := h.svc.GetProfessional(ctx, p.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

// -- Services --

func (h *Handler) ListServices(c echo.Context) error {
	items, err := h.svc.ListServices(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateService(c echo.Context) error {
	var in ServiceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ID = ""
	s, err := h.svc.SaveService(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) UpdateService(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.svc.GetService(ctx, c.Param("id")); err != nil {
		return httpError(err)
	}
	var in ServiceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ID = c.Param("id")
	if _, err := h.svc.SaveService(ctx, in); err != nil {
		return httpError(err)
	}
	saved, err := h.svc.GetService(ctx, in.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

// -- Reports --

func (h *Handler) Report(c echo.Context) error {
	r, err := h.svc.BuildReport(c.Request().Context(), ReportFilter{
		From:         c.QueryParam("from"),
		To:           c.QueryParam("to"),
		Professional: c.QueryParam("professional"),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}
