package clinic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cian/agenda/internal/platform/store"
)

var testNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

type recordingObserver struct {
	bookings []string
	statuses []string
}

func (o *recordingObserver) BookingAttempt(outcome string) { o.bookings = append(o.bookings, outcome) }
func (o *recordingObserver) StatusUpdated(status string)   { o.statuses = append(o.statuses, status) }

type fixture struct {
	svc      *Agenda
	st       *memStore
	obs      *recordingObserver
	patient  *Patient
	pro      *Professional
	otherPro *Professional
	service  *Service
}

func newTestAgenda(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	obs := &recordingObserver{}
	svc := NewAgenda(NewStoreRepositories(st), Settings{
		BlockMinutes: 30,
		WorkdayStart: "09:00",
		WorkdayEnd:   "18:30",
	}, WithObserver(obs), WithClock(func() time.Time { return testNow }))

	ctx := context.Background()
	f := &fixture{svc: svc, st: st, obs: obs}
	f.patient = &Patient{FullName: "Ana Pérez"}
	require.NoError(t, svc.SavePatient(ctx, f.patient))
	f.pro = &Professional{FullName: "Dra. Rojas"}
	require.NoError(t, svc.SaveProfessional(ctx, f.pro))
	f.otherPro = &Professional{FullName: "Juan Soto"}
	require.NoError(t, svc.SaveProfessional(ctx, f.otherPro))
	price := 25000.0
	s, err := svc.SaveService(ctx, ServiceInput{Name: "Terapia 45min", DurationMinutes: 45, Price: &price})
	require.NoError(t, err)
	f.service = s
	return f
}

func (f *fixture) request(start string) BookingRequest {
	return BookingRequest{
		PatientID:      f.patient.ID,
		ProfessionalID: f.pro.ID,
		ServiceID:      f.service.ID,
		Date:           "2026-10-20",
		StartTime:      start,
	}
}

func TestBookAppointment_Success(t *testing.T) {
	f := newTestAgenda(t)

	appt, err := f.svc.BookAppointment(context.Background(), f.request("09:00"))
	require.NoError(t, err)

	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, "09:00:00", appt.StartTime)
	assert.Equal(t, "09:45:00", appt.EndTime)
	assert.Equal(t, StatusScheduled, appt.Status)
	require.NotNil(t, appt.Price)
	assert.Equal(t, 25000.0, *appt.Price)
	assert.Equal(t, []string{OutcomeCreated}, f.obs.bookings)

	rows := f.st.rows(store.Appointments)
	require.Len(t, rows, 1)
	assert.Equal(t, "25000", rows[0]["price"])
	assert.Equal(t, "scheduled", rows[0]["status"])
}

func TestBookAppointment_Conflict(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	_, err := f.svc.BookAppointment(ctx, f.request("09:00"))
	require.NoError(t, err)

	_, err = f.svc.BookAppointment(ctx, f.request("09:30"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, f.st.rows(store.Appointments), 1, "rejected booking must not be written")
	assert.Equal(t, []string{OutcomeCreated, OutcomeConflict}, f.obs.bookings)
}

func TestBookAppointment_AdjacentIsAllowed(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	_, err := f.svc.BookAppointment(ctx, f.request("09:00"))
	require.NoError(t, err)
	_, err = f.svc.BookAppointment(ctx, f.request("09:45"))
	require.NoError(t, err)
	_, err = f.svc.BookAppointment(ctx, BookingRequest{
		PatientID: f.patient.ID, ProfessionalID: f.pro.ID, ServiceID: f.service.ID,
		Date: "2026-10-20", StartTime: "08:30", DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Len(t, f.st.rows(store.Appointments), 3)
}

func TestBookAppointment_OtherProfessionalOrDayIsIndependent(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	_, err := f.svc.BookAppointment(ctx, f.request("10:00"))
	require.NoError(t, err)

	other := f.request("10:00")
	other.ProfessionalID = f.otherPro.ID
	_, err = f.svc.BookAppointment(ctx, other)
	require.NoError(t, err)

	nextDay := f.request("10:00")
	nextDay.Date = "2026-10-21"
	_, err = f.svc.BookAppointment(ctx, nextDay)
	require.NoError(t, err)
}

func TestBookAppointment_IgnoresRowsWithoutTimes(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	_, err := f.st.Insert(ctx, store.Appointments, store.Record{
		"professional_id": f.pro.ID, "date": "2026-10-20", "status": "scheduled",
	})
	require.NoError(t, err)

	_, err = f.svc.BookAppointment(ctx, f.request("09:00"))
	assert.NoError(t, err)
}

func TestBookAppointment_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, r *BookingRequest)
	}{
		{"placeholder patient", func(_ *fixture, r *BookingRequest) { r.PatientID = Placeholder }},
		{"empty professional", func(_ *fixture, r *BookingRequest) { r.ProfessionalID = "" }},
		{"placeholder service", func(_ *fixture, r *BookingRequest) { r.ServiceID = Placeholder }},
		{"unknown patient", func(_ *fixture, r *BookingRequest) { r.PatientID = "nope" }},
		{"unknown professional", func(_ *fixture, r *BookingRequest) { r.ProfessionalID = "nope" }},
		{"unknown service", func(_ *fixture, r *BookingRequest) { r.ServiceID = "nope" }},
		{"bad date", func(_ *fixture, r *BookingRequest) { r.Date = "20/10/2026" }},
		{"bad start", func(_ *fixture, r *BookingRequest) { r.StartTime = "nine" }},
		{"negative duration", func(_ *fixture, r *BookingRequest) { r.DurationMinutes = -30 }},
		{"crosses midnight", func(_ *fixture, r *BookingRequest) { r.StartTime = "23:45" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestAgenda(t)
			req := f.request("09:00")
			tt.mutate(f, &req)

			_, err := f.svc.BookAppointment(context.Background(), req)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			assert.Empty(t, f.st.rows(store.Appointments))
			assert.Equal(t, []string{OutcomeInvalid}, f.obs.bookings)
		})
	}
}

func TestBookAppointment_DefaultDuration(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	// A service row without a duration falls back to the block size.
	id, err := f.st.Insert(ctx, store.Services, store.Record{"name": "Evaluación", "price": "40000"})
	require.NoError(t, err)

	req := f.request("11:00")
	req.ServiceID = id
	appt, err := f.svc.BookAppointment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "11:30:00", appt.EndTime)

	req = f.request("12:00")
	req.DurationMinutes = 60
	appt, err = f.svc.BookAppointment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "13:00:00", appt.EndTime)
}

func TestBookAppointment_StorageOverlapIsConflict(t *testing.T) {
	f := newTestAgenda(t)
	f.st.insertErr = store.ErrOverlap

	_, err := f.svc.BookAppointment(context.Background(), f.request("09:00"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBookAppointment_BackendErrorPropagates(t *testing.T) {
	f := newTestAgenda(t)
	f.st.insertErr = errBackendDown

	_, err := f.svc.BookAppointment(context.Background(), f.request("09:00"))
	assert.ErrorIs(t, err, errBackendDown)
	assert.False(t, IsValidation(err))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestUpdateAppointmentStatus(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	appt, err := f.svc.BookAppointment(ctx, f.request("09:00"))
	require.NoError(t, err)

	// Changing the service price afterwards must not touch the snapshot.
	price := 99000.0
	_, err = f.svc.SaveService(ctx, ServiceInput{ID: f.service.ID, Name: f.service.Name, DurationMinutes: 45, Price: &price})
	require.NoError(t, err)

	st, err := f.svc.UpdateAppointmentStatus(ctx, appt.ID, "Attended")
	require.NoError(t, err)
	assert.Equal(t, StatusAttended, st)

	rows := f.st.rows(store.Appointments)
	require.Len(t, rows, 1)
	assert.Equal(t, "attended", rows[0]["status"])
	assert.Equal(t, "25000", rows[0]["price"])
	assert.Equal(t, []string{"attended"}, f.obs.statuses)

	// Any status may follow any other.
	_, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, "scheduled")
	assert.NoError(t, err)
}

func TestUpdateAppointmentStatus_Errors(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	_, err := f.svc.UpdateAppointmentStatus(ctx, "missing", "attended")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateAppointmentStatus(ctx, "missing", "done")
	assert.True(t, IsValidation(err))
}

func TestListAppointments(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	late, err := f.svc.BookAppointment(ctx, f.request("15:00"))
	require.NoError(t, err)
	early, err := f.svc.BookAppointment(ctx, f.request("09:00"))
	require.NoError(t, err)
	farAway := f.request("09:00")
	farAway.Date = "2026-12-01"
	_, err = f.svc.BookAppointment(ctx, farAway)
	require.NoError(t, err)
	_, err = f.svc.UpdateAppointmentStatus(ctx, late.ID, "cancelled")
	require.NoError(t, err)

	t.Run("default range is a week around today", func(t *testing.T) {
		items, err := f.svc.ListAppointments(ctx, AppointmentFilter{})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, early.ID, items[0].ID)
		assert.Equal(t, "Ana Pérez", items[0].PatientName)
		assert.Equal(t, "Dra. Rojas", items[0].ProfessionalName)
		assert.Equal(t, "Terapia 45min", items[0].ServiceName)
	})

	t.Run("status filter", func(t *testing.T) {
		items, err := f.svc.ListAppointments(ctx, AppointmentFilter{Status: "cancelled"})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, late.ID, items[0].ID)
	})

	t.Run("explicit inclusive range", func(t *testing.T) {
		items, err := f.svc.ListAppointments(ctx, AppointmentFilter{From: "2026-12-01", To: "2026-12-01"})
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("bad bound", func(t *testing.T) {
		_, err := f.svc.ListAppointments(ctx, AppointmentFilter{From: "yesterday"})
		assert.True(t, IsValidation(err))
	})
}

func TestDayAgenda(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	_, err := f.svc.BookAppointment(ctx, f.request("11:00"))
	require.NoError(t, err)
	_, err = f.svc.BookAppointment(ctx, f.request("09:00"))
	require.NoError(t, err)

	view, err := f.svc.DayAgenda(ctx, "2026-10-20", AgendaOptions{BlockMinutes: 60, Start: "09:00", End: "12:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00", "12:00"}, view.Slots)
	require.Len(t, view.Appointments, 2)
	assert.Equal(t, "09:00:00", view.Appointments[0].StartTime)
	assert.Equal(t, "11:00:00", view.Appointments[1].StartTime)
	assert.Len(t, view.Professionals, 2)
	assert.Equal(t, "Dra. Rojas", view.Professionals[0].Label)
	assert.Equal(t, "Terapia 45min (45 min)", view.Services[0].Label)

	empty, err := f.svc.DayAgenda(ctx, "", AgendaOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", empty.Date)
	assert.Empty(t, empty.Appointments)
	assert.Len(t, empty.Slots, 20)
}

func TestSaveService(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	s, err := f.svc.SaveService(ctx, ServiceInput{Name: "  Control  "})
	require.NoError(t, err)
	assert.Equal(t, "Control", s.Name)
	assert.Equal(t, 30, s.DurationMinutes)
	assert.Equal(t, float64(DefaultServicePrice), s.Price)

	for _, in := range []ServiceInput{
		{Name: ""},
		{Name: "Short", DurationMinutes: 10},
		{Name: "Long", DurationMinutes: 300},
		{Name: "Negative", Price: func() *float64 { v := -1.0; return &v }()},
	} {
		_, err := f.svc.SaveService(ctx, in)
		assert.True(t, IsValidation(err), "input %+v", in)
	}
}

func TestPatients(t *testing.T) {
	f := newTestAgenda(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SavePatient(ctx, &Patient{FullName: "bruno díaz"}))
	assert.True(t, IsValidation(f.svc.SavePatient(ctx, &Patient{FullName: "   "})))
	bad := "18-02-1990"
	assert.True(t, IsValidation(f.svc.SavePatient(ctx, &Patient{FullName: "X", BirthDate: &bad})))

	all, err := f.svc.ListPatients(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ana Pérez", all[0].FullName)
	assert.Equal(t, "bruno díaz", all[1].FullName)

	found, err := f.svc.ListPatients(ctx, "PÉR")
	require.NoError(t, err)
	require.Len(t, found, 1)

	t.Run("edit keeps id and created_at", func(t *testing.T) {
		phone := "+56 9 1234 5678"
		edit := &Patient{ID: f.patient.ID, FullName: "Ana Pérez Soto", Phone: &phone}
		require.NoError(t, f.svc.SavePatient(ctx, edit))

		got, err := f.svc.GetPatient(ctx, f.patient.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ana Pérez Soto", got.FullName)
		assert.Equal(t, phone, *got.Phone)
		assert.True(t, got.CreatedAt.Equal(testNow))
	})

	_, err = f.svc.GetPatient(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackendFetchErrorPropagates(t *testing.T) {
	f := newTestAgenda(t)
	f.st.fetchErr = errBackendDown
	ctx := context.Background()

	_, err := f.svc.ListPatients(ctx, "")
	assert.ErrorIs(t, err, errBackendDown)
	_, err = f.svc.DayAgenda(ctx, "2026-10-20", AgendaOptions{})
	assert.ErrorIs(t, err, errBackendDown)
	_, err = f.svc.BuildReport(ctx, ReportFilter{})
	assert.ErrorIs(t, err, errBackendDown)
}

func TestBookAppointment_ExpiredContextWritesNothing(t *testing.T) {
	f := newTestAgenda(t)
	f.st.fetchDelay = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	appt, err := f.svc.BookAppointment(ctx, f.request("10:00"))
	assert.Nil(t, appt)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsValidation(err))
	assert.Empty(t, f.st.rows(store.Appointments))
	assert.Empty(t, f.obs.bookings)

	// The same request succeeds afterwards instead of hitting its own row.
	f.st.fetchDelay = 0
	_, err = f.svc.BookAppointment(context.Background(), f.request("10:00"))
	require.NoError(t, err)
}
