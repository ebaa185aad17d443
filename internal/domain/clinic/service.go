package clinic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Placeholder is the value an unresolved selection arrives with from the
// booking form.
const Placeholder = "—"

// DefaultServicePrice is applied when a service is created without a price.
const DefaultServicePrice = 30000

const (
	minServiceMinutes = 15
	maxServiceMinutes = 240
)

// Booking outcomes reported to the Observer.
const (
	OutcomeCreated  = "created"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
)

// Settings holds the workday grid used for slots, default durations and
// occupancy.
type Settings struct {
	BlockMinutes int
	WorkdayStart string
	WorkdayEnd   string
}

// Observer receives booking and status-update events. The metrics package
// provides the production implementation.
type Observer interface {
	BookingAttempt(outcome string)
	StatusUpdated(status string)
}

type nopObserver struct{}

func (nopObserver) BookingAttempt(string) {}
func (nopObserver) StatusUpdated(string)  {}

// Agenda implements the clinic use cases over the entity repositories.
type Agenda struct {
	patients      PatientRepository
	professionals ProfessionalRepository
	services      ServiceRepository
	appointments  AppointmentRepository

	settings Settings
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time

	// bookMu serialises the conflict check and the insert of a booking.
	bookMu sync.Mutex
}

// Option configures an Agenda.
type Option func(*Agenda)

func WithLogger(l zerolog.Logger) Option { return func(a *Agenda) { a.logger = l } }

func WithObserver(o Observer) Option {
	return func(a *Agenda) {
		if o != nil {
			a.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option { return func(a *Agenda) { a.now = now } }

func NewAgenda(repos Repositories, settings Settings, opts ...Option) *Agenda {
	a := &Agenda{
		patients:      repos.Patients,
		professionals: repos.Professionals,
		services:      repos.Services,
		appointments:  repos.Appointments,
		settings:      settings,
		logger:        zerolog.Nop(),
		observer:      nopObserver{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Settings returns the configured workday grid.
func (a *Agenda) Settings() Settings { return a.settings }

// --- patients ---

func (a *Agenda) SavePatient(ctx context.Context, p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return invalid("full_name", "full name is required")
	}
	if bd := deref(p.BirthDate); bd != "" {
		if _, err := time.Parse(dateLayout, bd); err != nil {
			return invalid("birth_date", "birth date must be YYYY-MM-DD")
		}
	}
	if p.ID == "" {
		p.CreatedAt = a.now()
	}
	return a.patients.Save(ctx, p)
}

// ListPatients returns patients sorted by name. A non-empty search keeps only
// names containing it, ignoring case.
func (a *Agenda) ListPatients(ctx context.Context, search string) ([]*Patient, error) {
	all, err := a.patients.List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]*Patient, 0, len(all))
	for _, p := range all {
		if needle == "" || strings.Contains(strings.ToLower(p.FullName), needle) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].FullName) < strings.ToLower(out[j].FullName)
	})
	return out, nil
}

func (a *Agenda) GetPatient(ctx context.Context, id string) (*Patient, error) {
	all, err := a.patients.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
}

// --- professionals ---

func (a *Agenda) SaveProfessional(ctx context.Context, p *Professional) error {
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return invalid("full_name", "full name is required")
	}
	if p.ID == "" {
		p.CreatedAt = a.now()
	}
	return a.professionals.Save(ctx, p)
}

func (a *Agenda) ListProfessionals(ctx context.Context) ([]*Professional, error) {
	all, err := a.professionals.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return strings.ToLower(all[i].FullName) < strings.ToLower(all[j].FullName)
	})
	return all, nil
}

func (a *Agenda) GetProfessional(ctx context.Context, id string) (*Professional, error) {
	all, err := a.professionals.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("professional %s: %w", id, ErrNotFound)
}

// --- services ---

// ServiceInput is the create/edit payload of a service. Zero duration falls
// back to the block size and a nil price to DefaultServicePrice.
type ServiceInput struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	DurationMinutes int      `json:"duration_minutes"`
	Price           *float64 `json:"price"`
}

func (a *Agenda) SaveService(ctx context.Context, in ServiceInput) (*Service, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "service name is required")
	}
	dur := in.DurationMinutes
	if dur == 0 {
		dur = a.settings.BlockMinutes
	}
	if dur < minServiceMinutes || dur > maxServiceMinutes {
		return nil, invalid("duration_minutes",
			fmt.Sprintf("duration must be between %d and %d minutes", minServiceMinutes, maxServiceMinutes))
	}
	price := float64(DefaultServicePrice)
	if in.Price != nil {
		price = *in.Price
	}
	if price < 0 {
		return nil, invalid("price", "price cannot be negative")
	}

	s := &Service{ID: in.ID, Name: name, DurationMinutes: dur, Price: price}
	if s.ID == "" {
		s.CreatedAt = a.now()
	}
	if err := a.services.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *Agenda) ListServices(ctx context.Context) ([]*Service, error) {
	all, err := a.services.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
	})
	return all, nil
}

func (a *Agenda) GetService(ctx context.Context, id string) (*Service, error) {
	all, err := a.services.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("service %s: %w", id, ErrNotFound)
}

// --- appointments ---

// BookingRequest is the booking form payload. StartTime accepts "HH:MM" or
// "HH:MM:SS". A zero DurationMinutes uses the service duration, or the block
// size when the service has none.
type BookingRequest struct {
	PatientID       string `json:"patient_id"`
	ProfessionalID  string `json:"professional_id"`
	ServiceID       string `json:"service_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
}

func unresolved(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || id == Placeholder
}

// BookAppointment validates the request, rejects it with ErrConflict when it
// overlaps another appointment of the same professional on the same day, and
// otherwise stores it as scheduled with the current service price.
func (a *Agenda) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := a.book(ctx, req)
	switch {
	case err == nil:
		a.observer.BookingAttempt(OutcomeCreated)
	case errors.Is(err, ErrConflict):
		a.observer.BookingAttempt(OutcomeConflict)
	case IsValidation(err):
		a.observer.BookingAttempt(OutcomeInvalid)
	}
	return appt, err
}

func (a *Agenda) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if unresolved(req.PatientID) || unresolved(req.ProfessionalID) || unresolved(req.ServiceID) {
		return nil, invalid("", "complete patient, professional and service")
	}
	day, err := time.Parse(dateLayout, strings.TrimSpace(req.Date))
	if err != nil {
		return nil, invalid("date", "date must be YYYY-MM-DD")
	}
	date := day.Format(dateLayout)
	start, err := parseClock(req.StartTime)
	if err != nil {
		return nil, invalid("start_time", "start time must be HH:MM")
	}
	if req.DurationMinutes < 0 {
		return nil, invalid("duration_minutes", "duration cannot be negative")
	}

	if _, err := a.GetPatient(ctx, strings.TrimSpace(req.PatientID)); err != nil {
		return nil, asUnknown(err, "patient_id", "unknown patient")
	}
	pro, err := a.GetProfessional(ctx, strings.TrimSpace(req.ProfessionalID))
	if err != nil {
		return nil, asUnknown(err, "professional_id", "unknown professional")
	}
	svc, err := a.GetService(ctx, strings.TrimSpace(req.ServiceID))
	if err != nil {
		return nil, asUnknown(err, "service_id", "unknown service")
	}

	dur := req.DurationMinutes
	if dur == 0 {
		dur = svc.DurationMinutes
	}
	if dur <= 0 {
		dur = a.settings.BlockMinutes
	}
	end := start + dur*60
	if end > secondsPerDay {
		return nil, invalid("duration_minutes", "appointment must end on the same day")
	}

	price := svc.Price
	appt := &Appointment{
		PatientID:      strings.TrimSpace(req.PatientID),
		ProfessionalID: pro.ID,
		ServiceID:      svc.ID,
		Date:           date,
		StartTime:      formatClock(start),
		EndTime:        formatClock(end),
		Status:         StatusScheduled,
		Notes:          optional(req.Notes),
		Price:          &price,
		CreatedAt:      a.now(),
	}

	a.bookMu.Lock()
	defer a.bookMu.Unlock()

	existing, err := a.appointments.List(ctx)
	if err != nil {
		return nil, err
	}
	if c := findConflict(existing, appt.ProfessionalID, appt.Date, appt.StartTime, appt.EndTime); c != nil {
		a.logger.Warn().
			Str("professional_id", appt.ProfessionalID).
			Str("date", appt.Date).
			Str("requested", appt.StartTime+"-"+appt.EndTime).
			Str("existing", c.ID).
			Msg("booking rejected: schedule conflict")
		return nil, ErrConflict
	}
	// A caller that gave up while the agenda was loading gets no booking.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("book appointment: %w", err)
	}
	if err := a.appointments.Create(ctx, appt); err != nil {
		if errors.Is(err, ErrConflict) {
			a.logger.Warn().Str("professional_id", appt.ProfessionalID).Str("date", appt.Date).
				Msg("booking rejected by storage constraint")
		}
		return nil, err
	}
	a.logger.Info().Str("appointment_id", appt.ID).Str("date", appt.Date).
		Str("start_time", appt.StartTime).Msg("appointment booked")
	return appt, nil
}

func asUnknown(err error, field, msg string) error {
	if errors.Is(err, ErrNotFound) {
		return invalid(field, msg)
	}
	return err
}

// UpdateAppointmentStatus changes only the status of an appointment.
func (a *Agenda) UpdateAppointmentStatus(ctx context.Context, id, status string) (Status, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return "", err
	}
	all, err := a.appointments.List(ctx)
	if err != nil {
		return "", err
	}
	found := false
	for _, appt := range all {
		if appt.ID == id {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if err := a.appointments.UpdateStatus(ctx, id, st); err != nil {
		return "", err
	}
	a.observer.StatusUpdated(string(st))
	return st, nil
}

// AppointmentView is an appointment joined with the display names of its
// references. Names are empty when the reference no longer resolves.
type AppointmentView struct {
	*Appointment
	PatientName      string `json:"patient_name"`
	ProfessionalName string `json:"professional_name"`
	ServiceName      string `json:"service_name"`
}

// AppointmentFilter selects appointments whose date is within [From, To].
// Empty bounds default to seven days around today.
type AppointmentFilter struct {
	From   string
	To     string
	Status string
}

func (a *Agenda) ListAppointments(ctx context.Context, f AppointmentFilter) ([]AppointmentView, error) {
	now := a.now()
	from, err := dateOrDefault(f.From, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, invalid("from", err.Error())
	}
	to, err := dateOrDefault(f.To, now.AddDate(0, 0, 7))
	if err != nil {
		return nil, invalid("to", err.Error())
	}
	var status Status
	if strings.TrimSpace(f.Status) != "" {
		if status, err = ParseStatus(f.Status); err != nil {
			return nil, err
		}
	}

	all, err := a.appointments.List(ctx)
	if err != nil {
		return nil, err
	}
	var selected []*Appointment
	for _, appt := range all {
		if appt.Date < from || appt.Date > to {
			continue
		}
		if status != "" && appt.Status != status {
			continue
		}
		selected = append(selected, appt)
	}
	return a.join(ctx, selected)
}

func dateOrDefault(v string, def time.Time) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def.Format(dateLayout), nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return "", fmt.Errorf("date must be YYYY-MM-DD")
	}
	return t.Format(dateLayout), nil
}

// join resolves display names and sorts by date then start time.
func (a *Agenda) join(ctx context.Context, appts []*Appointment) ([]AppointmentView, error) {
	names, err := a.lookupNames(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]AppointmentView, 0, len(appts))
	for _, appt := range appts {
		views = append(views, AppointmentView{
			Appointment:      appt,
			PatientName:      names.patients[appt.PatientID],
			ProfessionalName: names.professionals[appt.ProfessionalID],
			ServiceName:      names.services[appt.ServiceID],
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Date != views[j].Date {
			return views[i].Date < views[j].Date
		}
		return NormalizeClock(views[i].StartTime) < NormalizeClock(views[j].StartTime)
	})
	return views, nil
}

type nameIndex struct {
	patients      map[string]string
	professionals map[string]string
	services      map[string]string
}

func (a *Agenda) lookupNames(ctx context.Context) (nameIndex, error) {
	idx := nameIndex{
		patients:      map[string]string{},
		professionals: map[string]string{},
		services:      map[string]string{},
	}
	pats, err := a.patients.List(ctx)
	if err != nil {
		return idx, err
	}
	for _, p := range pats {
		idx.patients[p.ID] = p.FullName
	}
	pros, err := a.professionals.List(ctx)
	if err != nil {
		return idx, err
	}
	for _, p := range pros {
		idx.professionals[p.ID] = p.FullName
	}
	svcs, err := a.services.List(ctx)
	if err != nil {
		return idx, err
	}
	for _, s := range svcs {
		idx.services[s.ID] = s.Name
	}
	return idx, nil
}

// --- day agenda ---

// AgendaOptions overrides the workday grid for one request. Zero values use
// the configured settings.
type AgendaOptions struct {
	BlockMinutes int
	Start        string
	End          string
}

// Choice is one selectable entry of the booking form.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type DayView struct {
	Date          string            `json:"date"`
	BlockMinutes  int               `json:"block_minutes"`
	Slots         []string          `json:"slots"`
	Appointments  []AppointmentView `json:"appointments"`
	Patients      []Choice          `json:"patients"`
	Professionals []Choice          `json:"professionals"`
	Services      []Choice          `json:"services"`
	Statuses      []Status          `json:"statuses"`
}

// DayAgenda returns the appointments of one day sorted by start time, the
// slot grid and the selection options of the booking form.
func (a *Agenda) DayAgenda(ctx context.Context, date string, opts AgendaOptions) (*DayView, error) {
	day, err := dateOrDefault(date, a.now())
	if err != nil {
		return nil, invalid("date", err.Error())
	}
	block := opts.BlockMinutes
	if block == 0 {
		block = a.settings.BlockMinutes
	}
	if block < 0 {
		return nil, invalid("block", "block must be positive")
	}
	start, end := opts.Start, opts.End
	if start == "" {
		start = a.settings.WorkdayStart
	}
	if end == "" {
		end = a.settings.WorkdayEnd
	}
	if _, err := parseClock(start); err != nil {
		return nil, invalid("start", "start must be HH:MM")
	}
	if _, err := parseClock(end); err != nil {
		return nil, invalid("end", "end must be HH:MM")
	}

	all, err := a.appointments.List(ctx)
	if err != nil {
		return nil, err
	}
	var sameDay []*Appointment
	for _, appt := range all {
		if appt.Date == day {
			sameDay = append(sameDay, appt)
		}
	}
	views, err := a.join(ctx, sameDay)
	if err != nil {
		return nil, err
	}

	pats, err := a.ListPatients(ctx, "")
	if err != nil {
		return nil, err
	}
	pros, err := a.ListProfessionals(ctx)
	if err != nil {
		return nil, err
	}
	svcs, err := a.ListServices(ctx)
	if err != nil {
		return nil, err
	}

	dv := &DayView{
		Date:          day,
		BlockMinutes:  block,
		Slots:         GenerateSlots(block, start, end),
		Appointments:  views,
		Patients:      make([]Choice, 0, len(pats)),
		Professionals: make([]Choice, 0, len(pros)),
		Services:      make([]Choice, 0, len(svcs)),
		Statuses:      Statuses,
	}
	for _, p := range pats {
		dv.Patients = append(dv.Patients, Choice{ID: p.ID, Label: p.FullName})
	}
	for _, p := range pros {
		dv.Professionals = append(dv.Professionals, Choice{ID: p.ID, Label: p.FullName})
	}
	for _, s := range svcs {
		dv.Services = append(dv.Services, Choice{ID: s.ID, Label: fmt.Sprintf("%s (%d min)", s.Name, s.DurationMinutes)})
	}
	return dv, nil
}
