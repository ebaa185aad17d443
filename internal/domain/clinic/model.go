package clinic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cian/agenda/internal/platform/store"
)

// Status is the lifecycle label of an appointment. Any status may be set to
// any other; there is no transition graph.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusAttended  Status = "attended"
	StatusAbsent    Status = "absent"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusScheduled, StatusAttended, StatusAbsent, StatusCancelled}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Statuses {
		if st == v {
			return st, nil
		}
	}
	return "", invalid("status", fmt.Sprintf("invalid appointment status: %q", s))
}

// Patient maps to the patients table.
type Patient struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	RUT       *string   `json:"rut,omitempty"`
	BirthDate *string   `json:"birth_date,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func patientFromRecord(r store.Record) *Patient {
	return &Patient{
		ID:        r["id"],
		FullName:  r["full_name"],
		RUT:       optional(r["rut"]),
		BirthDate: optional(r["birth_date"]),
		Phone:     optional(r["phone"]),
		Email:     optional(r["email"]),
		CreatedAt: parseTimestamp(r["created_at"]),
	}
}

func (p *Patient) record() store.Record {
	rec := store.Record{
		"id":         p.ID,
		"full_name":  p.FullName,
		"rut":        deref(p.RUT),
		"birth_date": deref(p.BirthDate),
		"phone":      deref(p.Phone),
		"email":      deref(p.Email),
	}
	if !p.CreatedAt.IsZero() {
		rec["created_at"] = formatTimestamp(p.CreatedAt)
	}
	return rec
}

// Professional maps to the professionals table.
type Professional struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Specialty *string   `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func professionalFromRecord(r store.Record) *Professional {
	return &Professional{
		ID:        r["id"],
		FullName:  r["full_name"],
		Specialty: optional(r["specialty"]),
		CreatedAt: parseTimestamp(r["created_at"]),
	}
}

func (p *Professional) record() store.Record {
	rec := store.Record{
		"id":        p.ID,
		"full_name": p.FullName,
		"specialty": deref(p.Specialty),
	}
	if !p.CreatedAt.IsZero() {
		rec["created_at"] = formatTimestamp(p.CreatedAt)
	}
	return rec
}

// Service is a bookable clinic service (e.g. "Terapia 30min").
type Service struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	Price           float64   `json:"price"`
	CreatedAt       time.Time `json:"created_at"`
}

func serviceFromRecord(r store.Record) *Service {
	dur, _ := strconv.Atoi(strings.TrimSpace(r["duration_minutes"]))
	price, _ := parsePrice(r["price"])
	return &Service{
		ID:              r["id"],
		Name:            r["name"],
		DurationMinutes: dur,
		Price:           price,
		CreatedAt:       parseTimestamp(r["created_at"]),
	}
}

func (s *Service) record() store.Record {
	rec := store.Record{
		"id":               s.ID,
		"name":             s.Name,
		"duration_minutes": strconv.Itoa(s.DurationMinutes),
		"price":            formatPrice(s.Price),
	}
	if !s.CreatedAt.IsZero() {
		rec["created_at"] = formatTimestamp(s.CreatedAt)
	}
	return rec
}

// Appointment maps to the appointments table. Date is YYYY-MM-DD and the
// times are HH:MM:SS clock values. Price is the service price captured at
// booking time and is never re-derived.
type Appointment struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	ProfessionalID string    `json:"professional_id"`
	ServiceID      string    `json:"service_id"`
	Date           string    `json:"date"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	Status         Status    `json:"status"`
	Notes          *string   `json:"notes,omitempty"`
	Price          *float64  `json:"price,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func appointmentFromRecord(r store.Record) *Appointment {
	a := &Appointment{
		ID:             r["id"],
		PatientID:      r["patient_id"],
		ProfessionalID: r["professional_id"],
		ServiceID:      r["service_id"],
		Date:           r["date"],
		StartTime:      r["start_time"],
		EndTime:        r["end_time"],
		Status:         Status(r["status"]),
		Notes:          optional(r["notes"]),
		CreatedAt:      parseTimestamp(r["created_at"]),
	}
	if p, ok := parsePrice(r["price"]); ok {
		a.Price = &p
	}
	return a
}

func (a *Appointment) record() store.Record {
	rec := store.Record{
		"id":              a.ID,
		"patient_id":      a.PatientID,
		"professional_id": a.ProfessionalID,
		"service_id":      a.ServiceID,
		"date":            a.Date,
		"start_time":      a.StartTime,
		"end_time":        a.EndTime,
		"status":          string(a.Status),
		"notes":           deref(a.Notes),
		"price":           "",
	}
	if a.Price != nil {
		rec["price"] = formatPrice(*a.Price)
	}
	if !a.CreatedAt.IsZero() {
		rec["created_at"] = formatTimestamp(a.CreatedAt)
	}
	return rec
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// parsePrice accepts the numeric text both backends produce. Missing or
// unparsable values report ok=false.
func parsePrice(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "nan") {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func formatPrice(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp reads created_at as written by either backend. Unparsable
// values yield the zero time.
func parseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
