package clinic

import (
	"context"
	"sort"
	"strings"
	"time"
)

// ReportFilter scopes a report to appointments dated within [From, To].
// Professional, when set, keeps only professionals whose name contains it
// (case-insensitive).
type ReportFilter struct {
	From         string
	To           string
	Professional string
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type ProfessionalCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Occupancy is total appointments over available slots, where available =
// distinct professionals × distinct days × slots per day.
type Occupancy struct {
	Percent     float64 `json:"percent"`
	Used        int     `json:"used"`
	Available   int     `json:"available"`
	SlotsPerDay int     `json:"slots_per_day"`
}

type Report struct {
	From             string              `json:"from"`
	To               string              `json:"to"`
	Empty            bool                `json:"empty"`
	Total            int                 `json:"total"`
	Attended         int                 `json:"attended"`
	Cancelled        int                 `json:"cancelled"`
	Absent           int                 `json:"absent"`
	Revenue          float64             `json:"revenue"`
	Daily            []DailyCount        `json:"daily"`
	Occupancy        Occupancy           `json:"occupancy"`
	TopProfessionals []ProfessionalCount `json:"top_professionals"`
}

// BuildReport computes the KPIs for the filter. Empty bounds default to the
// first day of the current month through today. An inverted range selects
// nothing and yields an empty report.
func (a *Agenda) BuildReport(ctx context.Context, f ReportFilter) (*Report, error) {
	now := a.now()
	from, err := dateOrDefault(f.From, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()))
	if err != nil {
		return nil, invalid("from", err.Error())
	}
	to, err := dateOrDefault(f.To, now)
	if err != nil {
		return nil, invalid("to", err.Error())
	}
	appts, err := a.appointments.List(ctx)
	if err != nil {
		return nil, err
	}
	pros, err := a.professionals.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(pros))
	for _, p := range pros {
		names[p.ID] = p.FullName
	}

	f.From, f.To = from, to
	return Summarize(appts, names, f, a.settings), nil
}

// Summarize aggregates appointments already loaded in memory. names maps
// professional id to display name. From and To must be YYYY-MM-DD.
func Summarize(appts []*Appointment, names map[string]string, f ReportFilter, s Settings) *Report {
	r := &Report{
		From:             f.From,
		To:               f.To,
		Daily:            []DailyCount{},
		TopProfessionals: []ProfessionalCount{},
	}

	needle := strings.ToLower(strings.TrimSpace(f.Professional))
	var scoped []*Appointment
	for _, appt := range appts {
		if appt.Date < f.From || appt.Date > f.To {
			continue
		}
		if needle != "" {
			name, ok := names[appt.ProfessionalID]
			if !ok || !strings.Contains(strings.ToLower(name), needle) {
				continue
			}
		}
		scoped = append(scoped, appt)
	}

	r.Occupancy.SlotsPerDay = SlotsPerDay(s.BlockMinutes, s.WorkdayStart, s.WorkdayEnd)
	if len(scoped) == 0 {
		r.Empty = true
		return r
	}

	perDay := map[string]int{}
	perPro := map[string]int{}
	distinctPros := map[string]bool{}
	for _, appt := range scoped {
		r.Total++
		switch appt.Status {
		case StatusAttended:
			r.Attended++
		case StatusCancelled:
			r.Cancelled++
		case StatusAbsent:
			r.Absent++
		}
		if appt.Price != nil {
			r.Revenue += *appt.Price
		}
		perDay[appt.Date]++
		distinctPros[appt.ProfessionalID] = true
		if name, ok := names[appt.ProfessionalID]; ok {
			perPro[name]++
		}
	}

	for d, n := range perDay {
		r.Daily = append(r.Daily, DailyCount{Date: d, Count: n})
	}
	sort.Slice(r.Daily, func(i, j int) bool { return r.Daily[i].Date < r.Daily[j].Date })

	for name, n := range perPro {
		r.TopProfessionals = append(r.TopProfessionals, ProfessionalCount{Name: name, Count: n})
	}
	sort.Slice(r.TopProfessionals, func(i, j int) bool {
		if r.TopProfessionals[i].Count != r.TopProfessionals[j].Count {
			return r.TopProfessionals[i].Count > r.TopProfessionals[j].Count
		}
		return r.TopProfessionals[i].Name < r.TopProfessionals[j].Name
	})

	r.Occupancy.Used = r.Total
	r.Occupancy.Available = len(distinctPros) * len(perDay) * r.Occupancy.SlotsPerDay
	if r.Occupancy.Available > 0 {
		r.Occupancy.Percent = float64(r.Total) / float64(r.Occupancy.Available) * 100
	}
	return r
}
