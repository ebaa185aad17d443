package clinic

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Intervals that only touch at an endpoint do not
// overlap. Values are compared as normalized "HH:MM:SS" strings.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	a1, a2 := NormalizeClock(aStart), NormalizeClock(aEnd)
	b1, b2 := NormalizeClock(bStart), NormalizeClock(bEnd)
	return !(a2 <= b1 || b2 <= a1)
}

// findConflict returns the first appointment of the same professional and
// day whose interval overlaps [start, end). Rows missing a start or end time
// are ignored.
func findConflict(existing []*Appointment, professionalID, date, start, end string) *Appointment {
	for _, a := range existing {
		if a.ProfessionalID != professionalID || a.Date != date {
			continue
		}
		if a.StartTime == "" || a.EndTime == "" {
			continue
		}
		if Overlaps(start, end, a.StartTime, a.EndTime) {
			return a
		}
	}
	return nil
}
