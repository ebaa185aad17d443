package clinic

import (
	"fmt"
	"strings"
	"time"
)

const (
	clockLayout      = "15:04:05"
	shortClockLayout = "15:04"
	dateLayout       = "2006-01-02"
	secondsPerDay    = 24 * 60 * 60
)

// parseClock returns the seconds since midnight of an "HH:MM" or "HH:MM:SS"
// value.
func parseClock(v string) (int, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{clockLayout, shortClockLayout} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Hour()*3600 + t.Minute()*60 + t.Second(), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", v)
}

func formatClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

func formatShortClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/3600, (seconds/60)%60)
}

// NormalizeClock rewrites a clock value as "HH:MM:SS" so that string order
// matches time order. Values that cannot be parsed are returned trimmed and
// unchanged.
func NormalizeClock(v string) string {
	s, err := parseClock(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return formatClock(s)
}

// GenerateSlots lists the "HH:MM" start times from start to end inclusive,
// stepping by blockMinutes. A non-positive block, an unparsable bound or an
// end before start yields no slots.
func GenerateSlots(blockMinutes int, start, end string) []string {
	if blockMinutes <= 0 {
		return []string{}
	}
	from, err := parseClock(start)
	if err != nil {
		return []string{}
	}
	to, err := parseClock(end)
	if err != nil || to < from {
		return []string{}
	}

	step := blockMinutes * 60
	slots := make([]string, 0, (to-from)/step+1)
	for t := from; t <= to; t += step {
		slots = append(slots, formatShortClock(t))
	}
	return slots
}

// SlotsPerDay is the bookable block count of a workday used as the
// occupancy denominator. It is never below one.
func SlotsPerDay(blockMinutes int, start, end string) int {
	if blockMinutes <= 0 {
		return 1
	}
	from, err1 := parseClock(start)
	to, err2 := parseClock(end)
	if err1 != nil || err2 != nil {
		return 1
	}
	n := ((to-from)/60 + blockMinutes) / blockMinutes
	if n < 1 {
		return 1
	}
	return n
}
