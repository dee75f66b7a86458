package tabular

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	dmyPattern    = regexp.MustCompile(`^(\d{2})-(\d{2})-(\d{4})$`)
)

// CoerceCell interprets one raw cell value. Empty strings become nil,
// numeric-looking strings become float64, dd-mm-yyyy strings become dates
// when the calendar date is real, and anything else stays a string.
func CoerceCell(raw string) any {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}

	if numberPattern.MatchString(value) {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}

	if m := dmyPattern.FindStringSubmatch(value); m != nil {
		if ts, ok := parseDayMonthYear(m[1], m[2], m[3]); ok {
			return ts
		}
	}

	return value
}

// parseDayMonthYear builds a date from dd, mm, yyyy components and accepts it
// only when the components round-trip exactly. time.Date normalizes overflow
// (32-13 rolls into the next month/year), which is exactly the case to reject.
func parseDayMonthYear(dayStr, monthStr, yearStr string) (time.Time, bool) {
	day, _ := strconv.Atoi(dayStr)
	month, _ := strconv.Atoi(monthStr)
	year, _ := strconv.Atoi(yearStr)

	ts := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if ts.Year() != year || int(ts.Month()) != month || ts.Day() != day {
		return time.Time{}, false
	}
	return ts, true
}
