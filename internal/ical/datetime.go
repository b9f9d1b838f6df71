package ical

import (
	"fmt"
	"strings"
	"time"
)

var dateTimeFormats = []string{
	"20060102T150405Z",
	"20060102T150405",
	"20060102T150405-0700",
	"20060102T150405-07:00",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05-07:00",
}

const (
	dateLayout    = "20060102"
	utcLayout     = "20060102T150405Z"
	paramTZID     = "TZID"
	paramValue    = "VALUE"
	valueDate     = "DATE"
	valueDateTime = "DATE-TIME"
)

// parseDateTime parses a DATE or DATE-TIME value. Floating and TZID values
// are read in the named zone (UTC when unknown); the result is normalized to
// UTC. allDay is set for DATE values.
func parseDateTime(value string, params map[string][]string) (t time.Time, allDay bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, fmt.Errorf("empty datetime")
	}
	if isDateValue(value, params) {
		t, err := time.ParseInLocation(dateLayout, value, time.UTC)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid date %q: %w", value, err)
		}
		return t, true, nil
	}

	loc := time.UTC
	if tzid := firstParam(params, paramTZID); tzid != "" && !hasZoneSuffix(value) {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	for _, format := range dateTimeFormats {
		if t, err := time.ParseInLocation(format, value, loc); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid datetime format: %s", value)
}

// ParseTime parses a bare DATE or DATE-TIME value, such as a recurrence id
// passed outside a calendar object. The result is in UTC.
func ParseTime(value string) (time.Time, error) {
	t, _, err := parseDateTime(value, nil)
	return t, err
}

// parseDateList parses a comma separated EXDATE style list.
func parseDateList(value string, params map[string][]string) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		if t, _, err := parseDateTime(part, params); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func isDateValue(value string, params map[string][]string) bool {
	if strings.EqualFold(firstParam(params, paramValue), valueDate) {
		return true
	}
	return len(value) == len(dateLayout) && !strings.Contains(value, "T")
}

// formatDateTime renders t as a UTC DATE-TIME, or as a DATE for all-day
// values.
func formatDateTime(t time.Time, allDay bool) (string, []string) {
	if allDay {
		return t.Format(dateLayout), []string{valueDate}
	}
	return t.UTC().Format(utcLayout), nil
}

func hasZoneSuffix(s string) bool {
	if strings.HasSuffix(s, "Z") {
		return true
	}
	if len(s) >= 5 {
		tail := s[len(s)-5:]
		if (tail[0] == '+' || tail[0] == '-') && isDigits(tail[1:]) {
			return true
		}
	}
	if len(s) >= 6 {
		tail := s[len(s)-6:]
		if (tail[0] == '+' || tail[0] == '-') && tail[3] == ':' && isDigits(tail[1:3]) && isDigits(tail[4:]) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func firstParam(params map[string][]string, key string) string {
	for k, vs := range params {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return strings.Trim(vs[0], `"`)
		}
	}
	return ""
}
