package logs

import (
	"strings"
	"time"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Strategy resolves a record's event time. ref is the collection instant in
// the device's location; Parse must not touch anything but its arguments.
type Strategy struct {
	Name  string
	Parse func(rec types.RawRecord, ref time.Time) (time.Time, bool)
}

// SourceCollection marks records stamped with the collection instant.
const SourceCollection = "collection"

// DefaultStrategies are tried in order; the first match wins.
var DefaultStrategies = []Strategy{
	{Name: "absolute", Parse: parseAbsolute},
	{Name: "date_time", Parse: parseDateTime},
	{Name: "time_of_day", Parse: parseTimeOfDay},
	{Name: "date_only", Parse: parseDateOnly},
}

// Fractional seconds are accepted after the seconds field even when the
// layout does not list them.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

var dateTimeLayouts = []string{
	"Jan/02/2006 15:04:05",
	"2006-01-02 15:04:05",
	"Jan/02/2006 15:04",
}

var dateLayouts = []string{
	"Jan/02/2006",
	"2006-01-02",
}

// parseAbsolute reads a single ISO-8601-like field. Values without a zone
// are taken in the device location.
func parseAbsolute(rec types.RawRecord, ref time.Time) (time.Time, bool) {
	for _, field := range []string{"timestamp", "time", "ts"} {
		v := strings.TrimSpace(rec[field])
		if v == "" {
			continue
		}
		for _, layout := range absoluteLayouts {
			if t, err := time.ParseInLocation(layout, v, ref.Location()); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// parseDateTime joins a separate date field with the time field, or reads
// a full device-locale stamp such as "jan/02/2024 10:00:01" from time.
func parseDateTime(rec types.RawRecord, ref time.Time) (time.Time, bool) {
	date := strings.TrimSpace(rec["date"])
	clock := strings.TrimSpace(rec["time"])

	var candidates []string
	if date != "" && clock != "" {
		candidates = append(candidates, date+" "+clock)
	}
	if clock != "" {
		candidates = append(candidates, clock)
	}

	for _, v := range candidates {
		for _, layout := range dateTimeLayouts {
			if t, err := time.ParseInLocation(layout, v, ref.Location()); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// parseTimeOfDay handles "10:00:01", anchored to the collection date, and
// "jan/02 10:00:01", anchored to the collection year. A month/day later
// than the collection date belongs to the previous year.
func parseTimeOfDay(rec types.RawRecord, ref time.Time) (time.Time, bool) {
	v := strings.TrimSpace(rec["time"])
	if v == "" {
		return time.Time{}, false
	}
	loc := ref.Location()

	if t, err := time.ParseInLocation("15:04:05", v, loc); err == nil {
		y, m, d := ref.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), true
	}

	if t, err := time.ParseInLocation("Jan/02 15:04:05", v, loc); err == nil {
		out := time.Date(ref.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
		if out.After(ref.Add(24 * time.Hour)) {
			out = out.AddDate(-1, 0, 0)
		}
		return out, true
	}
	return time.Time{}, false
}

func parseDateOnly(rec types.RawRecord, ref time.Time) (time.Time, bool) {
	v := strings.TrimSpace(rec["date"])
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, ref.Location()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
