package schedule

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// The scheduling calendar runs on US Eastern time regardless of where the
// submitter is. Every incoming date is re-bucketed into the Eastern calendar
// day it falls on, and that (year, month, day) tuple is encoded as midnight
// UTC. The resulting key is what gets stored and compared; it is not the real
// Eastern midnight instant, and existing data depends on it staying that way.
var eastern = mustLocation("America/New_York")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("load location %s: %v", name, err))
	}
	return loc
}

// Day is one scheduling calendar day: Start is the day key, End the
// following day's key (exclusive bound for range queries).
type Day struct {
	Start time.Time
	End   time.Time
}

// Timestamp layouts accepted from form submissions. Date-only layouts are
// interpreted as Eastern local dates; layouts with a time component are
// parsed as instants and then re-bucketed.
var (
	dateOnlyLayouts = []string{"2006-01-02", "01/02/2006"}
	instantLayouts  = []string{time.RFC3339, "2006-01-02T15:04:05", time.RFC1123Z}
)

// Normalize converts arbitrary date input into its Day. Unparsable input
// returns an error; callers collect these as failed dates rather than
// aborting the batch.
func Normalize(raw string) (Day, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Day{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateOnlyLayouts {
		if t, err := time.ParseInLocation(layout, raw, eastern); err == nil {
			return FromTime(t), nil
		}
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return FromTime(t), nil
		}
	}
	return Day{}, fmt.Errorf("unrecognized date %q", raw)
}

// FromTime builds the Day for the Eastern calendar date that t falls on.
// Only for raw client instants; stored day keys go through FromKey.
func FromTime(t time.Time) Day {
	y, m, d := t.In(eastern).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// FromKey rebuilds the Day for an already-stored day key. A key is a literal
// UTC midnight, not an instant; re-bucketing it through Eastern would shift
// it back a day, so this reads the UTC calendar date and is idempotent on
// keys.
func FromKey(key time.Time) Day {
	y, m, d := key.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// Today returns the current scheduling day as of now.
func Today(now time.Time) Day {
	return FromTime(now)
}

// Equal reports whether two days share the same key.
func (d Day) Equal(other Day) bool {
	return d.Start.Equal(other.Start)
}

// Contains reports whether the stored instant falls within this day.
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Before reports whether this day precedes other.
func (d Day) Before(other Day) bool {
	return d.Start.Before(other.Start)
}

// ISO formats the day key as YYYY-MM-DD for API responses.
func (d Day) ISO() string {
	return d.Start.Format("2006-01-02")
}

// Display formats the day key as MM/DD/YYYY for email bodies.
func (d Day) Display() string {
	return d.Start.Format("01/02/2006")
}
