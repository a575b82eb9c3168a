package schedule

import (
	"testing"
	"time"
)

func TestNormalizeDateOnly(t *testing.T) {
	day, err := Normalize("2025-03-10")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if !day.Start.Equal(want) {
		t.Fatalf("expected key %s, got %s", want, day.Start)
	}
	if !day.End.Equal(want.AddDate(0, 0, 1)) {
		t.Fatalf("expected exclusive end %s, got %s", want.AddDate(0, 0, 1), day.End)
	}

	slash, err := Normalize("03/10/2025")
	if err != nil {
		t.Fatalf("normalize slash form: %v", err)
	}
	if !slash.Equal(day) {
		t.Fatalf("expected 03/10/2025 to equal 2025-03-10")
	}
}

func TestNormalizeRebucketsIntoEastern(t *testing.T) {
	// 03:30 UTC on March 11 is 23:30 on March 10 in New York (EDT).
	day, err := Normalize("2025-03-11T03:30:00Z")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := day.ISO(); got != "2025-03-10" {
		t.Fatalf("expected 2025-03-10, got %s", got)
	}
}

func TestDayKeyDependsOnlyOnEasternDate(t *testing.T) {
	inputs := []string{
		"2025-03-10T08:00:00Z",       // 04:00 Eastern
		"2025-03-10T12:00:00-04:00",  // noon Eastern
		"2025-03-10T23:59:00-04:00",  // just before Eastern midnight
		"2025-03-11T03:30:00Z",       // 23:30 Eastern on the 10th
		"2025-03-10",
	}
	first, err := Normalize(inputs[0])
	if err != nil {
		t.Fatalf("normalize %s: %v", inputs[0], err)
	}
	for _, in := range inputs[1:] {
		day, err := Normalize(in)
		if err != nil {
			t.Fatalf("normalize %s: %v", in, err)
		}
		if !day.Equal(first) {
			t.Fatalf("%s normalized to %s, expected %s", in, day.ISO(), first.ISO())
		}
	}
}

func TestFromKeyIsIdentityOnStoredKeys(t *testing.T) {
	// A stored key is the Eastern date's (y,m,d) as literal UTC midnight.
	// Reading it back must not re-bucket through Eastern, which would
	// shift it to the previous day.
	key := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	day := FromKey(key)
	if !day.Start.Equal(key) {
		t.Fatalf("FromKey moved the key: %s", day.Start)
	}
	if got := FromKey(day.Start); !got.Equal(day) {
		t.Fatalf("FromKey not idempotent: %s", got.Start)
	}

	// Round trip: normalize client input, store the key, read it back.
	normalized, err := Normalize("2025-03-10T23:30:00-04:00")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := FromKey(normalized.Start); got.ISO() != "2025-03-10" {
		t.Fatalf("read-back shifted the day: %s", got.ISO())
	}
}

func TestNormalizeInvalid(t *testing.T) {
	for _, in := range []string{"", "not-a-date", "2025-13-40", "10am tomorrow"} {
		if _, err := Normalize(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestContainsAndBefore(t *testing.T) {
	day, _ := Normalize("2025-03-10")
	next, _ := Normalize("2025-03-11")
	if !day.Contains(day.Start) {
		t.Fatalf("day should contain its own key")
	}
	if day.Contains(next.Start) {
		t.Fatalf("day should not contain the next key")
	}
	if !day.Before(next) || next.Before(day) {
		t.Fatalf("ordering broken")
	}
}

func TestTodayUsesEasternCalendar(t *testing.T) {
	// 02:00 UTC on June 2 is still June 1 in New York.
	now := time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC)
	if got := Today(now).ISO(); got != "2025-06-01" {
		t.Fatalf("expected 2025-06-01, got %s", got)
	}
}

func TestFormats(t *testing.T) {
	day, _ := Normalize("2025-03-10")
	if day.ISO() != "2025-03-10" {
		t.Fatalf("iso format: %s", day.ISO())
	}
	if day.Display() != "03/10/2025" {
		t.Fatalf("display format: %s", day.Display())
	}
}
