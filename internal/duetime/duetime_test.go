package duetime

import (
	"testing"
	"time"
)

func TestParseRFC3339(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := Parse("2026-03-04T15:00:00Z", base)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseEmptyIsZeroValue(t *testing.T) {
	got, err := Parse("", time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero time for empty input, got %v", got)
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	got, err := Parse("tomorrow", base)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Day() != 2 {
		t.Fatalf("expected tomorrow to land on day 2, got %v", got)
	}
}
