package events

import (
	"encoding/json"
	"testing"
)

func TestParseFiltersEquality(t *testing.T) {
	f, err := ParseFilters([]string{"status=done"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	payload := json.RawMessage(`{"status":"done"}`)
	if !f.Match(payload) {
		t.Fatalf("expected match on status=done")
	}
	if f.Match(json.RawMessage(`{"status":"todo"}`)) {
		t.Fatalf("expected no match on status=todo")
	}
}

func TestParseFiltersNotEqual(t *testing.T) {
	f, err := ParseFilters([]string{"priority != P4"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if !f.Match(json.RawMessage(`{"priority":"P0"}`)) {
		t.Fatalf("expected match when priority differs from P4")
	}
	if f.Match(json.RawMessage(`{"priority":"P4"}`)) {
		t.Fatalf("expected no match when priority equals P4")
	}
}

func TestParseFiltersIn(t *testing.T) {
	f, err := ParseFilters([]string{"kind in [bug, chore]"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if !f.Match(json.RawMessage(`{"kind":"bug"}`)) {
		t.Fatalf("expected match for kind in list")
	}
	if f.Match(json.RawMessage(`{"kind":"feature"}`)) {
		t.Fatalf("expected no match for kind outside list")
	}
}

func TestParseFiltersExists(t *testing.T) {
	f, err := ParseFilters([]string{"owner exists"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if !f.Match(json.RawMessage(`{"owner":"alice"}`)) {
		t.Fatalf("expected match when key present")
	}
	if f.Match(json.RawMessage(`{}`)) {
		t.Fatalf("expected no match when key absent")
	}
}

func TestParseFiltersNotExists(t *testing.T) {
	f, err := ParseFilters([]string{"blocked_reason !exists"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if !f.Match(json.RawMessage(`{}`)) {
		t.Fatalf("expected match when key absent")
	}
	if f.Match(json.RawMessage(`{"blocked_reason":"waiting"}`)) {
		t.Fatalf("expected no match when key present")
	}
}

func TestUnknownKeyIsAbsent(t *testing.T) {
	f, err := ParseFilters([]string{"nonexistent=anything"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if f.Match(json.RawMessage(`{"other":"value"}`)) {
		t.Fatalf("expected unknown key to evaluate to absent and fail equality")
	}
}

func TestFiltersAreANDed(t *testing.T) {
	f, err := ParseFilters([]string{"status=done", "owner=alice"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if !f.Match(json.RawMessage(`{"status":"done","owner":"alice"}`)) {
		t.Fatalf("expected match when both predicates satisfied")
	}
	if f.Match(json.RawMessage(`{"status":"done","owner":"bob"}`)) {
		t.Fatalf("expected no match when only one predicate satisfied")
	}
}
