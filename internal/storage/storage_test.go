package storage

import (
	"testing"
)

func TestErrorKindWrapping(t *testing.T) {
	base := NotFoundf("task %s not found", "x-task-1")
	if !Is(base, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", base)
	}
	if Is(base, KindConflict) {
		t.Fatalf("did not expect KindConflict")
	}

	wrapped := Wrap(KindIo, "reading db", base)
	if !Is(wrapped, KindIo) {
		t.Fatalf("expected KindIo, got %v", wrapped)
	}
}

func TestEditContextZeroValue(t *testing.T) {
	var ec EditContext
	if ec.Actor != "" || ec.SessionID != "" {
		t.Fatalf("expected zero-value EditContext to have empty fields")
	}
}
