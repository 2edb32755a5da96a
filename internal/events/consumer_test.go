package events

import (
	"context"
	"testing"

	"github.com/speakeasy-api/granary/internal/storage"
	"github.com/speakeasy-api/granary/internal/storage/memory"
	"github.com/speakeasy-api/granary/internal/types"
)

func TestReadNewRespectsCursor(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	p, err := s.CreateProject(ctx, types.CreateProject{Name: "Widgets"}, storage.EditContext{})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := s.CreateTask(ctx, types.CreateTask{ProjectID: p.ID, Title: "a"}, storage.EditContext{}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := ReadNew(ctx, s, "worker-1", types.EventTaskCreated, 10)
	if err != nil {
		t.Fatalf("ReadNew: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 task.created event, got %d", len(got))
	}

	if err := Advance(ctx, s, "worker-1", got[len(got)-1].ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if _, err := s.CreateTask(ctx, types.CreateTask{ProjectID: p.ID, Title: "b"}, storage.EditContext{}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err = ReadNew(ctx, s, "worker-1", types.EventTaskCreated, 10)
	if err != nil {
		t.Fatalf("ReadNew after advance: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly the new event after advancing cursor, got %d", len(got))
	}
}
