package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeSlug(t *testing.T) {
	cases := map[string]string{
		"My Big Project": "my-big-project",
		"  test  ":       "test",
		"foo--bar":       "foo-bar",
		"Hello World!":   "hello-world",
	}
	for in, want := range cases {
		if got := NormalizeSlug(in); got != want {
			t.Errorf("NormalizeSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateProjectID(t *testing.T) {
	id := GenerateProjectID("My Project")
	if !strings.HasPrefix(id, "my-project-") {
		t.Fatalf("id %q missing expected prefix", id)
	}
	if len(id) != len("my-project-")+4 {
		t.Fatalf("id %q has unexpected length", id)
	}
}

func TestGenerateInitiativeID(t *testing.T) {
	id := GenerateInitiativeID("My Initiative")
	if !strings.HasPrefix(id, "my-initiative-") {
		t.Fatalf("id %q missing expected prefix", id)
	}
	if len(id) != len("my-initiative-")+4 {
		t.Fatalf("id %q has unexpected length", id)
	}
}

func TestGenerateTaskID(t *testing.T) {
	got := GenerateTaskID("my-project-5h18", 42)
	want := "my-project-5h18-task-42"
	if got != want {
		t.Fatalf("GenerateTaskID = %q, want %q", got, want)
	}
}

func TestParseTaskID(t *testing.T) {
	projectID, n, err := ParseTaskID("my-project-5h18-task-42")
	if err != nil {
		t.Fatal(err)
	}
	if projectID != "my-project-5h18" || n != 42 {
		t.Fatalf("got (%q, %d)", projectID, n)
	}
}

func TestParseCommentID(t *testing.T) {
	parentID, n, err := ParseCommentID("my-project-5h18-task-42-comment-3")
	if err != nil {
		t.Fatal(err)
	}
	if parentID != "my-project-5h18-task-42" || n != 3 {
		t.Fatalf("got (%q, %d)", parentID, n)
	}
}

func TestParseArtifactID(t *testing.T) {
	parentID, n, err := ParseArtifactID("my-project-5h18-task-42-artifact-1")
	if err != nil {
		t.Fatal(err)
	}
	if parentID != "my-project-5h18-task-42" || n != 1 {
		t.Fatalf("got (%q, %d)", parentID, n)
	}
}

func TestParseInitiativeSlug(t *testing.T) {
	slug, err := ParseInitiativeSlug("my-initiative-5h18")
	if err != nil {
		t.Fatal(err)
	}
	if slug != "my-initiative" {
		t.Fatalf("slug = %q, want my-initiative", slug)
	}
}

func TestParseProjectSlug(t *testing.T) {
	slug, err := ParseProjectSlug("my-project-5h18")
	if err != nil {
		t.Fatal(err)
	}
	if slug != "my-project" {
		t.Fatalf("slug = %q, want my-project", slug)
	}
}

func TestGenerateWorkerID(t *testing.T) {
	id := GenerateWorkerID()
	if !strings.HasPrefix(id, "worker-") {
		t.Fatalf("id %q missing expected prefix", id)
	}
	if len(id) != len("worker-")+8 {
		t.Fatalf("id %q has unexpected length", id)
	}
}

func TestGenerateRunID(t *testing.T) {
	id := GenerateRunID()
	if !strings.HasPrefix(id, "run-") {
		t.Fatalf("id %q missing expected prefix", id)
	}
	if len(id) != len("run-")+8 {
		t.Fatalf("id %q has unexpected length", id)
	}
}

func TestGenerateCheckpointID(t *testing.T) {
	id := GenerateCheckpointID()
	if !strings.HasPrefix(id, "chkpt-") {
		t.Fatalf("id %q missing expected prefix", id)
	}
	if len(id) != len("chkpt-")+8 {
		t.Fatalf("id %q has unexpected length", id)
	}
}

func TestGenerateSessionID(t *testing.T) {
	now := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)
	id := GenerateSessionID(now)
	want := "sess-20260111-"
	if !strings.HasPrefix(id, want) {
		t.Fatalf("id %q missing expected prefix %q", id, want)
	}
	if len(id) != len(want)+4 {
		t.Fatalf("id %q has unexpected length", id)
	}
}

func TestParseTaskIDInvalid(t *testing.T) {
	if _, _, err := ParseTaskID("not-a-task-id"); err == nil {
		t.Fatal("expected error for missing task number")
	}
	if !IsParseError(func() error { _, _, err := ParseTaskID("nope"); return err }()) {
		t.Fatal("expected a *ParseError")
	}
}
