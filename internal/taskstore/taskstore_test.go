package taskstore

import (
	"os"
	"path/filepath"
	"testing"
)

const validDoc = `
branchName: integration
tasks:
  - id: t-1
    title: First task
  - id: t-2
    title: Second task
    dependsOn: [t-1]
`

func TestLoadValidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := New(path)
	taskSet, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(taskSet.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(taskSet.Tasks))
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	doc := validDoc + "\nunknownField: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(path).Load(); err == nil {
		t.Fatalf("expected schema validation error for unknown field")
	}
}

func TestLoadRejectsCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	doc := `
branchName: integration
tasks:
  - id: t-1
    title: A
    dependsOn: [t-2]
  - id: t-2
    title: B
    dependsOn: [t-1]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(path).Load(); err == nil {
		t.Fatalf("expected validation error for cycle")
	}
}

func TestMarkCompletedPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := New(path)
	if err := store.MarkCompleted("t-1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	taskSet, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	task, ok := taskSet.ByID("t-1")
	if !ok || !task.Completed {
		t.Fatalf("expected t-1 marked completed, got %#v ok=%v", task, ok)
	}
}
