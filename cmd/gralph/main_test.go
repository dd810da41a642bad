package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

const sampleTasksDoc = `
branchName: integration
tasks:
  - id: t-1
    title: First task
  - id: t-2
    title: Second task
    dependsOn: [t-1]
`

func TestRunOnceMainPrintsUsageWithNoArgs(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	code := RunOnceMain(nil, nil, out, errOut)
	if code != exitInvalidUsage {
		t.Fatalf("expected exit code %d, got %d", exitInvalidUsage, code)
	}
	if errOut.Len() == 0 {
		t.Fatalf("expected usage message on stderr")
	}
}

func TestRunOnceMainRejectsUnknownSubcommand(t *testing.T) {
	code := RunOnceMain([]string{"bogus"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	if code != exitInvalidUsage {
		t.Fatalf("expected exit code %d, got %d", exitInvalidUsage, code)
	}
}

func TestRunCommandDryRunPrintsPlanWithoutExecuting(t *testing.T) {
	repo := t.TempDir()
	tasksPath := filepath.Join(repo, "tasks.yaml")
	if err := os.WriteFile(tasksPath, []byte(sampleTasksDoc), 0o644); err != nil {
		t.Fatalf("write tasks file: %v", err)
	}

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	code := RunOnceMain([]string{"run", "-repo", repo, "-tasks", tasksPath, "-run-root", filepath.Join(repo, "runs"), "-dry-run"}, nil, out, errOut)
	if code != exitOK {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, errOut.String())
	}
	if !containsLine(out.String(), "t-1") || !containsLine(out.String(), "t-2") {
		t.Fatalf("expected plan to list both tasks, got: %s", out.String())
	}
}

func TestRunCommandRejectsConflictingTaskSources(t *testing.T) {
	repo := t.TempDir()
	code := RunOnceMain([]string{"run", "-repo", repo, "-tasks", "a.yaml", "-requirements", "b.md"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	if code != exitInvalidUsage {
		t.Fatalf("expected exit code %d, got %d", exitInvalidUsage, code)
	}
}

func TestInitSkillsCommandInstallsBuiltinBundles(t *testing.T) {
	repo := t.TempDir()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	code := RunOnceMain([]string{"init-skills", "-repo", repo}, nil, out, errOut)
	if code != exitOK {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, errOut.String())
	}
	if out.Len() == 0 {
		t.Fatalf("expected installed skill names on stdout")
	}
	entries, err := os.ReadDir(filepath.Join(repo, ".gralph", "skills"))
	if err != nil {
		t.Fatalf("read skills dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one installed skill bundle")
	}
}

func TestUpdateCommandReportsUpToDateForDevBuilds(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	code := RunOnceMain([]string{"update"}, nil, out, errOut)
	if code != exitOK {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, errOut.String())
	}
	if !containsLine(out.String(), "up to date") {
		t.Fatalf("expected dev build to report up to date, got: %s", out.String())
	}
}

func containsLine(text, substr string) bool {
	for i := 0; i+len(substr) <= len(text); i++ {
		if text[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
