package execrunner

import (
	"context"
	"strings"
	"testing"
)

func TestCommandRunnerCapturesOutput(t *testing.T) {
	runner := NewCommandRunner()
	out, err := runner.Run(context.Background(), "", "echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", out)
	}
}

func TestCommandRunnerWrapsFailureWithOutput(t *testing.T) {
	runner := NewCommandRunner()
	_, err := runner.Run(context.Background(), "", "ls", "/no/such/path/gralph-test")
	if err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestFakeRunnerReplaysScriptedOutput(t *testing.T) {
	fake := NewFakeRunner()
	fake.Script("git", []string{"status"}, "clean\n")

	out, err := fake.Run(context.Background(), "/repo", "git", "status")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "clean\n" {
		t.Fatalf("expected scripted output, got %q", out)
	}

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Dir != "/repo" || calls[0].Name != "git" {
		t.Fatalf("unexpected calls recorded: %#v", calls)
	}
}

func TestFakeRunnerMissingStubIsError(t *testing.T) {
	fake := NewFakeRunner()
	if _, err := fake.Run(context.Background(), "", "git", "status"); err == nil {
		t.Fatalf("expected error for unscripted command")
	}
}
