package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendDecisionWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "runner-logs", "integrator", "t-1.jsonl")
	if err := AppendDecision(logPath, DecisionLogEntry{
		LoggingSchemaFields: LoggingSchemaFields{TaskID: "t-1"},
		DecisionType:        "merge_conflict",
		Decision:            "retry",
	}); err != nil {
		t.Fatalf("append error: %v", err)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if err := ValidateStructuredLogLine([]byte(line)); err != nil {
			t.Fatalf("logged entry should conform to schema: %v", err)
		}
	}
	if len(content) == 0 || content[len(content)-1] != '\n' {
		t.Fatalf("expected newline-terminated jsonl")
	}
}

func TestAppendDecisionIncludesReasonAndContext(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reason-context.jsonl")
	if err := AppendDecision(logPath, DecisionLogEntry{
		LoggingSchemaFields: LoggingSchemaFields{TaskID: "t-1"},
		DecisionType:        "merge_conflict",
		Decision:            "abandon",
		Message:             "conflicting edits to the same function",
		Reason:              "unresolvable_semantic_conflict",
		Context:             "internal/foo/bar.go",
	}); err != nil {
		t.Fatalf("append error: %v", err)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	entry := map[string]string{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["reason"] != "unresolvable_semantic_conflict" {
		t.Fatalf("expected reason, got %q", entry["reason"])
	}
	if entry["context"] != "internal/foo/bar.go" {
		t.Fatalf("expected context, got %q", entry["context"])
	}
}
