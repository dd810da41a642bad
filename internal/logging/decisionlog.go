package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DecisionLogEntry records one decision made while resolving a merge
// conflict during merge-back (§4.8): whether the conflict-resolution agent
// accepted, retried, or abandoned the conflicted merge, and why.
type DecisionLogEntry struct {
	LoggingSchemaFields
	DecisionType string `json:"decision_type"`
	Decision     string `json:"decision"`
	Message      string `json:"message,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Context      string `json:"context,omitempty"`
}

// AppendDecision appends entry as a schema-conforming JSON line to logPath,
// creating parent directories as needed.
func AppendDecision(logPath string, entry DecisionLogEntry) error {
	if entry.Component == "" {
		entry.Component = "integrator"
	}
	entry.LoggingSchemaFields = populateRequiredLogFields(entry.LoggingSchemaFields, entry.TaskID)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(append(payload, '\n'))
	return err
}
