// Package artifacts is the Artifact Writer: it durably records per-task
// outcome reports and the run's event stream, and exposes the raw log path
// for each task's agent invocation.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/FacuVCanale/gralph/internal/contracts"
)

// Writer persists artifacts under runDir: reports/<taskID>.json for
// per-task outcomes and events.jsonl for the run's event stream.
type Writer struct {
	runDir string
	sink   *contracts.FileEventSink

	// Tee receives every event alongside the durable file sink, when set.
	// cmd/gralph wires the TUI's event sink here so the on-screen status
	// view stays live without reading the event log back off disk.
	Tee contracts.EventSink
}

// New returns a Writer rooted at runDir.
func New(runDir string) *Writer {
	return &Writer{runDir: runDir, sink: contracts.NewFileEventSink(filepath.Join(runDir, "events.jsonl"))}
}

// Emit appends event to the run's event log and forwards it to Tee.
func (w *Writer) Emit(ctx context.Context, event contracts.Event) error {
	if err := w.sink.Emit(ctx, event); err != nil {
		return err
	}
	if w.Tee != nil {
		_ = w.Tee.Emit(ctx, event)
	}
	return nil
}

// WriteReport atomically writes report to reports/<report.ID>.json.
func (w *Writer) WriteReport(report contracts.TaskReport) error {
	dir := filepath.Join(w.runDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report for task %q: %w", report.ID, err)
	}
	path := filepath.Join(dir, report.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report for task %q: %w", report.ID, err)
	}
	return os.Rename(tmp, path)
}

// ReadReport reads back a previously written report, used by the TUI and
// by resume logic to reconcile on-disk reports with the tasks file.
func (w *Writer) ReadReport(taskID string) (contracts.TaskReport, error) {
	path := filepath.Join(w.runDir, "reports", taskID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return contracts.TaskReport{}, err
	}
	var report contracts.TaskReport
	if err := json.Unmarshal(data, &report); err != nil {
		return contracts.TaskReport{}, fmt.Errorf("parse report %q: %w", path, err)
	}
	return report, nil
}

// LogPath returns the path an engine should stream its raw output to for
// taskID, creating its parent directory.
func (w *Writer) LogPath(taskID, engine string) (string, error) {
	dir := filepath.Join(w.runDir, "runner-logs", engine)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create runner log dir: %w", err)
	}
	return filepath.Join(dir, taskID+".jsonl"), nil
}
