// Package supervisor is the Task Supervisor (§4.6): it drives exactly one
// task attempt end to end — worktree, prompt, agent invocation with retry,
// auto-commit, the commit-count gate, and the durable report — and reports
// the outcome back to the Coordinator. Supervisors run concurrently and
// share nothing but the VCS, the worktree manager, the engine, and the
// artifact writer.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FacuVCanale/gralph/internal/artifacts"
	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/runstate"
	"github.com/FacuVCanale/gralph/internal/worktree"
)

// reservedBaseNames lists file basenames (case-insensitive, extension
// stripped) that some host filesystems refuse to create. A dirty worktree
// is swept for these before auto-commit so a leftover scratch file never
// fails a commit on a hostile platform.
var reservedBaseNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {},
}

// Outcome is what one Attempt reports back to the Coordinator.
type Outcome struct {
	Status       contracts.TaskState
	Branch       string
	WorktreePath string
	FailureKind  contracts.FailureKind
	Reason       string
}

// Supervisor drives task attempts. A single Supervisor value is reused
// across every slot; Attempt is safe to call concurrently from different
// goroutines as long as each call is given a distinct slot.
type Supervisor struct {
	Worktrees       *worktree.Manager
	VCS             contracts.VCS
	Engine          contracts.Engine
	Artifacts       *artifacts.Writer
	RunState        *runstate.Store
	TasksFilePath   string
	ProgressLogPath string
	BaseBranch      string
	MaxRetries      int
	RetryDelay      time.Duration
	StalledTimeout  time.Duration
	Model           string
	Now             func() time.Time
}

func (s *Supervisor) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Attempt runs task to completion or failure in a fresh worktree occupying
// slot, returning the outcome the Coordinator needs to update the
// Scheduler and hand off to the Integrator.
func (s *Supervisor) Attempt(ctx context.Context, task contracts.Task, slot int) (Outcome, error) {
	startedAt := s.now().UTC()
	s.emit(ctx, contracts.Event{Type: contracts.EventTaskStarted, TaskID: task.ID, Title: task.Title, Timestamp: startedAt})

	wt, err := s.Worktrees.Create(ctx, task.ID, task.Title, slot)
	if err != nil {
		return Outcome{}, fmt.Errorf("supervisor: task %q: create worktree: %w", task.ID, err)
	}
	outcome := Outcome{Branch: wt.Branch, WorktreePath: wt.Path}
	defer func() { s.cleanupWorktree(ctx, wt, outcome) }()

	if err := s.seedWorktree(wt.Path); err != nil {
		return outcome, fmt.Errorf("supervisor: task %q: seed worktree: %w", task.ID, err)
	}

	if s.RunState != nil {
		if err := s.RunState.MarkInFlight(task.ID); err != nil {
			return outcome, fmt.Errorf("supervisor: task %q: mark in-flight: %w", task.ID, err)
		}
		defer s.RunState.ClearInFlight(task.ID)
	}

	result, runErr, progressTail := s.invokeWithRetry(ctx, task, wt.Path)
	if runErr != nil || result.Status != contracts.RunnerResultCompleted {
		kind := classifyOutcome(runErr, progressTail)
		outcome.Status = contracts.TaskFailed
		outcome.FailureKind = kind
		outcome.Reason = failureReason(runErr, result)
		s.writeReport(task, outcome, progressTail, startedAt, 0, "")
		return outcome, nil
	}

	if err := s.autoCommitIfDirty(ctx, wt.Path); err != nil {
		outcome.Status = contracts.TaskFailed
		outcome.FailureKind = contracts.FailureInternal
		outcome.Reason = fmt.Sprintf("auto-commit failed: %v", err)
		s.writeReport(task, outcome, progressTail, startedAt, 0, "")
		return outcome, nil
	}

	commits, err := s.VCS.CommitCount(ctx, wt.Path, s.BaseBranch, wt.Branch)
	if err != nil {
		outcome.Status = contracts.TaskFailed
		outcome.FailureKind = contracts.FailureInternal
		outcome.Reason = fmt.Sprintf("count commits: %v", err)
		s.writeReport(task, outcome, progressTail, startedAt, 0, "")
		return outcome, nil
	}
	if commits == 0 {
		outcome.Status = contracts.TaskFailed
		outcome.FailureKind = contracts.FailureInternal
		outcome.Reason = "no commits produced"
		s.writeReport(task, outcome, progressTail, startedAt, 0, "")
		return outcome, nil
	}

	changedFiles, err := s.VCS.ChangedFiles(ctx, wt.Path, s.BaseBranch, wt.Branch)
	if err != nil {
		outcome.Status = contracts.TaskFailed
		outcome.FailureKind = contracts.FailureInternal
		outcome.Reason = fmt.Sprintf("list changed files: %v", err)
		s.writeReport(task, outcome, progressTail, startedAt, commits, "")
		return outcome, nil
	}

	outcome.Status = contracts.TaskDone
	s.writeReport(task, outcome, progressTail, startedAt, commits, strings.Join(changedFiles, ","))
	s.appendAccumulatedProgress(task, progressTail)
	return outcome, nil
}

// invokeWithRetry calls the engine up to MaxRetries times with a fixed
// delay between attempts, per §4.6 step 5. It returns the last result, the
// last error, and the tail of the agent's output stream for classification
// and reporting.
func (s *Supervisor) invokeWithRetry(ctx context.Context, task contracts.Task, worktreePath string) (contracts.RunnerResult, error, string) {
	attempts := s.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var result contracts.RunnerResult
	var runErr error
	var tail string

	for attempt := 1; attempt <= attempts; attempt++ {
		logPath := ""
		if s.Artifacts != nil {
			if p, err := s.Artifacts.LogPath(task.ID, s.Engine.Name()); err == nil {
				logPath = p
			}
		}
		metadata := map[string]string{}
		if logPath != "" {
			metadata["log_path"] = logPath
		}

		var streamTail string
		runCtx, stopWatchdog := s.withStalledWatchdog(ctx)
		result, runErr = s.Engine.Run(runCtx, contracts.RunnerRequest{
			TaskID:   task.ID,
			Prompt:   buildPrompt(task),
			Mode:     contracts.RunnerModeImplement,
			Model:    s.Model,
			RepoRoot: worktreePath,
			Metadata: metadata,
			OnProgress: func(p contracts.RunnerProgress) {
				stopWatchdog.reset()
				if strings.TrimSpace(p.Message) != "" {
					streamTail = p.Message
					s.emit(ctx, contracts.Event{
						Type:      contracts.EventRunnerOutput,
						TaskID:    task.ID,
						Message:   p.Message,
						Metadata:  p.Metadata,
						Timestamp: p.Timestamp,
					})
				}
			},
		})
		stopWatchdog.stop()
		tail = streamTail
		if logPath != "" {
			if raw, err := os.ReadFile(logPath); err == nil {
				if last := contracts.LastNonDebugLine(string(raw)); last != "" {
					tail = last
				}
			}
		}

		if runErr == nil && result.Status == contracts.RunnerResultCompleted {
			return result, nil, tail
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err(), tail
		case <-time.After(s.RetryDelay):
		}
	}
	return result, runErr, tail
}

// withStalledWatchdog returns a context that is cancelled if StalledTimeout
// elapses without a call to the returned watchdog's reset method, plus the
// watchdog itself. The caller must call stop() once the engine call returns
// to release the timer goroutine, whether or not the watchdog ever fired.
func (s *Supervisor) withStalledWatchdog(parent context.Context) (context.Context, *stalledWatchdogHandle) {
	if s.StalledTimeout <= 0 {
		return parent, &stalledWatchdogHandle{}
	}
	ctx, cancel := context.WithCancel(parent)
	timer := time.NewTimer(s.StalledTimeout)
	done := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			cancel()
		case <-done:
		}
	}()
	return ctx, &stalledWatchdogHandle{
		timer:   timer,
		done:    done,
		timeout: s.StalledTimeout,
		cancel:  cancel,
	}
}

// stalledWatchdogHandle is the live handle returned to invokeWithRetry. A
// zero-value handle (no timeout configured) makes reset and stop no-ops.
type stalledWatchdogHandle struct {
	timer   *time.Timer
	done    chan struct{}
	timeout time.Duration
	cancel  context.CancelFunc
}

func (h *stalledWatchdogHandle) reset() {
	if h == nil || h.timer == nil {
		return
	}
	h.timer.Reset(h.timeout)
}

func (h *stalledWatchdogHandle) stop() {
	if h == nil || h.timer == nil {
		return
	}
	h.timer.Stop()
	close(h.done)
}

func classifyOutcome(runErr error, progressTail string) contracts.FailureKind {
	if runErr == context.DeadlineExceeded || runErr == context.Canceled {
		// Stall: treated as TaskInternalError after cancellation (§7).
		return contracts.FailureInternal
	}
	if strings.TrimSpace(progressTail) == "" {
		return contracts.FailureUnknown
	}
	return contracts.ClassifyFailure(progressTail)
}

func failureReason(runErr error, result contracts.RunnerResult) string {
	if runErr != nil {
		return runErr.Error()
	}
	if result.Reason != "" {
		return result.Reason
	}
	return "agent did not complete successfully"
}

// seedWorktree copies the authoritative tasks file into the worktree for
// agent context and ensures a per-attempt progress-notes file exists.
// Neither file is ever read back from the worktree (§9 open question b):
// the run-root tasks file stays authoritative, and any in-worktree mutation
// the agent makes is ignored.
func (s *Supervisor) seedWorktree(worktreePath string) error {
	if s.TasksFilePath != "" {
		data, err := os.ReadFile(s.TasksFilePath)
		if err != nil {
			return fmt.Errorf("read tasks file: %w", err)
		}
		dest := filepath.Join(worktreePath, filepath.Base(s.TasksFilePath))
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("copy tasks file into worktree: %w", err)
		}
	}
	notesPath := filepath.Join(worktreePath, "progress-notes.txt")
	if _, err := os.Stat(notesPath); os.IsNotExist(err) {
		if err := os.WriteFile(notesPath, nil, 0o644); err != nil {
			return fmt.Errorf("create progress notes file: %w", err)
		}
	}
	return nil
}

// buildPrompt instructs the agent to implement exactly one task, forbidding
// it from touching the tasks file or marking completion itself — those are
// the Integrator's job, after the merge succeeds.
func buildPrompt(task contracts.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are implementing exactly one task from a larger plan.\n\n")
	fmt.Fprintf(&b, "Task id: %s\n", task.ID)
	fmt.Fprintf(&b, "Task title: %s\n\n", task.Title)
	if len(task.Touches) > 0 {
		fmt.Fprintf(&b, "Expected to touch: %s\n\n", strings.Join(task.Touches, ", "))
	}
	b.WriteString("Implement this task completely and commit your changes. ")
	b.WriteString("Do not modify the tasks file and do not mark this task as completed yourself — ")
	b.WriteString("a separate integration step does that once your branch merges cleanly. ")
	b.WriteString("Append any notes a reviewer would find useful to progress-notes.txt in the repository root.\n")
	return b.String()
}

// autoCommitIfDirty implements §4.6 step 6: if the agent left the worktree
// dirty after exiting 0, strip any reserved-name files and commit the rest
// under a fixed message.
func (s *Supervisor) autoCommitIfDirty(ctx context.Context, worktreePath string) error {
	clean, err := s.VCS.IsClean(ctx, worktreePath)
	if err != nil {
		return err
	}
	if clean {
		return nil
	}
	if err := stripReservedNames(worktreePath); err != nil {
		return err
	}
	_, err = s.VCS.CommitAll(ctx, worktreePath, "auto-commit: supervisor cleanup")
	return err
}

func stripReservedNames(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		base := strings.ToLower(strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())))
		if _, reserved := reservedBaseNames[base]; reserved {
			return os.Remove(path)
		}
		return nil
	})
}

func (s *Supervisor) writeReport(task contracts.Task, outcome Outcome, progressTail string, startedAt time.Time, commitCount int, changedFiles string) contracts.TaskReport {
	report := contracts.TaskReport{
		ID:           task.ID,
		Title:        task.Title,
		Branch:       outcome.Branch,
		Status:       outcome.Status,
		CommitCount:  commitCount,
		ChangedFiles: changedFiles,
		ProgressTail: progressTail,
		FailureType:  outcome.FailureKind,
		ErrorMessage: outcome.Reason,
		Timestamp:    startedAt,
	}
	if s.Artifacts != nil {
		_ = s.Artifacts.WriteReport(report)
	}
	eventType := contracts.EventTaskDone
	if outcome.Status == contracts.TaskFailed {
		eventType = contracts.EventTaskFailed
	}
	s.emit(context.Background(), contracts.Event{
		Type:      eventType,
		TaskID:    task.ID,
		Title:     task.Title,
		Message:   outcome.Reason,
		Timestamp: s.now().UTC(),
	})
	return report
}

// emit forwards event to the run's artifact writer, swallowing the error:
// event-log delivery is best-effort and must never fail a task attempt.
func (s *Supervisor) emit(ctx context.Context, event contracts.Event) {
	if s.Artifacts == nil {
		return
	}
	_ = s.Artifacts.Emit(ctx, event)
}

// cleanupWorktree tears down the worktree an attempt used. A clean working
// tree is removed; its branch is deleted too unless the attempt succeeded,
// since a successful branch still has to reach the Integrator for merging
// and the Integrator deletes it once the merge lands. A dirty working tree
// is left in place for forensic inspection and reported instead of removed.
func (s *Supervisor) cleanupWorktree(ctx context.Context, wt contracts.Worktree, outcome Outcome) {
	clean, err := s.VCS.IsClean(ctx, wt.Path)
	if err != nil {
		s.emit(ctx, contracts.Event{Type: contracts.EventWorktreePreserved, TaskID: wt.OwnerID, Message: fmt.Sprintf("check worktree %q clean: %v", wt.Path, err)})
		return
	}
	if !clean {
		s.emit(ctx, contracts.Event{Type: contracts.EventWorktreePreserved, TaskID: wt.OwnerID, Message: fmt.Sprintf("worktree %q left dirty, preserving for inspection", wt.Path)})
		return
	}
	deleteBranch := outcome.Status != contracts.TaskDone
	if err := s.Worktrees.Cleanup(ctx, wt, deleteBranch); err != nil {
		s.emit(ctx, contracts.Event{Type: contracts.EventWorktreePreserved, TaskID: wt.OwnerID, Message: fmt.Sprintf("cleanup worktree %q: %v", wt.Path, err)})
	}
}

func (s *Supervisor) appendAccumulatedProgress(task contracts.Task, progressTail string) {
	if s.ProgressLogPath == "" || strings.TrimSpace(progressTail) == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.ProgressLogPath), 0o755); err != nil {
		return
	}
	file, err := os.OpenFile(s.ProgressLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s] %s\n", task.ID, progressTail)
	_, _ = file.Write(buf.Bytes())
}
