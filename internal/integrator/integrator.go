// Package integrator is the Integrator (§4.8): the single, run-wide
// serialization point for landing a completed task's branch onto the
// integration branch. Exactly one merge happens at a time regardless of
// how many Supervisors are running. Its central correctness property is
// ordering: on disk, completed=true in the tasks file implies the task's
// commits are already present on the integration branch — never the
// reverse.
package integrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/logging"
	"github.com/FacuVCanale/gralph/internal/scheduler"
	"github.com/FacuVCanale/gralph/internal/taskstore"
)

// Result is the outcome of one Land call.
type Result struct {
	Merged      bool
	FailureKind contracts.FailureKind
	Reason      string
}

// Integrator serializes merges across a run. One value is shared by every
// Supervisor/Coordinator goroutine; Land takes its own internal lock so
// callers never need to coordinate serialization themselves.
type Integrator struct {
	mu sync.Mutex

	VCS            contracts.VCS
	Tasks          *taskstore.Store
	ConflictEngine contracts.Engine // may be nil: no agent fallback, conflicts always abort
	IntegrationDir string
	BaseBranch     string
	MaxAttempts    int
	DecisionLogDir string
	Model          string
	Events         contracts.EventSink
}

// Land checks out the integration branch, merges branch into it, and on
// conflict invokes the conflict-resolution agent before giving up. On a
// successful merge it deletes the task branch and marks the task completed
// in the Task Store before returning — in that order, so a reader of the
// tasks file never observes completed=true without the corresponding
// commits already merged.
func (in *Integrator) Land(ctx context.Context, task contracts.Task, branch string) (Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.VCS.Checkout(ctx, in.IntegrationDir, in.BaseBranch); err != nil {
		return Result{}, fmt.Errorf("integrator: task %q: checkout %q: %w", task.ID, in.BaseBranch, err)
	}

	machine := scheduler.NewLandingQueueStateMachine(in.MaxAttempts)
	for {
		if err := machine.Apply(scheduler.LandingEventBegin); err != nil {
			return Result{}, fmt.Errorf("integrator: task %q: %w", task.ID, err)
		}

		in.emit(ctx, contracts.Event{Type: contracts.EventMergeAttempt, TaskID: task.ID, Title: task.Title})

		ok, conflicts, err := in.VCS.Merge(ctx, in.IntegrationDir, branch)
		if err != nil {
			return Result{}, fmt.Errorf("integrator: task %q: merge: %w", task.ID, err)
		}

		if ok {
			_ = machine.Apply(scheduler.LandingEventSucceeded)
			return in.finalize(ctx, task, branch)
		}

		in.logDecision(task, "merge_conflict", "detected", strings.Join(conflicts, ", "), "")
		in.emit(ctx, contracts.Event{Type: contracts.EventMergeConflict, TaskID: task.ID, Message: strings.Join(conflicts, ", ")})

		resolved, resolveErr := in.attemptConflictResolution(ctx, task, conflicts)
		if resolved {
			_ = machine.Apply(scheduler.LandingEventSucceeded)
			in.emit(ctx, contracts.Event{Type: contracts.EventMergeResolved, TaskID: task.ID})
			return in.finalize(ctx, task, branch)
		}

		if abortErr := in.VCS.AbortMerge(ctx, in.IntegrationDir); abortErr != nil {
			return Result{}, fmt.Errorf("integrator: task %q: abort merge: %w", task.ID, abortErr)
		}

		if machine.Attempts()+1 >= in.effectiveMaxAttempts() || in.ConflictEngine == nil {
			_ = machine.Apply(scheduler.LandingEventFailedPermanent)
			reason := "unresolved merge conflict"
			if resolveErr != nil {
				reason = fmt.Sprintf("unresolved merge conflict: %v", resolveErr)
			}
			in.logDecision(task, "merge_conflict", "abandon", strings.Join(conflicts, ", "), reason)
			return Result{Merged: false, FailureKind: contracts.FailureInternal, Reason: reason}, nil
		}

		if err := machine.Apply(scheduler.LandingEventFailedRetryable); err != nil {
			return Result{}, fmt.Errorf("integrator: task %q: %w", task.ID, err)
		}
		in.logDecision(task, "merge_conflict", "retry", strings.Join(conflicts, ", "), "")
	}
}

func (in *Integrator) effectiveMaxAttempts() int {
	if in.MaxAttempts <= 0 {
		return 1
	}
	return in.MaxAttempts
}

// attemptConflictResolution invokes the conflict-resolution agent in the
// integration checkout and reports whether it left the tree free of
// conflict markers. A nil ConflictEngine means there is no fallback.
func (in *Integrator) attemptConflictResolution(ctx context.Context, task contracts.Task, conflicts []string) (bool, error) {
	if in.ConflictEngine == nil {
		return false, nil
	}

	prompt := buildConflictPrompt(task, conflicts)
	result, err := in.ConflictEngine.Run(ctx, contracts.RunnerRequest{
		TaskID:   task.ID,
		Prompt:   prompt,
		Mode:     contracts.RunnerModeImplement,
		Model:    in.Model,
		RepoRoot: in.IntegrationDir,
	})
	if err != nil || result.Status != contracts.RunnerResultCompleted {
		return false, err
	}

	clean, err := in.VCS.IsClean(ctx, in.IntegrationDir)
	if err != nil {
		return false, err
	}
	return clean, nil
}

func buildConflictPrompt(task contracts.Task, conflicts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merging task %q (%s) produced conflicts in:\n", task.ID, task.Title)
	for _, f := range conflicts {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	if task.MergeNotes != "" {
		fmt.Fprintf(&b, "\nMerge notes from the task author:\n%s\n", task.MergeNotes)
	}
	b.WriteString("\nResolve every conflict marker in these files, preserving the intent of both sides, and commit the resolution.\n")
	return b.String()
}

// finalize deletes the task branch and marks the task completed in the
// Task Store, in that order, only after the merge commit already exists in
// the integration branch.
func (in *Integrator) finalize(ctx context.Context, task contracts.Task, branch string) (Result, error) {
	in.emit(ctx, contracts.Event{Type: contracts.EventGitCommit, TaskID: task.ID, Message: "merged " + branch})
	if err := in.VCS.DeleteBranch(ctx, branch, true); err != nil {
		return Result{}, fmt.Errorf("integrator: task %q: delete branch %q: %w", task.ID, branch, err)
	}
	if in.Tasks != nil {
		if err := in.Tasks.MarkCompleted(task.ID); err != nil {
			return Result{}, fmt.Errorf("integrator: task %q: mark completed: %w", task.ID, err)
		}
	}
	in.logDecision(task, "merge", "landed", "", "")
	return Result{Merged: true}, nil
}

// emit forwards event to the run's event sink, if configured. Event-log
// delivery is best-effort and never fails a merge.
func (in *Integrator) emit(ctx context.Context, event contracts.Event) {
	if in.Events == nil {
		return
	}
	_ = in.Events.Emit(ctx, event)
}

func (in *Integrator) logDecision(task contracts.Task, decisionType, decision, conflictContext, reason string) {
	if in.DecisionLogDir == "" {
		return
	}
	path := filepath.Join(in.DecisionLogDir, task.ID+".jsonl")
	_ = logging.AppendDecision(path, logging.DecisionLogEntry{
		LoggingSchemaFields: logging.LoggingSchemaFields{TaskID: task.ID},
		DecisionType:        decisionType,
		Decision:            decision,
		Context:             conflictContext,
		Reason:              reason,
	})
}
