package contracts

import (
	"io"
	"time"
)

// RunContext is the immutable configuration for one run of the coordinator.
// It is built once at startup and passed explicitly to every component —
// never read back out of ambient globals.
type RunContext struct {
	PRDID              string
	RunDir             string
	BaseBranch         string
	Parallelism        int
	MaxRetries         int
	RetryDelay         time.Duration
	StalledTimeout     time.Duration
	ExternalFailWindow time.Duration
	MaxIterations      int
	Engine             string
	Model              string
	DryRun             bool
	BranchPrefix       string
	Out                io.Writer
}

// TaskState is the in-memory scheduling state of a task. Only the Scheduler
// mutates it.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// CanTransitionTo reports whether moving from s to next is a legal
// transition per §3's state machine.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	switch {
	case s == TaskPending && next == TaskRunning:
		return true
	case s == TaskRunning && (next == TaskDone || next == TaskFailed):
		return true
	case s == TaskFailed && next == TaskPending:
		return true
	default:
		return false
	}
}

// FailureKind classifies why a task attempt did not succeed.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureInternal FailureKind = "internal"
	FailureExternal FailureKind = "external"
	FailureUnknown  FailureKind = "unknown"
)

// TaskReport is the durable per-task record written by the Artifact Writer
// on every completion or failure.
type TaskReport struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Branch       string      `json:"branch"`
	Status       TaskState   `json:"status"`
	CommitCount  int         `json:"commitCount"`
	ChangedFiles string      `json:"changedFiles"`
	ProgressTail string      `json:"progressTail"`
	FailureType  FailureKind `json:"failureType,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Worktree is an isolated checkout bound to a branch, owned by one
// supervisor for the lifetime of a task attempt.
type Worktree struct {
	Path    string
	Branch  string
	Slot    int
	OwnerID string
}
