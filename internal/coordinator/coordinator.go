// Package coordinator is the Run Coordinator (§4.7): the outer batch loop
// that dispatches ready tasks to Supervisors up to the parallelism limit,
// waits for at least one to finish each iteration, hands finished tasks to
// the Integrator for serialized merge-back, and watches for deadlock and
// external failures.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/integrator"
	"github.com/FacuVCanale/gralph/internal/runstate"
	"github.com/FacuVCanale/gralph/internal/scheduler"
	"github.com/FacuVCanale/gralph/internal/supervisor"
)

// TaskAttempter is the subset of *supervisor.Supervisor the Coordinator
// depends on, so tests can substitute a fake without spinning up real
// worktrees or engines.
type TaskAttempter interface {
	Attempt(ctx context.Context, task contracts.Task, slot int) (supervisor.Outcome, error)
}

// Lander is the subset of *integrator.Integrator the Coordinator depends
// on.
type Lander interface {
	Land(ctx context.Context, task contracts.Task, branch string) (integrator.Result, error)
}

// Report is the final record for one task the Coordinator produced by the
// end of the run.
type Report struct {
	TaskID      string
	Status      contracts.TaskState
	FailureKind contracts.FailureKind
	Reason      string
}

// RunResult is the outcome of one full Coordinator.Run call.
type RunResult struct {
	Reports       []Report
	Deadlocked    bool
	GracefulStop  bool
	BlockedTaskIDs []string
}

// Coordinator owns the outer loop for one run.
type Coordinator struct {
	Graph       *scheduler.Graph
	Tasks       []contracts.Task
	Supervisor  TaskAttempter
	Integrator  Lander
	RunState    *runstate.Store

	Parallelism        int
	MaxIterations      int // 0 = unbounded
	ExternalFailWindow time.Duration

	// byID is used to resolve a branch name's originating task once a
	// Supervisor finishes; Run builds it from Tasks.
	byID map[string]contracts.Task
}

type finished struct {
	task    contracts.Task
	outcome supervisor.Outcome
	err     error
	slot    int
}

// Run drives the batch loop to completion: success, deadlock, or an
// external-failure graceful stop.
func (c *Coordinator) Run(ctx context.Context) (RunResult, error) {
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	c.byID = make(map[string]contracts.Task, len(c.Tasks))
	for _, t := range c.Tasks {
		c.byID[t.ID] = t
	}

	reports := map[string]Report{}
	gracefulStop := false
	iteration := 0

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan finished, c.Parallelism)
	freeSlots := make([]int, c.Parallelism)
	for i := range freeSlots {
		freeSlots[i] = i
	}

	for {
		if c.Graph.CountPending() == 0 && c.Graph.CountRunning() == 0 {
			break
		}
		if c.Graph.Deadlocked() {
			return c.deadlockResult(reports), nil
		}

		if !gracefulStop {
			ready := c.Graph.ReadySet()
			slots := c.Parallelism - c.Graph.CountRunning()
			dispatched := 0
			for _, taskID := range ready {
				if dispatched >= slots || len(freeSlots) == 0 {
					break
				}
				if !c.Graph.Start(taskID) {
					continue
				}
				slot := freeSlots[0]
				freeSlots = freeSlots[1:]
				dispatched++

				task := c.byID[taskID]
				wg.Add(1)
				go func(task contracts.Task, slot int) {
					defer wg.Done()
					outcome, err := c.Supervisor.Attempt(runCtx, task, slot)
					select {
					case results <- finished{task: task, outcome: outcome, err: err, slot: slot}:
					case <-runCtx.Done():
					}
				}(task, slot)
			}
		}

		if c.Graph.CountRunning() == 0 {
			// Ready was empty and nothing is running: the top-of-loop
			// deadlock/completion checks will catch this on the next pass.
			continue
		}

		select {
		case f := <-results:
			freeSlots = append(freeSlots, f.slot)
			c.settle(runCtx, f, reports)
			if f.outcome.FailureKind == contracts.FailureExternal {
				// First external failure: stop dispatching immediately and
				// let awaitGracefulStop enforce the timeout on whatever is
				// still running, rather than waiting on it untimed here.
				gracefulStop = true
			}
		case <-runCtx.Done():
			wg.Wait()
			return RunResult{Reports: sortedReports(reports), GracefulStop: true}, runCtx.Err()
		}

		if gracefulStop {
			break
		}

		iteration++
		if c.MaxIterations > 0 && iteration >= c.MaxIterations {
			break
		}
	}

	if gracefulStop {
		c.awaitGracefulStop(runCtx, cancel, &wg, results, reports)
	}

	wg.Wait()
	close(results)
	for f := range results {
		c.settle(context.Background(), f, reports)
	}

	return RunResult{Reports: sortedReports(reports), GracefulStop: gracefulStop}, nil
}

// settle updates the Scheduler and run-state bookkeeping for one finished
// Supervisor attempt, invoking the Integrator's serialized merge on
// success before calling Scheduler.complete — never the reverse, so a task
// is never marked done in the graph before its commits have landed.
func (c *Coordinator) settle(ctx context.Context, f finished, reports map[string]Report) {
	if f.err != nil {
		_ = c.Graph.Fail(f.task.ID)
		reports[f.task.ID] = Report{TaskID: f.task.ID, Status: contracts.TaskFailed, Reason: f.err.Error()}
		if c.RunState != nil {
			_ = c.RunState.MarkBlocked(f.task.ID)
		}
		return
	}

	if f.outcome.Status != contracts.TaskDone {
		_ = c.Graph.Fail(f.task.ID)
		reports[f.task.ID] = Report{TaskID: f.task.ID, Status: contracts.TaskFailed, FailureKind: f.outcome.FailureKind, Reason: f.outcome.Reason}
		if c.RunState != nil {
			_ = c.RunState.MarkBlocked(f.task.ID)
		}
		return
	}

	result, err := c.Integrator.Land(ctx, f.task, f.outcome.Branch)
	if err != nil || !result.Merged {
		_ = c.Graph.Fail(f.task.ID)
		reason := "merge failed"
		if err != nil {
			reason = err.Error()
		} else if result.Reason != "" {
			reason = result.Reason
		}
		reports[f.task.ID] = Report{TaskID: f.task.ID, Status: contracts.TaskFailed, FailureKind: result.FailureKind, Reason: reason}
		if c.RunState != nil {
			_ = c.RunState.MarkBlocked(f.task.ID)
		}
		return
	}

	_ = c.Graph.Complete(f.task.ID)
	reports[f.task.ID] = Report{TaskID: f.task.ID, Status: contracts.TaskDone}
	if c.RunState != nil {
		_ = c.RunState.MarkCompleted(f.task.ID)
	}
}

// awaitGracefulStop waits up to ExternalFailWindow for outstanding
// Supervisors to finish on their own, then cancels whatever remains.
func (c *Coordinator) awaitGracefulStop(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, results chan finished, reports map[string]Report) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timeout := c.ExternalFailWindow
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case f, ok := <-results:
			if !ok {
				return
			}
			c.settle(context.Background(), f, reports)
		case <-done:
			drainResults(results, func(f finished) { c.settle(context.Background(), f, reports) })
			return
		case <-timer.C:
			cancel()
			<-done
			drainResults(results, func(f finished) { c.settle(context.Background(), f, reports) })
			return
		}
	}
}

func drainResults(results chan finished, settle func(finished)) {
	for {
		select {
		case f, ok := <-results:
			if !ok {
				return
			}
			settle(f)
		default:
			return
		}
	}
}

func (c *Coordinator) deadlockResult(reports map[string]Report) RunResult {
	var blocked []string
	for _, task := range c.Tasks {
		state, ok := c.Graph.State(task.ID)
		if !ok || state != contracts.TaskPending {
			continue
		}
		blocked = append(blocked, task.ID)
	}
	sort.Strings(blocked)
	return RunResult{Reports: sortedReports(reports), Deadlocked: true, BlockedTaskIDs: blocked}
}

// ExplainDeadlock renders a one-line-per-task explanation of why each
// blocked task cannot run, for the CLI to print on a deadlocked exit.
func (c *Coordinator) ExplainDeadlock(blockedTaskIDs []string) []string {
	lines := make([]string, 0, len(blockedTaskIDs))
	for _, id := range blockedTaskIDs {
		unmetDeps, waitingOnMutex := c.Graph.ExplainBlock(id)
		line := fmt.Sprintf("%s: waiting on deps %v, mutexes %v", id, unmetDeps, waitingOnMutex)
		lines = append(lines, line)
	}
	return lines
}

func sortedReports(reports map[string]Report) []Report {
	out := make([]Report, 0, len(reports))
	for _, r := range reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
