package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/integrator"
	"github.com/FacuVCanale/gralph/internal/mutexreg"
	"github.com/FacuVCanale/gralph/internal/scheduler"
	"github.com/FacuVCanale/gralph/internal/supervisor"
)

type fakeSupervisor struct {
	outcomes map[string]supervisor.Outcome
	errs     map[string]error
}

func (f *fakeSupervisor) Attempt(_ context.Context, task contracts.Task, _ int) (supervisor.Outcome, error) {
	if err, ok := f.errs[task.ID]; ok {
		return supervisor.Outcome{}, err
	}
	return f.outcomes[task.ID], nil
}

type fakeLander struct {
	fail map[string]bool
}

func (f *fakeLander) Land(_ context.Context, task contracts.Task, _ string) (integrator.Result, error) {
	if f.fail[task.ID] {
		return integrator.Result{Merged: false, FailureKind: contracts.FailureInternal, Reason: "merge conflict"}, nil
	}
	return integrator.Result{Merged: true}, nil
}

func buildGraph(t *testing.T, tasks []contracts.Task) *scheduler.Graph {
	t.Helper()
	nodes := make([]scheduler.TaskNode, 0, len(tasks))
	for _, task := range tasks {
		nodes = append(nodes, scheduler.TaskNode{ID: task.ID, DependsOn: task.DependsOn, Mutex: task.Mutex})
	}
	g, err := scheduler.NewGraph(nodes, mutexreg.New())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func TestRunCompletesAllTasksInDependencyOrder(t *testing.T) {
	tasks := []contracts.Task{
		{ID: "t-1", Title: "First"},
		{ID: "t-2", Title: "Second", DependsOn: []string{"t-1"}},
	}
	graph := buildGraph(t, tasks)
	sup := &fakeSupervisor{outcomes: map[string]supervisor.Outcome{
		"t-1": {Status: contracts.TaskDone, Branch: "task/t-1"},
		"t-2": {Status: contracts.TaskDone, Branch: "task/t-2"},
	}}
	c := &Coordinator{Graph: graph, Tasks: tasks, Supervisor: sup, Integrator: &fakeLander{}, Parallelism: 2}

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Deadlocked || result.GracefulStop {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(result.Reports))
	}
	for _, r := range result.Reports {
		if r.Status != contracts.TaskDone {
			t.Fatalf("expected task %q done, got %v", r.TaskID, r.Status)
		}
	}
}

func TestRunReportsDeadlockWhenDependencyFails(t *testing.T) {
	tasks := []contracts.Task{
		{ID: "t-1", Title: "First"},
		{ID: "t-2", Title: "Second", DependsOn: []string{"t-1"}},
	}
	graph := buildGraph(t, tasks)
	sup := &fakeSupervisor{outcomes: map[string]supervisor.Outcome{
		"t-1": {Status: contracts.TaskFailed, FailureKind: contracts.FailureInternal, Reason: "boom"},
	}}
	c := &Coordinator{Graph: graph, Tasks: tasks, Supervisor: sup, Integrator: &fakeLander{}, Parallelism: 2}

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Deadlocked {
		t.Fatalf("expected deadlock, got %+v", result)
	}
	if len(result.BlockedTaskIDs) != 1 || result.BlockedTaskIDs[0] != "t-2" {
		t.Fatalf("expected t-2 blocked, got %v", result.BlockedTaskIDs)
	}
}

func TestRunEntersGracefulStopOnExternalFailure(t *testing.T) {
	tasks := []contracts.Task{
		{ID: "t-1", Title: "First"},
		{ID: "t-2", Title: "Second"},
	}
	graph := buildGraph(t, tasks)
	sup := &fakeSupervisor{outcomes: map[string]supervisor.Outcome{
		"t-1": {Status: contracts.TaskFailed, FailureKind: contracts.FailureExternal, Reason: "network unreachable"},
		"t-2": {Status: contracts.TaskDone, Branch: "task/t-2"},
	}}
	c := &Coordinator{
		Graph: graph, Tasks: tasks, Supervisor: sup, Integrator: &fakeLander{},
		Parallelism: 2, ExternalFailWindow: 50 * time.Millisecond,
	}

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.GracefulStop {
		t.Fatalf("expected graceful stop, got %+v", result)
	}
}

func TestRunFailsTaskWhenMergeFails(t *testing.T) {
	tasks := []contracts.Task{{ID: "t-1", Title: "First"}}
	graph := buildGraph(t, tasks)
	sup := &fakeSupervisor{outcomes: map[string]supervisor.Outcome{
		"t-1": {Status: contracts.TaskDone, Branch: "task/t-1"},
	}}
	c := &Coordinator{
		Graph: graph, Tasks: tasks, Supervisor: sup,
		Integrator: &fakeLander{fail: map[string]bool{"t-1": true}}, Parallelism: 1,
	}

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Reports) != 1 || result.Reports[0].Status != contracts.TaskFailed {
		t.Fatalf("expected merge failure to fail the task, got %+v", result.Reports)
	}
}
