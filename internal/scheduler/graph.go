// Package scheduler computes the ready set of a task dependency graph and
// tracks per-task state through the run. Mutex arbitration is delegated to
// mutexreg; the graph itself only knows about dependency edges and state.
package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/mutexreg"
)

// TaskNode is one scheduled unit: a task id, its current state, the ids it
// depends on, and the mutex names it must hold while running.
type TaskNode struct {
	ID        string
	State     contracts.TaskState
	DependsOn []string
	Mutex     []string
}

// Graph is the live scheduling state for one run. It is safe for concurrent
// use; every supervisor goroutine calls into the same Graph.
type Graph struct {
	mu           sync.RWMutex
	nodes        map[string]TaskNode
	dependencies map[string][]string
	dependents   map[string][]string
	mutexes      *mutexreg.Registry
}

// NewGraph builds a Graph from a task set, returning an error if the graph
// is not a DAG or references unknown dependencies. Validation duplicates
// contracts.TaskSet.Validate's cycle check deliberately: the graph must be
// able to detect corruption introduced after validation too (e.g. a caller
// constructing nodes directly in tests).
func NewGraph(nodes []TaskNode, mutexes *mutexreg.Registry) (*Graph, error) {
	g := &Graph{
		nodes:        make(map[string]TaskNode, len(nodes)),
		dependencies: make(map[string][]string, len(nodes)),
		dependents:   make(map[string][]string, len(nodes)),
		mutexes:      mutexes,
	}

	for _, node := range nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("task id cannot be empty")
		}
		if _, exists := g.nodes[node.ID]; exists {
			return nil, fmt.Errorf("duplicate task id %q", node.ID)
		}
		if node.State == "" {
			node.State = contracts.TaskPending
		}
		g.nodes[node.ID] = node
		deps := append([]string(nil), node.DependsOn...)
		sort.Strings(deps)
		g.dependencies[node.ID] = deps
	}

	for id, deps := range g.dependencies {
		for _, dep := range deps {
			if _, exists := g.nodes[dep]; !exists {
				return nil, fmt.Errorf("task %q depends on unknown task %q", id, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	if cycle := g.findDependencyCycle(); len(cycle) > 0 {
		return nil, fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
	}

	for id, dependents := range g.dependents {
		sort.Strings(dependents)
		g.dependents[id] = dependents
	}

	return g, nil
}

// ReadySet returns every pending task whose dependencies are all done and
// whose mutexes are all currently free, in deterministic id order.
func (g *Graph) ReadySet() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.readySetLocked()
}

func (g *Graph) readySetLocked() []string {
	ready := make([]string, 0)
	for id, node := range g.nodes {
		if node.State != contracts.TaskPending {
			continue
		}
		if !g.depsSatisfiedLocked(id) {
			continue
		}
		if g.mutexes != nil && !g.mutexes.Available(node.Mutex) {
			continue
		}
		ready = append(ready, id)
	}
	sort.Strings(ready)
	return ready
}

func (g *Graph) depsSatisfiedLocked(taskID string) bool {
	for _, dep := range g.dependencies[taskID] {
		if g.nodes[dep].State != contracts.TaskDone {
			return false
		}
	}
	return true
}

// Start transitions taskID from pending to running, atomically acquiring its
// mutexes. It returns false if the task was not ready (state wrong, deps
// unsatisfied, or a mutex could not be acquired) — the caller should treat
// this as "try again later", not an error.
func (g *Graph) Start(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, exists := g.nodes[taskID]
	if !exists || node.State != contracts.TaskPending || !g.depsSatisfiedLocked(taskID) {
		return false
	}
	if g.mutexes != nil && !g.mutexes.TryAcquire(taskID, node.Mutex) {
		return false
	}
	node.State = contracts.TaskRunning
	g.nodes[taskID] = node
	return true
}

// Complete transitions taskID from running to done and releases its mutexes.
func (g *Graph) Complete(taskID string) error {
	return g.finish(taskID, contracts.TaskDone)
}

// Fail transitions taskID from running to failed and releases its mutexes.
func (g *Graph) Fail(taskID string) error {
	return g.finish(taskID, contracts.TaskFailed)
}

func (g *Graph) finish(taskID string, next contracts.TaskState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, exists := g.nodes[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if !node.State.CanTransitionTo(next) {
		return fmt.Errorf("task %q: illegal transition %s -> %s", taskID, node.State, next)
	}
	if g.mutexes != nil {
		g.mutexes.Release(taskID, node.Mutex)
	}
	node.State = next
	g.nodes[taskID] = node
	return nil
}

// Requeue transitions taskID from failed back to pending, making it
// eligible for the ready set again on a future retry.
func (g *Graph) Requeue(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, exists := g.nodes[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if !node.State.CanTransitionTo(contracts.TaskPending) {
		return fmt.Errorf("task %q: illegal transition %s -> pending", taskID, node.State)
	}
	node.State = contracts.TaskPending
	g.nodes[taskID] = node
	return nil
}

// CountRunning returns the number of tasks currently in the running state.
func (g *Graph) CountRunning() int {
	return g.countState(contracts.TaskRunning)
}

// CountPending returns the number of tasks currently in the pending state.
func (g *Graph) CountPending() int {
	return g.countState(contracts.TaskPending)
}

func (g *Graph) countState(state contracts.TaskState) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	count := 0
	for _, node := range g.nodes {
		if node.State == state {
			count++
		}
	}
	return count
}

// IsComplete reports whether every task has reached a terminal state (done
// or, for tasks that have exhausted retries, failed).
func (g *Graph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, node := range g.nodes {
		if node.State == contracts.TaskPending || node.State == contracts.TaskRunning {
			return false
		}
	}
	return true
}

// Deadlocked reports whether the run is stuck: no task is running, the
// ready set is empty, but pending tasks remain. This can only happen if
// every pending task's dependencies are blocked on a failed task, since the
// graph itself is acyclic by construction.
func (g *Graph) Deadlocked() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	running := 0
	pending := 0
	for _, node := range g.nodes {
		switch node.State {
		case contracts.TaskRunning:
			running++
		case contracts.TaskPending:
			pending++
		}
	}
	if running > 0 || pending == 0 {
		return false
	}
	return len(g.readySetLocked()) == 0
}

// ExplainBlock reports why taskID is not currently runnable: the ids of its
// unmet dependencies (not in the done state) and the mutex names it is
// waiting on, with the task id currently holding each.
func (g *Graph) ExplainBlock(taskID string) (unmetDeps []string, waitingOnMutex map[string]string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	waitingOnMutex = make(map[string]string)
	node, exists := g.nodes[taskID]
	if !exists {
		return nil, waitingOnMutex
	}

	for _, dep := range g.dependencies[taskID] {
		if g.nodes[dep].State != contracts.TaskDone {
			unmetDeps = append(unmetDeps, dep)
		}
	}
	if g.mutexes != nil {
		for _, name := range node.Mutex {
			if holder := g.mutexes.HolderOf(name); holder != "" && holder != taskID {
				waitingOnMutex[name] = holder
			}
		}
	}
	return unmetDeps, waitingOnMutex
}

// State returns the current state of taskID.
func (g *Graph) State(taskID string) (contracts.TaskState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, exists := g.nodes[taskID]
	return node.State, exists
}

func (g *Graph) findDependencyCycle() []string {
	const (
		unseen = iota
		pending
		done
	)
	visit := make(map[string]int, len(g.nodes))
	stack := make([]string, 0, len(g.nodes))
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var cycle []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		switch visit[id] {
		case done:
			return false
		case pending:
			start := 0
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == id {
					start = i
					break
				}
			}
			cycle = append(cycle, stack[start:]...)
			cycle = append(cycle, id)
			return true
		}
		visit[id] = pending
		stack = append(stack, id)
		for _, dep := range g.dependencies[id] {
			if dfs(dep) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		visit[id] = done
		return false
	}

	for _, id := range ids {
		if visit[id] == unseen {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}
