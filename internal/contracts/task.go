// Package contracts defines the data model and cross-component interfaces
// shared by every other package: the task graph, the run configuration, the
// version-control operation set, and the coding-agent invocation contract.
package contracts

import (
	"fmt"
	"sort"
	"strings"
)

// MutexCatalog lists the exclusive resource names known ahead of time. Names
// outside this catalog are only accepted when they carry the dynamic
// "contract:" prefix.
var MutexCatalog = map[string]struct{}{
	"db-migrations":  {},
	"lockfile":       {},
	"router":         {},
	"global-config":  {},
}

const contractMutexPrefix = "contract:"

// IsKnownMutex reports whether name is in the static catalog or matches the
// dynamic contract:* prefix.
func IsKnownMutex(name string) bool {
	if _, ok := MutexCatalog[name]; ok {
		return true
	}
	return strings.HasPrefix(name, contractMutexPrefix)
}

// Task is one node of the dependency graph.
type Task struct {
	ID         string   `yaml:"id" json:"id"`
	Title      string   `yaml:"title" json:"title"`
	Completed  bool     `yaml:"completed" json:"completed"`
	DependsOn  []string `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Mutex      []string `yaml:"mutex,omitempty" json:"mutex,omitempty"`
	Touches    []string `yaml:"touches,omitempty" json:"touches,omitempty"`
	MergeNotes string   `yaml:"mergeNotes,omitempty" json:"mergeNotes,omitempty"`
}

// TaskSet is the authoritative on-disk tasks document.
type TaskSet struct {
	Version    int    `yaml:"version,omitempty" json:"version,omitempty"`
	BranchName string `yaml:"branchName" json:"branchName"`
	Tasks      []Task `yaml:"tasks" json:"tasks"`
}

// ValidationError collects every rule violation found while validating a
// TaskSet. A non-empty ValidationError fails the run before any scheduling
// happens.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "no validation errors"
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e.Errors), strings.Join(e.Errors, "; "))
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Validate runs every rule in §4.1 against the TaskSet and returns the full
// list of violations, or nil if the document is well-formed. Cycle detection
// reports one concrete cycle path so the operator has something actionable.
func (ts TaskSet) Validate() *ValidationError {
	verr := &ValidationError{}

	if ts.Version != 0 && ts.Version != 1 {
		verr.add("version must be 1, got %d", ts.Version)
	}

	seen := make(map[string]int, len(ts.Tasks))
	for _, task := range ts.Tasks {
		if task.ID == "" {
			verr.add("task has empty id (title=%q)", task.Title)
			continue
		}
		seen[task.ID]++
	}
	for id, count := range seen {
		if count > 1 {
			verr.add("duplicate task id %q appears %d times", id, count)
		}
	}

	ids := make(map[string]struct{}, len(ts.Tasks))
	for _, task := range ts.Tasks {
		ids[task.ID] = struct{}{}
	}

	for _, task := range ts.Tasks {
		for _, dep := range task.DependsOn {
			if _, ok := ids[dep]; !ok {
				verr.add("task %q depends on unknown task %q", task.ID, dep)
			}
		}
		for _, name := range task.Mutex {
			if !IsKnownMutex(name) {
				verr.add("task %q uses unknown mutex %q", task.ID, name)
			}
		}
	}

	if cycle := findCycle(ts.Tasks); len(cycle) > 0 {
		verr.add("circular dependency detected: %s", strings.Join(cycle, " -> "))
	}

	if len(verr.Errors) == 0 {
		return nil
	}
	return verr
}

// findCycle runs an iterative depth-first search over the dependency edges
// and returns one cycle path if the graph is not a DAG.
func findCycle(tasks []Task) []string {
	deps := make(map[string][]string, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, task := range tasks {
		sorted := append([]string(nil), task.DependsOn...)
		sort.Strings(sorted)
		deps[task.ID] = sorted
		order = append(order, task.ID)
	}
	sort.Strings(order)

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(tasks))
	stack := make([]string, 0, len(tasks))

	var cycle []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		switch state[id] {
		case visited:
			return false
		case visiting:
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
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if _, ok := deps[dep]; !ok {
				continue // unknown dep already reported separately
			}
			if dfs(dep) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return false
	}

	for _, id := range order {
		if state[id] == unvisited {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}

// ByID returns the task with the given id, or false if absent.
func (ts TaskSet) ByID(id string) (Task, bool) {
	for _, task := range ts.Tasks {
		if task.ID == id {
			return task, true
		}
	}
	return Task{}, false
}

// IDs returns every task id in document order.
func (ts TaskSet) IDs() []string {
	out := make([]string, 0, len(ts.Tasks))
	for _, task := range ts.Tasks {
		out = append(out, task.ID)
	}
	return out
}
