// Package worktree manages the per-task git worktree lifecycle: creating
// an isolated checkout on a fresh branch for a task attempt, and tearing it
// down afterward. A startup GC pass sweeps worktrees and branches left
// behind by a crashed previous run.
package worktree

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/slugify"
)

// Manager creates and removes worktrees under root, naming branches with
// prefix.
type Manager struct {
	vcs          contracts.VCS
	root         string
	branchPrefix string
	baseBranch   string
}

// New returns a Manager rooted at root (typically <run-dir>/worktrees),
// branching every task off baseBranch with branches named
// "<branchPrefix>/<slug>-<taskID>".
func New(vcs contracts.VCS, root, branchPrefix, baseBranch string) *Manager {
	return &Manager{vcs: vcs, root: root, branchPrefix: branchPrefix, baseBranch: baseBranch}
}

// BranchName derives the branch name for a task, combining the branch
// prefix with a slug of the title and the task id so branches stay unique
// even when two tasks share a title.
func (m *Manager) BranchName(taskID, title string) string {
	slug := slugify.Slug(title)
	if slug == "" {
		slug = slugify.Slug(taskID)
	}
	prefix := strings.TrimSuffix(m.branchPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s-%s", slug, taskID)
	}
	return fmt.Sprintf("%s/%s-%s", prefix, slug, taskID)
}

// Create materializes a fresh worktree and branch for taskID, slot
// identifying which parallel lane it occupies. Any worktree and branch left
// behind by a crashed predecessor run under the same branch name are
// force-removed first, so a resumed run is tolerant of that leftover state.
func (m *Manager) Create(ctx context.Context, taskID, title string, slot int) (contracts.Worktree, error) {
	branch := m.BranchName(taskID, title)
	path := filepath.Join(m.root, fmt.Sprintf("slot-%d", slot))
	if err := m.reclaimBranch(ctx, branch); err != nil {
		return contracts.Worktree{}, fmt.Errorf("create worktree for task %q: %w", taskID, err)
	}
	if err := m.vcs.AddWorktree(ctx, path, branch, m.baseBranch); err != nil {
		return contracts.Worktree{}, fmt.Errorf("create worktree for task %q: %w", taskID, err)
	}
	return contracts.Worktree{Path: path, Branch: branch, Slot: slot, OwnerID: taskID}, nil
}

// reclaimBranch force-removes any worktree already registered against
// branch and force-deletes the branch itself. A branch with no registered
// worktree is left alone: this only tolerates a crashed predecessor's
// leftovers, it never touches history a normal run wouldn't have created.
func (m *Manager) reclaimBranch(ctx context.Context, branch string) error {
	worktrees, err := m.vcs.ListWorktrees(ctx)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}
	for _, wt := range worktrees {
		if wt.Branch != branch {
			continue
		}
		if err := m.vcs.RemoveWorktree(ctx, wt.Path, true); err != nil {
			return fmt.Errorf("remove stale worktree %q: %w", wt.Path, err)
		}
		if err := m.vcs.PruneWorktrees(ctx); err != nil {
			return fmt.Errorf("prune worktrees: %w", err)
		}
		if err := m.vcs.DeleteBranch(ctx, branch, true); err != nil {
			return fmt.Errorf("delete stale branch %q: %w", branch, err)
		}
	}
	return nil
}

// Cleanup removes a task's worktree and, if the branch was never merged
// into the integration branch, its branch too. A merged branch is left in
// place for history; the caller is responsible for deleting it once the
// merge is recorded.
func (m *Manager) Cleanup(ctx context.Context, wt contracts.Worktree, deleteBranch bool) error {
	if err := m.vcs.RemoveWorktree(ctx, wt.Path, true); err != nil {
		return fmt.Errorf("remove worktree %q: %w", wt.Path, err)
	}
	if err := m.vcs.PruneWorktrees(ctx); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	if deleteBranch {
		if err := m.vcs.DeleteBranch(ctx, wt.Branch, true); err != nil {
			return fmt.Errorf("delete branch %q: %w", wt.Branch, err)
		}
	}
	return nil
}

// GC sweeps every worktree whose path lives under root (left behind by a
// crashed previous run, since a normal shutdown always calls Cleanup) and
// removes it along with its branch, provided the branch carries the
// manager's prefix — never touch a branch this run didn't create.
func (m *Manager) GC(ctx context.Context) ([]string, error) {
	worktrees, err := m.vcs.ListWorktrees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees for gc: %w", err)
	}
	var removed []string
	for _, wt := range worktrees {
		if !strings.HasPrefix(wt.Path, m.root) {
			continue
		}
		if err := m.vcs.RemoveWorktree(ctx, wt.Path, true); err != nil {
			return removed, fmt.Errorf("gc remove worktree %q: %w", wt.Path, err)
		}
		if m.ownsBranch(wt.Branch) {
			_ = m.vcs.DeleteBranch(ctx, wt.Branch, true)
		}
		removed = append(removed, wt.Path)
	}
	if err := m.vcs.PruneWorktrees(ctx); err != nil {
		return removed, fmt.Errorf("prune worktrees after gc: %w", err)
	}
	return removed, nil
}

func (m *Manager) ownsBranch(branch string) bool {
	prefix := strings.TrimSuffix(m.branchPrefix, "/")
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(branch, prefix+"/")
}
