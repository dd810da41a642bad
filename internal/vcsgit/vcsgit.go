// Package vcsgit implements contracts.VCS against a real git binary.
package vcsgit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/execrunner"
)

// Git is a contracts.VCS backed by shelling out to git via an
// execrunner.Runner. repoRoot is the main checkout; worktree operations
// target paths below it.
type Git struct {
	repoRoot string
	run      execrunner.Runner
}

// New returns a Git VCS rooted at repoRoot, using runner for every
// invocation (execrunner.NewCommandRunner() in production, a FakeRunner in
// tests).
func New(repoRoot string, runner execrunner.Runner) *Git {
	return &Git{repoRoot: repoRoot, run: runner}
}

func (g *Git) git(ctx context.Context, dir string, args ...string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = g.repoRoot
	}
	return g.run.Run(ctx, dir, "git", args...)
}

// ListWorktrees parses the porcelain output of `git worktree list`.
func (g *Git) ListWorktrees(ctx context.Context) ([]contracts.WorktreeInfo, error) {
	out, err := g.git(ctx, g.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var infos []contracts.WorktreeInfo
	var current contracts.WorktreeInfo
	flush := func() {
		if current.Path != "" {
			infos = append(infos, current)
		}
		current = contracts.WorktreeInfo{}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return infos, nil
}

// AddWorktree runs `git worktree add -b branch path baseBranch`.
func (g *Git) AddWorktree(ctx context.Context, path, branch, baseBranch string) error {
	_, err := g.git(ctx, g.repoRoot, "worktree", "add", "-b", branch, path, baseBranch)
	return err
}

// RemoveWorktree runs `git worktree remove [--force] path`.
func (g *Git) RemoveWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.git(ctx, g.repoRoot, args...)
	return err
}

// PruneWorktrees runs `git worktree prune`.
func (g *Git) PruneWorktrees(ctx context.Context) error {
	_, err := g.git(ctx, g.repoRoot, "worktree", "prune")
	return err
}

// CreateBranch runs `git branch branch ref`.
func (g *Git) CreateBranch(ctx context.Context, branch, ref string) error {
	_, err := g.git(ctx, g.repoRoot, "branch", branch, ref)
	return err
}

// DeleteBranch runs `git branch -d|-D branch`.
func (g *Git) DeleteBranch(ctx context.Context, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.git(ctx, g.repoRoot, "branch", flag, branch)
	return err
}

// Checkout runs `git checkout branch` in dir.
func (g *Git) Checkout(ctx context.Context, dir, branch string) error {
	_, err := g.git(ctx, dir, "checkout", branch)
	return err
}

// CommitAll stages every change in dir and commits it. If there is nothing
// to commit, it returns "" and a nil error rather than surfacing git's
// "nothing to commit" failure.
func (g *Git) CommitAll(ctx context.Context, dir, message string) (string, error) {
	if _, err := g.git(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	clean, err := g.IsClean(ctx, dir)
	if err != nil {
		return "", err
	}
	if clean {
		return "", nil
	}
	if _, err := g.git(ctx, dir, "commit", "-m", message); err != nil {
		return "", err
	}
	sha, err := g.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sha), nil
}

// CommitCount returns the number of commits in head not in base.
func (g *Git) CommitCount(ctx context.Context, dir, base, head string) (int, error) {
	out, err := g.git(ctx, dir, "rev-list", "--count", base+".."+head)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse commit count %q: %w", out, err)
	}
	return count, nil
}

// ChangedFiles lists paths that differ between base and head.
func (g *Git) ChangedFiles(ctx context.Context, dir, base, head string) ([]string, error) {
	out, err := g.git(ctx, dir, "diff", "--name-only", base, head)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// IsClean reports whether dir has no uncommitted changes.
func (g *Git) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := g.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// Merge attempts to merge branch into the checkout at dir, using a merge
// commit (--no-ff) so a task's history stays visible on the integration
// branch. On conflict it reports the conflicted paths and leaves markers in
// place; the caller decides whether to resolve or AbortMerge.
func (g *Git) Merge(ctx context.Context, dir, branch string) (bool, []string, error) {
	_, err := g.git(ctx, dir, "merge", "--no-ff", "--no-edit", branch)
	if err == nil {
		return true, nil, nil
	}
	conflicts, listErr := g.git(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if listErr != nil {
		return false, nil, err
	}
	return false, splitNonEmptyLines(conflicts), nil
}

// AbortMerge runs `git merge --abort` in dir.
func (g *Git) AbortMerge(ctx context.Context, dir string) error {
	_, err := g.git(ctx, dir, "merge", "--abort")
	return err
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
