package contracts

import "context"

// VCS is the small operation set the rest of the system consumes from the
// version-control system (§6.3). Implementations talk to a real git binary;
// every other component only ever sees this interface, so tests can supply
// fakes without shelling out.
type VCS interface {
	// ListWorktrees returns every worktree currently registered with the repo.
	ListWorktrees(ctx context.Context) ([]WorktreeInfo, error)
	// AddWorktree materializes path as a new worktree checked out onto a
	// freshly created branch based on baseBranch.
	AddWorktree(ctx context.Context, path, branch, baseBranch string) error
	// RemoveWorktree force-removes the worktree at path.
	RemoveWorktree(ctx context.Context, path string, force bool) error
	// PruneWorktrees discards bookkeeping for worktrees whose directories are
	// gone.
	PruneWorktrees(ctx context.Context) error
	// CreateBranch creates branch from ref, failing if it already exists.
	CreateBranch(ctx context.Context, branch, ref string) error
	// DeleteBranch force-deletes branch.
	DeleteBranch(ctx context.Context, branch string, force bool) error
	// Checkout switches the current worktree's HEAD to branch.
	Checkout(ctx context.Context, dir, branch string) error
	// CommitAll stages every pending change in dir and commits with message,
	// returning the new commit SHA. If nothing changed it returns "" and a
	// nil error.
	CommitAll(ctx context.Context, dir, message string) (string, error)
	// CommitCount returns the number of commits reachable from head that are
	// not reachable from base.
	CommitCount(ctx context.Context, dir, base, head string) (int, error)
	// ChangedFiles lists paths that differ between base and head.
	ChangedFiles(ctx context.Context, dir, base, head string) ([]string, error)
	// IsClean reports whether dir has no uncommitted changes.
	IsClean(ctx context.Context, dir string) (bool, error)
	// Merge attempts to merge branch into the checkout at dir. On conflict it
	// returns ok=false with the list of conflicted files and leaves the
	// conflict markers in place for resolution; the caller must call
	// AbortMerge or resolve and commit.
	Merge(ctx context.Context, dir, branch string) (ok bool, conflicts []string, err error)
	// AbortMerge aborts an in-progress merge in dir.
	AbortMerge(ctx context.Context, dir string) error
}

// WorktreeInfo describes one entry returned by ListWorktrees.
type WorktreeInfo struct {
	Path   string
	Branch string
}
