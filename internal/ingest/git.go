package ingest

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// CloneRepo shallow-clones a remote repository into a temporary directory
// and returns the checkout path with a cleanup function. When sha is given
// the worktree is checked out at that commit (a full clone is required).
func CloneRepo(ctx context.Context, repoURL, branch, sha string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "claude-context-clone-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating clone dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	opts := &git.CloneOptions{
		URL:          repoURL,
		SingleBranch: true,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	if sha == "" {
		opts.Depth = 1
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("cloning %s: %w", repoURL, err)
	}

	if sha != "" {
		wt, err := repo.Worktree()
		if err != nil {
			cleanup()
			return "", nil, fmt.Errorf("opening worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("checking out %s: %w", sha, err)
		}
	}

	return dir, cleanup, nil
}
