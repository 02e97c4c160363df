// Package gitrepo manages the per-run branch fork and the squash merge that
// folds the agent's work back onto the user's branch.
package gitrepo

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrDetachedHead indicates HEAD does not point at a branch.
var ErrDetachedHead = errors.New("HEAD is not pointing to a branch")

// ErrBranchExists indicates the fork branch name is already taken.
var ErrBranchExists = errors.New("branch already exists")

// ErrDirtyWorkingTree indicates tracked files have unstaged changes.
var ErrDirtyWorkingTree = errors.New("working tree has unstaged changes")

// ErrMergeConflict indicates the fork diff did not apply cleanly.
var ErrMergeConflict = errors.New("merge conflict while applying fork changes")

func open(repoPath string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", repoPath, err)
	}
	return repo, nil
}

// CurrentBranch returns the shorthand name of the checked-out branch.
func CurrentBranch(repoPath string) (string, error) {
	repo, err := open(repoPath)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}

// CreateBranch creates name pointing at the current HEAD commit without
// switching to it.
func CreateBranch(repoPath, name string) error {
	repo, err := open(repoPath)
	if err != nil {
		return err
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}

	refName := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(refName, false); err == nil {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, head.Hash())); err != nil {
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	return nil
}
