package gitrepo

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/autominion/minion/internal/log"
)

// SquashMerge applies the fork branch's aggregate diff onto the base
// branch's working tree, leaving the changes unstaged. The diff is computed
// from the merge base of the two branches to the fork tip, so the fork's
// internal commit granularity does not matter.
//
// When the patch does not apply cleanly the working tree may be left
// partially patched; the conflict is surfaced to the user rather than
// rolled back.
func SquashMerge(repoPath, base, fork string) error {
	repo, err := open(repoPath)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	clean, err := worktreeClean(wt)
	if err != nil {
		return err
	}
	if !clean {
		return ErrDirtyWorkingTree
	}

	// Make sure base is checked out before patching its working tree.
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() || head.Name().Short() != base {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(base)}); err != nil {
			return fmt.Errorf("checking out %s: %w", base, err)
		}
	}

	baseCommit, err := branchCommit(repo, base)
	if err != nil {
		return err
	}
	forkCommit, err := branchCommit(repo, fork)
	if err != nil {
		return err
	}

	mergeBases, err := baseCommit.MergeBase(forkCommit)
	if err != nil {
		return fmt.Errorf("computing merge base of %s and %s: %w", base, fork, err)
	}
	if len(mergeBases) == 0 {
		return fmt.Errorf("branches %s and %s have no common ancestor", base, fork)
	}

	baseTree, err := mergeBases[0].Tree()
	if err != nil {
		return fmt.Errorf("reading merge-base tree: %w", err)
	}
	forkTree, err := forkCommit.Tree()
	if err != nil {
		return fmt.Errorf("reading fork tree: %w", err)
	}

	changes, err := object.DiffTree(baseTree, forkTree)
	if err != nil {
		return fmt.Errorf("diffing trees: %w", err)
	}
	if len(changes) == 0 {
		log.Debug("squash merge produced no changes", "base", base, "fork", fork)
		return nil
	}
	patch, err := changes.Patch()
	if err != nil {
		return fmt.Errorf("building patch: %w", err)
	}

	return applyUnstaged(repoPath, patch.String())
}

// worktreeClean reports whether every tracked file is unmodified. Untracked
// files are ignored.
func worktreeClean(wt *git.Worktree) (bool, error) {
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("reading worktree status: %w", err)
	}
	for _, fileStatus := range status {
		switch fileStatus.Worktree {
		case git.Unmodified, git.Untracked:
		default:
			return false, nil
		}
	}
	return true, nil
}

func branchCommit(repo *git.Repository, name string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		return nil, fmt.Errorf("resolving branch %s: %w", name, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading commit for %s: %w", name, err)
	}
	return commit, nil
}

// applyUnstaged applies a unified diff to the working directory without
// touching the index. go-git has no patch application, so this shells out
// the same way the rest of the ecosystem does.
func applyUnstaged(repoPath, patch string) error {
	cmd := exec.Command("git", "-C", repoPath, "apply", "--whitespace=nowarn", "-")
	cmd.Stdin = strings.NewReader(patch)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", ErrMergeConflict, strings.TrimSpace(string(out)))
	}
	return nil
}
