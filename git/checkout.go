package git

import (
	"errors"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Head returns the commit the working copy's HEAD points at.
func (r *Repository) Head() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, wrapError(err, "failed to resolve HEAD")
	}
	return ref.Hash(), nil
}

// CheckoutBranch checks out the local branch, discarding local changes to
// tracked files. A missing local branch is created from its remote-tracking
// counterpart.
func (r *Repository) CheckoutBranch(branch string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return wrapError(err, "failed to get worktree")
	}

	name := plumbing.NewBranchReferenceName(branch)
	err = wt.Checkout(&gogit.CheckoutOptions{Branch: name, Force: true})
	if err == nil {
		return nil
	}
	if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return wrapError(err, "failed to checkout branch "+branch)
	}

	remote, rerr := r.repo.Reference(plumbing.NewRemoteReferenceName(DefaultRemoteName, branch), true)
	if rerr != nil {
		return wrapError(err, "failed to checkout branch "+branch)
	}

	err = wt.Checkout(&gogit.CheckoutOptions{
		Branch: name,
		Hash:   remote.Hash(),
		Create: true,
		Force:  true,
	})
	return wrapError(err, "failed to checkout branch "+branch)
}

// CheckoutCommit resolves rev (a full or abbreviated commit hash, or any
// revision go-git understands) and checks it out with a detached HEAD.
func (r *Repository) CheckoutCommit(rev string) (plumbing.Hash, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, wrapError(err, "failed to resolve commit "+rev)
	}

	if err := r.checkoutHash(*hash); err != nil {
		return plumbing.ZeroHash, err
	}
	return *hash, nil
}

func (r *Repository) checkoutHash(hash plumbing.Hash) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return wrapError(err, "failed to get worktree")
	}

	err = wt.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true})
	return wrapError(err, "failed to checkout commit "+hash.String())
}

// ResetBranch checks out branch and hard resets it to the commit ref points at.
func (r *Repository) ResetBranch(branch string, ref plumbing.ReferenceName) error {
	target, err := r.repo.Reference(ref, true)
	if err != nil {
		return wrapError(err, "failed to resolve "+ref.String())
	}

	if err := r.CheckoutBranch(branch); err != nil {
		return err
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return wrapError(err, "failed to get worktree")
	}

	err = wt.Reset(&gogit.ResetOptions{Commit: target.Hash(), Mode: gogit.HardReset})
	return wrapError(err, "failed to reset branch "+branch)
}
