package git

import (
	"context"
	"errors"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// RemoteOperations defines the interface for Git remote network operations.
// This interface allows tests to observe or replace network access.
//
// The default implementation (defaultRemoteOps) delegates to go-git.
type RemoteOperations interface {
	// Clone clones a remote repository into fs, which is scoped to the
	// target working tree.
	Clone(ctx context.Context, fs billy.Filesystem, opts CloneOptions) (*Repository, error)

	// Fetch downloads objects and refs from the remote repository.
	Fetch(ctx context.Context, repo *Repository, opts FetchOptions) error

	// Pull fetches a branch and fast-forwards the working tree to it.
	Pull(ctx context.Context, repo *Repository, opts PullOptions) error
}

// DefaultRemoteOperations returns the go-git backed RemoteOperations.
// It is useful for wrapping in tests.
func DefaultRemoteOperations() RemoteOperations {
	return &defaultRemoteOps{}
}

// defaultRemoteOps is the default implementation of RemoteOperations that
// uses go-git's network operations to interact with remote repositories.
type defaultRemoteOps struct{}

// Clone implements RemoteOperations.Clone using go-git's CloneContext.
func (d *defaultRemoteOps) Clone(ctx context.Context, fs billy.Filesystem, opts CloneOptions) (*Repository, error) {
	dotGitFs, err := fs.Chroot(gogit.GitDirName)
	if err != nil {
		return nil, wrapError(err, "failed to create .git filesystem")
	}

	storage := filesystem.NewStorage(dotGitFs, cache.NewObjectLRUDefault())

	cloneOpts := &gogit.CloneOptions{
		URL:               opts.URL,
		RemoteName:        DefaultRemoteName,
		Auth:              opts.Transport.Auth,
		InsecureSkipTLS:   opts.Transport.InsecureSkipTLS,
		RecurseSubmodules: gogit.NoRecurseSubmodules,
	}

	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
		cloneOpts.SingleBranch = true
	}

	repo, err := gogit.CloneContext(ctx, storage, fs, cloneOpts)
	if err != nil {
		return nil, wrapError(err, "failed to clone repository")
	}

	return &Repository{
		repo: repo,
		fs:   fs,
	}, nil
}

// Fetch implements RemoteOperations.Fetch using go-git's FetchContext.
func (d *defaultRemoteOps) Fetch(ctx context.Context, repo *Repository, opts FetchOptions) error {
	remoteName := opts.RemoteName
	if remoteName == "" {
		remoteName = DefaultRemoteName
	}

	fetchOpts := &gogit.FetchOptions{
		RemoteName:      remoteName,
		Auth:            opts.Transport.Auth,
		InsecureSkipTLS: opts.Transport.InsecureSkipTLS,
		Force:           opts.Force,
	}
	for _, refSpec := range opts.RefSpecs {
		fetchOpts.RefSpecs = append(fetchOpts.RefSpecs, config.RefSpec(refSpec))
	}

	err := repo.repo.FetchContext(ctx, fetchOpts)
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return wrapError(err, "failed to fetch from remote")
	}

	return nil
}

// Pull implements RemoteOperations.Pull using go-git's PullContext.
// Submodules are never updated by the pull itself.
func (d *defaultRemoteOps) Pull(ctx context.Context, repo *Repository, opts PullOptions) error {
	wt, err := repo.repo.Worktree()
	if err != nil {
		return wrapError(err, "failed to get worktree")
	}

	remoteName := opts.RemoteName
	if remoteName == "" {
		remoteName = DefaultRemoteName
	}

	pullOpts := &gogit.PullOptions{
		RemoteName:        remoteName,
		SingleBranch:      true,
		Auth:              opts.Transport.Auth,
		InsecureSkipTLS:   opts.Transport.InsecureSkipTLS,
		RecurseSubmodules: gogit.NoRecurseSubmodules,
	}
	if opts.Branch != "" {
		pullOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}

	err = wt.PullContext(ctx, pullOpts)
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return wrapError(err, "failed to pull from remote")
	}

	return nil
}

// Fetch downloads objects and refs from the remote repository.
// It updates remote-tracking branches but doesn't modify the working tree.
func (r *Repository) Fetch(ctx context.Context, opts FetchOptions) error {
	//nolint:wrapcheck // Errors from remoteOps are already wrapped in their implementations
	return r.ops().Fetch(ctx, r, opts)
}

// Pull fetches opts.Branch from the remote and fast-forwards the working
// tree to it.
//
// If the remote branch was rewritten so that a fast-forward is impossible,
// the branch is fetched with force and the working tree is hard reset to
// the remote tip. A cached working copy only ever mirrors its remote.
func (r *Repository) Pull(ctx context.Context, opts PullOptions) error {
	err := r.ops().Pull(ctx, r, opts)
	if err == nil || !errors.Is(err, gogit.ErrNonFastForwardUpdate) || opts.Branch == "" {
		//nolint:wrapcheck // Errors from remoteOps are already wrapped in their implementations
		return err
	}

	remoteName := opts.RemoteName
	if remoteName == "" {
		remoteName = DefaultRemoteName
	}

	tracking := plumbing.NewRemoteReferenceName(remoteName, opts.Branch)
	refSpec := "+" + plumbing.NewBranchReferenceName(opts.Branch).String() + ":" + tracking.String()
	if err := r.Fetch(ctx, FetchOptions{
		RemoteName: remoteName,
		Transport:  opts.Transport,
		RefSpecs:   []string{refSpec},
		Force:      true,
	}); err != nil {
		return err
	}

	return r.ResetBranch(opts.Branch, tracking)
}

func (r *Repository) ops() RemoteOperations {
	if r.remoteOps == nil {
		return &defaultRemoteOps{}
	}
	return r.remoteOps
}
