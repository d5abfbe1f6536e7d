package git

import (
	"context"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

func applyOptions(opts []RepositoryOption) *repositoryOptions {
	options := &repositoryOptions{
		fs:        osfs.New("/"),
		remoteOps: &defaultRemoteOps{},
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// HasMetadata reports whether path contains version-control metadata (a
// .git directory or file). It says nothing about whether that metadata is
// valid; use Open for that.
func HasMetadata(path string, opts ...RepositoryOption) bool {
	options := applyOptions(opts)
	_, err := options.fs.Stat(filepath.Join(path, gogit.GitDirName))
	return err == nil
}

// Open opens an existing non-bare Git repository at the specified path.
//
// By default, Open uses the local filesystem. This behavior can be
// customized using RepositoryOption functions.
//
// Returns an error classified as NOT_FOUND if no repository exists at the
// path, or one of the other codes if the metadata cannot be read.
//
// Examples:
//
//	repo, err := git.Open("/var/cache/repos/app/master")
//
//	// Open with custom filesystem (for testing)
//	repo, err := git.Open("/repo", git.WithFilesystem(memfs.New()))
func Open(path string, opts ...RepositoryOption) (*Repository, error) {
	options := applyOptions(opts)

	scopedFs, err := options.fs.Chroot(path)
	if err != nil {
		return nil, wrapError(err, "failed to scope filesystem to path")
	}

	dotGitFs, err := scopedFs.Chroot(gogit.GitDirName)
	if err != nil {
		return nil, wrapError(err, "failed to scope filesystem to .git")
	}

	storage := filesystem.NewStorage(dotGitFs, cache.NewObjectLRUDefault())
	repo, err := gogit.Open(storage, scopedFs)
	if err != nil {
		return nil, wrapError(err, "failed to open repository")
	}

	return &Repository{
		path:      path,
		repo:      repo,
		fs:        scopedFs,
		remoteOps: options.remoteOps,
	}, nil
}

// Clone clones a remote repository into path, which should be empty or not
// exist yet.
//
// When opts.Branch is set, only that branch is fetched and it is checked out.
// Otherwise every branch is fetched and the remote HEAD is checked out.
// Submodules are not touched; see SubmoduleRecursor.
//
// Examples:
//
//	repo, err := git.Clone(ctx, "/var/cache/repos/app/master", git.CloneOptions{
//	    URL:    "https://github.com/org/app.git",
//	    Branch: "master",
//	})
func Clone(ctx context.Context, path string, opts CloneOptions, ropts ...RepositoryOption) (*Repository, error) {
	options := applyOptions(ropts)

	if err := options.fs.MkdirAll(path, 0o755); err != nil {
		return nil, wrapError(err, "failed to create clone directory")
	}

	scopedFs, err := options.fs.Chroot(path)
	if err != nil {
		return nil, wrapError(err, "failed to scope filesystem to path")
	}

	repo, err := options.remoteOps.Clone(ctx, scopedFs, opts)
	if err != nil {
		//nolint:wrapcheck // Errors from remoteOps are already wrapped in their implementations
		return nil, err
	}

	repo.path = path
	repo.remoteOps = options.remoteOps
	return repo, nil
}

// Path returns the path the repository was opened or cloned at.
func (r *Repository) Path() string {
	return r.path
}

// Underlying returns the underlying go-git Repository for advanced operations
// not covered by this wrapper.
func (r *Repository) Underlying() *gogit.Repository {
	return r.repo
}

// Filesystem returns the billy.Filesystem scoped to the working tree.
func (r *Repository) Filesystem() billy.Filesystem {
	return r.fs
}
