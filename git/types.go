package git

import (
	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// DefaultRemoteName is the remote every working copy is cloned from.
const DefaultRemoteName = gogit.DefaultRemoteName

// Repository wraps a go-git repository with platform conventions.
// It stores both the underlying go-git repository and the billy filesystem
// scoped to its working tree.
type Repository struct {
	path      string
	repo      *gogit.Repository
	fs        billy.Filesystem
	remoteOps RemoteOperations
}

// SubmoduleRecord describes one submodule of a working copy. Records are
// never stored; they are recomputed from the parent on every walk.
type SubmoduleRecord struct {
	Name   string
	Path   string
	URL    string
	Pinned plumbing.Hash
}

// CloneOptions configures repository cloning operations.
type CloneOptions struct {
	URL       string
	Transport Transport
	// Branch constrains the clone to a single branch and checks it out.
	// When empty the remote HEAD is checked out and every branch is fetched.
	Branch string
}

// FetchOptions configures fetch operations.
type FetchOptions struct {
	RemoteName string // Default: "origin"
	Transport  Transport
	RefSpecs   []string // Default: the remote's configured refspecs
	Force      bool
}

// PullOptions configures pull operations.
type PullOptions struct {
	RemoteName string // Default: "origin"
	Branch     string
	Transport  Transport
}

// RepositoryOption configures repository creation operations (Open, Clone).
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	fs        billy.Filesystem
	remoteOps RemoteOperations
}

// WithFilesystem sets the billy filesystem to use for repository operations.
// Paths given to Open and Clone are resolved against it. If not provided,
// defaults to osfs.New("/").
func WithFilesystem(fs billy.Filesystem) RepositoryOption {
	return func(opts *repositoryOptions) {
		opts.fs = fs
	}
}

// WithRemoteOperations sets the RemoteOperations implementation used for
// network operations (Clone, Fetch, Pull). The repository and every
// submodule opened through it keep using it.
//
// This option is primarily useful for testing, allowing consumers to observe
// or fake network operations.
func WithRemoteOperations(ops RemoteOperations) RepositoryOption {
	return func(opts *repositoryOptions) {
		opts.remoteOps = ops
	}
}
