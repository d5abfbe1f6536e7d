package cache

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/config"
	"github.com/jmgilman/repocache/git"
)

// Error codes returned by the Manager in addition to those of the git package.
const (
	// CodeInvalidPath indicates a requested sub-path does not exist in a
	// working copy, or the working copy itself does not exist.
	CodeInvalidPath errors.ErrorCode = "INVALID_PATH"

	// CodeLockTimeout indicates a repository lock could not be acquired
	// within the configured timeout. It is retryable.
	CodeLockTimeout errors.ErrorCode = "LOCK_TIMEOUT"
)

// Manager maintains local working copies of remote repositories.
//
// Working copies live at cacheRoot/<projectID>/<repository>/<label>, where the
// label is the branch or commit they were fetched for. Every mutation of a
// working copy happens while holding the lock of its Identity, so concurrent
// callers never observe a half-written tree.
//
// A Manager is safe for concurrent use.
type Manager struct {
	cfg     config.Config
	fs      billy.Filesystem
	logger  *slog.Logger
	locks   *lockManager
	metrics *metrics

	repoOpts []git.RepositoryOption
}

// Identity is the logical key of a cached repository: a project and the name
// of one of its repositories. All working copies of an identity share a lock.
type Identity struct {
	ProjectID  uuid.UUID
	Repository string
}

// Key returns the string the identity is locked and hashed by.
func (i Identity) Key() string {
	return i.ProjectID.String() + "/" + i.Repository
}

// Selector picks the revision of a working copy. A commit wins over a branch.
type Selector struct {
	Branch string
	Commit string
}

// Label returns the directory name of the working copy for the selector.
func (s Selector) Label() string {
	if s.Commit != "" {
		return s.Commit
	}
	return s.Branch
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	if s.Commit != "" {
		return "commit " + s.Commit
	}
	return "branch " + s.Branch
}

// Entry describes one working copy found by List.
type Entry struct {
	Identity Identity
	Label    string
	Path     string
	// Head is the commit HEAD points at, empty if the copy cannot be opened.
	Head string
	// Size is the disk usage of the working copy in bytes.
	Size int64
	// Err is set when the directory has metadata that cannot be opened.
	Err error
}
