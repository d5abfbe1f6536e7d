package cache

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/git"
	"github.com/jmgilman/repocache/secret"
)

// request carries everything one engine run needs to know about the
// working copy it produces.
type request struct {
	id     Identity
	uri    string
	sel    Selector
	policy *git.TransportPolicy
}

func (m *Manager) newRequest(id Identity, uri string, sel Selector, s secret.Secret) request {
	return request{
		id:     id,
		uri:    uri,
		sel:    sel,
		policy: git.NewTransportPolicy(s, m.logger),
	}
}

func (r request) attrs() []any {
	return []any{
		slog.String("project", r.id.ProjectID.String()),
		slog.String("repository", r.id.Repository),
		slog.String("uri", r.uri),
		slog.String("selector", r.sel.Label()),
	}
}

func (r request) fields() map[string]any {
	return map[string]any{
		"project":    r.id.ProjectID.String(),
		"repository": r.id.Repository,
		"uri":        r.uri,
		"selector":   r.sel.String(),
	}
}

// repositoryError wraps err as CodeRepository with the context of r.
func repositoryError(err error, message string, r request) error {
	return git.Retryable(errors.WrapWithContext(err, git.CodeRepository, message, r.fields()))
}

// open returns the working copy at dir, or nil if there is none. A directory
// without version-control metadata counts as no working copy; one whose
// metadata cannot be read is an error so it is never silently cloned over.
func (m *Manager) open(r request, dir string) (*git.Repository, error) {
	if _, err := m.fs.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, repositoryError(err, "error while opening a repository", r)
	}

	if !git.HasMetadata(dir, m.repoOpts...) {
		return nil, nil
	}

	repo, err := git.Open(dir, m.repoOpts...)
	if err != nil {
		return nil, repositoryError(err, "error while opening a repository", r)
	}
	return repo, nil
}

// clone materializes the working copy for r at dir: the clone itself, the
// checkout of the selector and every submodule. Whatever fails, dir is
// removed so the next attempt starts from scratch.
func (m *Manager) clone(ctx context.Context, r request, dir string) (*git.Repository, error) {
	if other := m.nestedCopy(r.id, dir); other != "" {
		fields := r.fields()
		fields["conflict"] = other
		return nil, errors.WithContextMap(
			errors.New(git.CodeRepository, "working copy overlaps an existing one"),
			fields,
		)
	}

	// Leftovers without metadata are cleared before cloning into the directory.
	if err := util.RemoveAll(m.fs, dir); err != nil {
		return nil, repositoryError(err, "can't create a directory for a repository", r)
	}

	repo, err := m.cloneAndCheckout(ctx, r, dir)
	if err != nil {
		if cerr := util.RemoveAll(m.fs, dir); cerr != nil {
			m.logger.Warn("cleanup failed after clone error", append(r.attrs(), slog.Any("error", cerr))...)
		}
		return nil, repositoryError(err, "error while cloning a repository", r)
	}

	m.metrics.network.WithLabelValues("clone").Inc()
	return repo, nil
}

// nestedCopy returns the working copy of the same identity that a clone into
// dir would nest inside or delete, or "" if there is none. Branch labels
// nest on disk the way Git refs do, so "feature" and "feature/x" cannot
// both have a working copy.
func (m *Manager) nestedCopy(id Identity, dir string) string {
	root := m.identityPath(id)
	for parent := filepath.Dir(dir); parent != root && strings.HasPrefix(parent, root); parent = filepath.Dir(parent) {
		if git.HasMetadata(parent, m.repoOpts...) {
			return parent
		}
	}

	var found string
	_ = util.Walk(m.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil || path == dir || !info.IsDir() {
			return nil //nolint:nilerr // unreadable entries cannot hold a copy
		}
		if git.HasMetadata(path, m.repoOpts...) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func (m *Manager) cloneAndCheckout(ctx context.Context, r request, dir string) (*git.Repository, error) {
	transport, err := r.policy.ForURL(r.uri)
	if err != nil {
		return nil, err
	}

	// A commit may live on any branch, so commit clones fetch everything.
	opts := git.CloneOptions{URL: r.uri, Transport: transport}
	if r.sel.Commit == "" {
		opts.Branch = r.sel.Branch
	}

	repo, err := git.Clone(ctx, dir, opts, m.repoOpts...)
	if err != nil {
		return nil, err
	}

	switch {
	case r.sel.Commit != "":
		if _, err := repo.CheckoutCommit(r.sel.Commit); err != nil {
			return nil, err
		}
	case r.sel.Branch != "":
		// Confirms the branch actually exists locally.
		if err := repo.CheckoutBranch(r.sel.Branch); err != nil {
			return nil, err
		}
	}

	if err := m.submodules(r).Clone(ctx, repo); err != nil {
		return nil, err
	}

	return repo, nil
}

// update brings an existing branch working copy up to date with its remote.
// On failure the copy is left as it was.
func (m *Manager) update(ctx context.Context, r request, repo *git.Repository) error {
	transport, err := r.policy.ForURL(r.uri)
	if err != nil {
		return err
	}

	if err := repo.CheckoutBranch(r.sel.Branch); err != nil {
		return repositoryError(err, "error while updating a repository", r)
	}

	if err := repo.Pull(ctx, git.PullOptions{
		Branch:    r.sel.Branch,
		Transport: transport,
	}); err != nil {
		return repositoryError(err, "error while updating a repository", r)
	}

	if err := m.submodules(r).Update(ctx, repo); err != nil {
		return repositoryError(err, "error while updating submodules", r)
	}

	m.metrics.network.WithLabelValues("update").Inc()
	return nil
}

func (m *Manager) submodules(r request) *git.SubmoduleRecursor {
	return git.NewSubmoduleRecursor(r.policy, m.cfg.MaxSubmoduleDepth, m.logger)
}

// fetchBranch gets or updates the branch working copy of r and returns its
// root. Must be called with the identity lock held.
func (m *Manager) fetchBranch(ctx context.Context, r request) (string, error) {
	dir := m.localPath(r.id, r.sel.Label())

	repo, err := m.open(r, dir)
	if err != nil {
		return "", err
	}

	if repo != nil {
		if err := m.update(ctx, r, repo); err != nil {
			return "", err
		}
		m.logger.Info("repository updated", r.attrs()...)
		return dir, nil
	}

	if _, err := m.clone(ctx, r, dir); err != nil {
		return "", err
	}
	m.logger.Info("initial clone completed", r.attrs()...)
	return dir, nil
}

// fetchCommit returns the root of the commit working copy of r, cloning it if
// it does not exist yet. Existing copies are never refreshed since commits do
// not change. Must be called with the identity lock held.
func (m *Manager) fetchCommit(ctx context.Context, r request) (string, error) {
	dir := m.localPath(r.id, r.sel.Label())

	repo, err := m.open(r, dir)
	if err != nil {
		return "", err
	}

	if repo != nil {
		m.logger.Debug("repository exists", r.attrs()...)
		return dir, nil
	}

	if _, err := m.clone(ctx, r, dir); err != nil {
		return "", err
	}
	m.logger.Info("initial clone completed", r.attrs()...)
	return dir, nil
}

// testConnection clones r into a temporary directory, validates subPath and
// removes the directory again whatever the outcome.
func (m *Manager) testConnection(ctx context.Context, r request, subPath string) (err error) {
	tmpRoot := m.cfg.TempDir
	if tmpRoot == "" {
		tmpRoot = os.TempDir()
	}

	dir, err := util.TempDir(m.fs, tmpRoot, "repository")
	if err != nil {
		return repositoryError(err, "can't create a temporary directory", r)
	}
	defer func() {
		if cerr := util.RemoveAll(m.fs, dir); cerr != nil {
			m.logger.Warn("cleanup failed after connection test", append(r.attrs(), slog.Any("error", cerr))...)
		}
	}()

	if _, err := m.cloneAndCheckout(ctx, r, dir); err != nil {
		if git.HasCode(err, git.CodeInvalidSecretType) {
			return err
		}
		return repositoryError(err, "connection test failed", r)
	}

	_, err = m.resolveSubPath(dir, subPath)
	return err
}
