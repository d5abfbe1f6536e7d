package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/config"
	"github.com/jmgilman/repocache/git"
	"github.com/jmgilman/repocache/secret"
)

// New creates a Manager rooted at cfg.CacheDir, creating the directory if
// needed.
//
// Example:
//
//	m, err := cache.New(config.Default(), cache.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	dir, err := m.Fetch(ctx, projectID, "svc", "https://example.com/repo.git", "main", "", nil)
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &options{
		logger: slog.Default(),
		fs:     osfs.New("/"),
	}
	for _, opt := range opts {
		opt(options)
	}

	if err := options.fs.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidConfig, "failed to create cache directory", map[string]any{
			"cache_dir": cfg.CacheDir,
		})
	}

	m := &Manager{
		cfg:     cfg,
		fs:      options.fs,
		logger:  options.logger,
		metrics: newMetrics(options.registerer),
	}

	m.locks = newLockManager(cfg.LockStripes, cfg.LockTimeout, m.metrics)
	if cfg.CrossProcessLock {
		m.locks.withFileLocks(cfg.CacheDir)
	}

	m.repoOpts = []git.RepositoryOption{git.WithFilesystem(m.fs)}
	if options.remoteOps != nil {
		m.repoOpts = append(m.repoOpts, git.WithRemoteOperations(options.remoteOps))
	}

	return m, nil
}

// Fetch returns the working copy of branch, cloning it on first use and
// pulling the remote otherwise. An empty branch means the configured default
// branch. When subPath is set the returned path points at that directory
// inside the working copy, which must exist.
//
// A failed first clone leaves nothing behind. A failed update leaves the
// previous working copy in place and returns an error.
func (m *Manager) Fetch(ctx context.Context, projectID uuid.UUID, repo, uri, branch, subPath string, s secret.Secret) (path string, err error) {
	defer func(start time.Time) { m.metrics.observe("fetch", start, err) }(time.Now())

	if branch == "" {
		branch = m.cfg.DefaultBranch
	}
	r, err := m.prepare(projectID, repo, uri, Selector{Branch: branch}, s)
	if err != nil {
		return "", err
	}

	err = m.locks.withExclusive(ctx, r.id, func() error {
		root, err := m.fetchBranch(ctx, r)
		if err != nil {
			return err
		}
		path, err = m.resolveSubPath(root, subPath)
		return err
	})
	return path, err
}

// FetchByCommit returns the working copy of commitID (a full or abbreviated
// hash). An existing copy is returned without contacting the remote.
func (m *Manager) FetchByCommit(ctx context.Context, projectID uuid.UUID, repo, uri, commitID, subPath string, s secret.Secret) (path string, err error) {
	defer func(start time.Time) { m.metrics.observe("fetch_commit", start, err) }(time.Now())

	r, err := m.prepare(projectID, repo, uri, Selector{Commit: commitID}, s)
	if err != nil {
		return "", err
	}

	err = m.locks.withExclusive(ctx, r.id, func() error {
		root, err := m.fetchCommit(ctx, r)
		if err != nil {
			return err
		}
		path, err = m.resolveSubPath(root, subPath)
		return err
	})
	return path, err
}

// GetRepoPath returns the path of an existing branch working copy, or of
// subPath inside it, without any network access or locking. It fails with
// CodeInvalidPath if the path does not exist.
func (m *Manager) GetRepoPath(projectID uuid.UUID, repo, branch, subPath string) (string, error) {
	if branch == "" {
		branch = m.cfg.DefaultBranch
	}

	id := Identity{ProjectID: projectID, Repository: repo}
	if err := validateIdentity(id); err != nil {
		return "", err
	}
	if err := validateLabel(branch); err != nil {
		return "", err
	}

	root := m.localPath(id, branch)
	if _, err := m.fs.Stat(root); err != nil {
		return "", errors.WrapWithContext(err, CodeInvalidPath, "repository is not cached", map[string]any{
			"project":    projectID.String(),
			"repository": repo,
			"branch":     branch,
		})
	}

	return m.resolveSubPath(root, subPath)
}

// TestConnection checks that uri is reachable with s, that branch or commitID
// exists and that subPath exists in it. Nothing is kept in the cache. When
// commitID is set the branch is ignored.
func (m *Manager) TestConnection(ctx context.Context, uri, branch, commitID, subPath string, s secret.Secret) (err error) {
	defer func(start time.Time) { m.metrics.observe("test_connection", start, err) }(time.Now())

	sel := Selector{Branch: branch, Commit: commitID}
	if commitID != "" {
		sel.Branch = ""
	}

	r := m.newRequest(Identity{}, uri, sel, s)
	if err := r.policy.Validate(uri); err != nil {
		return err
	}

	return m.testConnection(ctx, r, subPath)
}

// WithLock runs fn while holding the lock of the repository identity, for
// callers that read or modify a working copy outside of Fetch. fn must not
// call back into the Manager for the same identity.
func (m *Manager) WithLock(ctx context.Context, projectID uuid.UUID, repo string, fn func() error) error {
	id := Identity{ProjectID: projectID, Repository: repo}
	if err := validateIdentity(id); err != nil {
		return err
	}
	return m.locks.withExclusive(ctx, id, fn)
}

// Remove deletes every working copy of the repository identity.
func (m *Manager) Remove(ctx context.Context, projectID uuid.UUID, repo string) (err error) {
	defer func(start time.Time) { m.metrics.observe("remove", start, err) }(time.Now())

	id := Identity{ProjectID: projectID, Repository: repo}
	if err := validateIdentity(id); err != nil {
		return err
	}

	return m.locks.withExclusive(ctx, id, func() error {
		dir := m.identityPath(id)
		if err := util.RemoveAll(m.fs, dir); err != nil {
			return errors.WrapWithContext(err, git.CodeRepository, "failed to remove repository", map[string]any{
				"project":    projectID.String(),
				"repository": repo,
			})
		}
		m.logger.Info("repository removed", "project", projectID.String(), "repository", repo)
		return nil
	})
}

// prepare validates everything that can be checked before taking the lock,
// so bad input never creates directories.
func (m *Manager) prepare(projectID uuid.UUID, repo, uri string, sel Selector, s secret.Secret) (request, error) {
	r := m.newRequest(Identity{ProjectID: projectID, Repository: repo}, uri, sel, s)

	if err := validateIdentity(r.id); err != nil {
		return request{}, err
	}
	if err := validateLabel(sel.Label()); err != nil {
		return request{}, err
	}
	if err := r.policy.Validate(uri); err != nil {
		return request{}, errors.WithContextMap(err, r.fields())
	}

	return r, nil
}
