package git

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	platformerrors "github.com/jmgilman/go/errors"
)

// DefaultMaxSubmoduleDepth bounds how deeply nested submodules are followed.
const DefaultMaxSubmoduleDepth = 10

// SubmoduleRecursor brings the submodules of a working copy, and theirs in
// turn, to the commits pinned by their parents. Every submodule URL goes
// through the same TransportPolicy as the parent.
type SubmoduleRecursor struct {
	policy   *TransportPolicy
	maxDepth int
	logger   *slog.Logger
}

// NewSubmoduleRecursor creates a recursor. A maxDepth below one uses
// DefaultMaxSubmoduleDepth and a nil logger uses slog.Default().
func NewSubmoduleRecursor(policy *TransportPolicy, maxDepth int, logger *slog.Logger) *SubmoduleRecursor {
	if maxDepth < 1 {
		maxDepth = DefaultMaxSubmoduleDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmoduleRecursor{policy: policy, maxDepth: maxDepth, logger: logger}
}

// Clone runs after a fresh clone of repo. Each submodule listed in
// .gitmodules is registered in the parent's configuration, fetched into
// .git/modules/<name> when it has not been materialized yet, checked out at
// its pinned commit and then walked recursively.
//
// The first error aborts the pass. Nothing already done is rolled back.
func (s *SubmoduleRecursor) Clone(ctx context.Context, repo *Repository) error {
	return s.walk(ctx, repo, 1, false)
}

// Update runs after a pull of repo. Only submodules that are registered and
// already materialized are touched: each is fetched, moved to the commit the
// parent now pins and walked recursively.
func (s *SubmoduleRecursor) Update(ctx context.Context, repo *Repository) error {
	return s.walk(ctx, repo, 1, true)
}

func (s *SubmoduleRecursor) walk(ctx context.Context, repo *Repository, depth int, update bool) error {
	if !update {
		if err := repo.initSubmodules(); err != nil {
			return err
		}
	}

	pins, err := repo.pinnedSubmodules()
	if err != nil {
		return err
	}
	if len(pins) == 0 {
		return nil
	}

	if depth > s.maxDepth {
		return platformerrors.WithContext(
			platformerrors.Newf(CodeRepository, "submodule recursion depth exceeded (max %d)", s.maxDepth),
			"path", repo.path,
		)
	}

	for _, pin := range pins {
		if update && !repo.materialized(pin.rec.Name) {
			s.logger.Debug("skipping submodule", "path", pin.rec.Path, "name", pin.rec.Name)
			continue
		}

		child, err := s.sync(ctx, repo, pin.sm, pin.rec, update)
		if err != nil {
			return err
		}

		if err := s.walk(ctx, child, depth+1, update); err != nil {
			return platformerrors.WithContext(err, "parent", pin.rec.Path)
		}
	}

	return nil
}

// sync fetches the submodule when needed and checks out its pinned commit.
func (s *SubmoduleRecursor) sync(ctx context.Context, parent *Repository, sm *gogit.Submodule, rec SubmoduleRecord, update bool) (*Repository, error) {
	r, err := sm.Repository()
	if err != nil {
		return nil, submoduleError(err, rec.Path, "failed to open submodule storage")
	}

	wt, err := r.Worktree()
	if err != nil {
		return nil, submoduleError(err, rec.Path, "failed to get submodule worktree")
	}

	child := &Repository{
		path:      filepath.Join(parent.path, rec.Path),
		repo:      r,
		fs:        wt.Filesystem,
		remoteOps: parent.remoteOps,
	}

	// Relative URLs in .gitmodules point next to the parent's remote. go-git
	// resolves them when it creates the submodule's origin, so the policy is
	// applied to that URL and not to the raw entry.
	uri := child.remoteURL(rec.URL)
	fields := map[string]any{"submodule": rec.Path, "uri": uri}

	t, err := s.policy.ForURL(uri)
	if err != nil {
		return nil, platformerrors.WithContextMap(err, fields)
	}

	if update || !child.hasCommit(rec.Pinned) {
		if err := child.Fetch(ctx, FetchOptions{Transport: t}); err != nil {
			return nil, platformerrors.WithContextMap(err, fields)
		}
	}

	if !child.hasCommit(rec.Pinned) {
		return nil, submoduleError(plumbing.ErrObjectNotFound, rec.Path, "pinned commit "+rec.Pinned.String()+" is not reachable from the submodule remote")
	}

	if err := child.checkoutHash(rec.Pinned); err != nil {
		return nil, platformerrors.WithContext(err, "submodule", rec.Path)
	}

	s.logger.Debug("submodule synced", "path", child.path, "uri", uri, "commit", rec.Pinned.String(), "update", update)
	return child, nil
}

// Submodules returns the actionable submodules of the working copy: entries
// present in .gitmodules, registered in the repository configuration with a
// URL, and recorded as a gitlink in the HEAD tree.
func (r *Repository) Submodules() ([]SubmoduleRecord, error) {
	pins, err := r.pinnedSubmodules()
	if err != nil {
		return nil, err
	}

	records := make([]SubmoduleRecord, 0, len(pins))
	for _, pin := range pins {
		records = append(records, pin.rec)
	}
	return records, nil
}

type pinnedSubmodule struct {
	sm  *gogit.Submodule
	rec SubmoduleRecord
}

// initSubmodules registers every .gitmodules entry in the repository
// configuration.
func (r *Repository) initSubmodules() error {
	subs, err := r.worktreeSubmodules()
	if err != nil {
		return err
	}
	for _, sm := range subs {
		if err := sm.Init(); err != nil && !errors.Is(err, gogit.ErrSubmoduleAlreadyInitialized) {
			return submoduleError(err, sm.Config().Path, "failed to initialize submodule")
		}
	}
	return nil
}

func (r *Repository) pinnedSubmodules() ([]pinnedSubmodule, error) {
	subs, err := r.worktreeSubmodules()
	if err != nil || len(subs) == 0 {
		return nil, err
	}

	tree, err := r.headTree()
	if err != nil {
		return nil, err
	}

	var pins []pinnedSubmodule
	for _, sm := range subs {
		rec, ok, err := r.record(sm.Config(), tree)
		if err != nil {
			return nil, submoduleError(err, sm.Config().Path, "failed to read submodule configuration")
		}
		if ok {
			pins = append(pins, pinnedSubmodule{sm: sm, rec: rec})
		}
	}
	return pins, nil
}

func (r *Repository) worktreeSubmodules() (gogit.Submodules, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, wrapError(err, "failed to get worktree")
	}

	subs, err := wt.Submodules()
	if err != nil {
		return nil, wrapError(err, "failed to read submodules")
	}
	return subs, nil
}

// remoteURL returns the first URL of the origin remote, or fallback if the
// repository has none.
func (r *Repository) remoteURL(fallback string) string {
	remote, err := r.repo.Remote(DefaultRemoteName)
	if err != nil || len(remote.Config().URLs) == 0 {
		return fallback
	}
	return remote.Config().URLs[0]
}

func (r *Repository) record(sm *config.Submodule, tree *object.Tree) (SubmoduleRecord, bool, error) {
	if sm == nil || sm.Path == "" {
		return SubmoduleRecord{}, false, nil
	}

	cfg, err := r.repo.Config()
	if err != nil {
		return SubmoduleRecord{}, false, err
	}

	registered, ok := cfg.Submodules[sm.Name]
	if !ok || registered.URL == "" {
		return SubmoduleRecord{}, false, nil
	}

	entry, err := tree.FindEntry(sm.Path)
	if err != nil || entry.Mode != filemode.Submodule {
		return SubmoduleRecord{}, false, nil //nolint:nilerr // not pinned by the parent
	}

	return SubmoduleRecord{
		Name:   sm.Name,
		Path:   sm.Path,
		URL:    registered.URL,
		Pinned: entry.Hash,
	}, true, nil
}

func (r *Repository) headTree() (*object.Tree, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, wrapError(err, "failed to resolve HEAD")
	}

	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, wrapError(err, "failed to read HEAD commit")
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, wrapError(err, "failed to read HEAD tree")
	}
	return tree, nil
}

// materialized reports whether the submodule's storage exists under
// .git/modules.
func (r *Repository) materialized(name string) bool {
	storer, err := r.repo.Storer.Module(name)
	if err != nil {
		return false
	}
	_, err = storer.Reference(plumbing.HEAD)
	return err == nil
}

func (r *Repository) hasCommit(hash plumbing.Hash) bool {
	_, err := r.repo.CommitObject(hash)
	return err == nil
}

func submoduleError(err error, path, message string) error {
	return platformerrors.WithContext(wrapError(err, message), "submodule", path)
}
