// Package testutil builds on-disk Git repositories that tests clone from.
//
// Source repositories live under t.TempDir() and are addressed by their
// absolute path, which go-git treats as a file:// remote. No network access
// is needed.
package testutil

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// SourceRepo is a non-bare repository used as a clone source.
type SourceRepo struct {
	Path string
	Repo *gogit.Repository

	t       testing.TB
	modules map[string]string
}

// NewSourceRepo initializes a repository in a fresh temporary directory with
// a single commit adding TestFilePath on TestBranchMain.
func NewSourceRepo(t testing.TB) *SourceRepo {
	t.Helper()

	path := t.TempDir()
	repo, err := gogit.PlainInit(path, false)
	require.NoError(t, err)

	s := &SourceRepo{Path: path, Repo: repo, t: t, modules: map[string]string{}}
	s.CommitFile(TestFilePath, TestFileContent, TestInitialCommit)
	return s
}

// URL returns the address to clone the repository from.
func (s *SourceRepo) URL() string {
	return s.Path
}

// Head returns the commit HEAD points at.
func (s *SourceRepo) Head() plumbing.Hash {
	s.t.Helper()

	ref, err := s.Repo.Head()
	require.NoError(s.t, err)
	return ref.Hash()
}

// WriteFile writes a file into the working tree without staging it.
func (s *SourceRepo) WriteFile(path, content string) {
	s.t.Helper()

	full := filepath.Join(s.Path, path)
	require.NoError(s.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(s.t, os.WriteFile(full, []byte(content), 0o644))
}

// CommitFile writes, stages and commits a single file.
func (s *SourceRepo) CommitFile(path, content, message string) plumbing.Hash {
	s.t.Helper()

	s.WriteFile(path, content)
	wt := s.worktree()
	_, err := wt.Add(path)
	require.NoError(s.t, err)
	return s.commit(message)
}

// CreateBranch creates a branch at HEAD and checks it out.
func (s *SourceRepo) CreateBranch(name string) {
	s.t.Helper()

	err := s.worktree().Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	})
	require.NoError(s.t, err)
}

// Checkout switches to an existing branch.
func (s *SourceRepo) Checkout(name string) {
	s.t.Helper()

	err := s.worktree().Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Force:  true,
	})
	require.NoError(s.t, err)
}

// ResetHard moves the current branch to hash, discarding later commits.
// Used to simulate a force-push on the remote.
func (s *SourceRepo) ResetHard(hash plumbing.Hash) {
	s.t.Helper()

	err := s.worktree().Reset(&gogit.ResetOptions{Commit: hash, Mode: gogit.HardReset})
	require.NoError(s.t, err)
}

// AddSubmodule records sub as a submodule at path, pinned to pinned, and
// commits the change. It writes .gitmodules and a gitlink index entry the
// way `git submodule add` would, without cloning anything into path.
func (s *SourceRepo) AddSubmodule(path string, sub *SourceRepo, pinned plumbing.Hash) plumbing.Hash {
	s.t.Helper()
	return s.AddSubmoduleURL(path, sub.URL(), pinned)
}

// AddSubmoduleURL is AddSubmodule with the URL written to .gitmodules given
// verbatim, for relative URLs such as "../lib.git".
func (s *SourceRepo) AddSubmoduleURL(path, url string, pinned plumbing.Hash) plumbing.Hash {
	s.t.Helper()

	s.modules[path] = url
	s.writeGitmodules()

	wt := s.worktree()
	_, err := wt.Add(".gitmodules")
	require.NoError(s.t, err)

	return s.PinSubmodule(path, pinned)
}

// PinSubmodule moves the gitlink at path to pinned and commits.
func (s *SourceRepo) PinSubmodule(path string, pinned plumbing.Hash) plumbing.Hash {
	s.t.Helper()

	idx, err := s.Repo.Storer.Index()
	require.NoError(s.t, err)

	entry, err := idx.Entry(path)
	if err == index.ErrEntryNotFound {
		entry = idx.Add(path)
	} else {
		require.NoError(s.t, err)
	}
	entry.Hash = pinned
	entry.Mode = filemode.Submodule
	entry.ModifiedAt = time.Now()

	require.NoError(s.t, s.Repo.Storer.SetIndex(idx))
	return s.commit("Pin " + path + " to " + pinned.String()[:7])
}

func (s *SourceRepo) writeGitmodules() {
	var content string
	for _, path := range slices.Sorted(maps.Keys(s.modules)) {
		content += "[submodule \"" + path + "\"]\n"
		content += "\tpath = " + path + "\n"
		content += "\turl = " + s.modules[path] + "\n"
	}
	s.WriteFile(".gitmodules", content)
}

func (s *SourceRepo) commit(message string) plumbing.Hash {
	s.t.Helper()

	hash, err := s.worktree().Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  TestAuthor,
			Email: TestEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	require.NoError(s.t, err)
	return hash
}

func (s *SourceRepo) worktree() *gogit.Worktree {
	s.t.Helper()

	wt, err := s.Repo.Worktree()
	require.NoError(s.t, err)
	return wt
}
