package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/jmgilman/repocache/config"
	"github.com/jmgilman/repocache/git"
	"github.com/jmgilman/repocache/git/testutil"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		CacheDir:          t.TempDir(),
		DefaultBranch:     testutil.TestBranchMain,
		LockTimeout:       5 * time.Second,
		LockStripes:       config.DefaultLockStripes,
		MaxSubmoduleDepth: config.DefaultMaxSubmoduleDepth,
		TempDir:           t.TempDir(),
	}
}

func newManager(t *testing.T, mutate func(*config.Config), opts ...Option) *Manager {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	m, err := New(cfg, opts...)
	require.NoError(t, err)
	return m
}

func readFile(t *testing.T, path ...string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(path...))
	require.NoError(t, err)
	return string(data)
}

// instrumentedOps counts network calls and records whether two of them ever
// ran at the same time.
type instrumentedOps struct {
	git.RemoteOperations

	clones, fetches, pulls atomic.Int32
	active                 atomic.Int32
	overlap                atomic.Bool
}

func newInstrumentedOps() *instrumentedOps {
	return &instrumentedOps{RemoteOperations: git.DefaultRemoteOperations()}
}

func (o *instrumentedOps) enter() func() {
	if o.active.Add(1) > 1 {
		o.overlap.Store(true)
	}
	// Widen the window a concurrent caller would have to sneak in.
	time.Sleep(5 * time.Millisecond)
	return func() { o.active.Add(-1) }
}

func (o *instrumentedOps) Clone(ctx context.Context, fs billy.Filesystem, opts git.CloneOptions) (*git.Repository, error) {
	defer o.enter()()
	o.clones.Add(1)
	return o.RemoteOperations.Clone(ctx, fs, opts)
}

func (o *instrumentedOps) Fetch(ctx context.Context, repo *git.Repository, opts git.FetchOptions) error {
	defer o.enter()()
	o.fetches.Add(1)
	return o.RemoteOperations.Fetch(ctx, repo, opts)
}

func (o *instrumentedOps) Pull(ctx context.Context, repo *git.Repository, opts git.PullOptions) error {
	defer o.enter()()
	o.pulls.Add(1)
	return o.RemoteOperations.Pull(ctx, repo, opts)
}

var projectID = uuid.MustParse("9a1c3f0e-53a4-4c7b-9d0f-2a6b8e1d4c55")
