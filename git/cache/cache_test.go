package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/config"
	"github.com/jmgilman/repocache/git"
	"github.com/jmgilman/repocache/git/testutil"
	"github.com/jmgilman/repocache/secret"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("creates cache directory", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.CacheDir = filepath.Join(cfg.CacheDir, "nested", "cache")

		_, err := New(cfg)
		require.NoError(t, err)
		assert.DirExists(t, cfg.CacheDir)
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		_, err := New(config.Config{})
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("clones then updates", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		ops := newInstrumentedOps()
		m := newManager(t, nil, WithRemoteOperations(ops))

		dir, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(m.cfg.CacheDir, projectID.String(), "svc", testutil.TestBranchMain), dir)
		assert.Equal(t, testutil.TestFileContent, readFile(t, dir, testutil.TestFilePath))

		// Nothing changed upstream.
		again, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.NoError(t, err)
		assert.Equal(t, dir, again)

		src.CommitFile(testutil.TestFilePath, "updated", "Update README")
		_, err = m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "updated", readFile(t, dir, testutil.TestFilePath))

		assert.Equal(t, int32(1), ops.clones.Load())
		assert.Equal(t, int32(2), ops.pulls.Load())
	})

	t.Run("defaults to the configured branch", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		m := newManager(t, nil)

		dir, err := m.Fetch(ctx, projectID, "svc", src.URL(), "", "", nil)
		require.NoError(t, err)
		assert.Equal(t, testutil.TestBranchMain, filepath.Base(dir))
	})

	t.Run("other branch", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		src.CreateBranch(testutil.TestBranchDevelop)
		src.Checkout(testutil.TestBranchDevelop)
		src.CommitFile("develop.txt", "develop", "Develop commit")

		m := newManager(t, nil)
		dir, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchDevelop, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "develop", readFile(t, dir, "develop.txt"))
	})

	t.Run("resolves sub-path", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		src.CommitFile("deploy/app.yaml", "kind: app", "Add deploy")
		m := newManager(t, nil)

		dir, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "/deploy/", nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(m.cfg.CacheDir, projectID.String(), "svc", testutil.TestBranchMain, "deploy"), dir)

		_, err = m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "missing", nil)
		require.Error(t, err)
		assert.Equal(t, CodeInvalidPath, errors.GetCode(err))
	})

	t.Run("failed clone leaves nothing behind", func(t *testing.T) {
		m := newManager(t, nil)
		missing := filepath.Join(t.TempDir(), "missing")

		_, err := m.Fetch(ctx, projectID, "svc", missing, testutil.TestBranchMain, "", nil)
		require.Error(t, err)
		assert.Equal(t, git.CodeRepository, errors.GetCode(err))
		assert.NoDirExists(t, m.localPath(Identity{projectID, "svc"}, testutil.TestBranchMain))

		var pe errors.PlatformError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, missing, pe.Context()["uri"])
		assert.Equal(t, "svc", pe.Context()["repository"])
	})

	t.Run("unknown branch leaves nothing behind", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		m := newManager(t, nil)

		_, err := m.Fetch(ctx, projectID, "svc", src.URL(), "no-such-branch", "", nil)
		require.Error(t, err)
		assert.NoDirExists(t, m.localPath(Identity{projectID, "svc"}, "no-such-branch"))
	})

	t.Run("failed update keeps the copy", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		m := newManager(t, nil)

		dir, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.NoError(t, err)

		require.NoError(t, os.RemoveAll(src.Path))
		_, err = m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.Error(t, err)
		assert.Equal(t, git.CodeRepository, errors.GetCode(err))

		assert.Equal(t, testutil.TestFileContent, readFile(t, dir, testutil.TestFilePath))
		path, err := m.GetRepoPath(projectID, "svc", testutil.TestBranchMain, "")
		require.NoError(t, err)
		assert.Equal(t, dir, path)
	})

	t.Run("rewritten upstream history", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		base := src.Head()
		src.CommitFile(testutil.TestFilePath, "old tip", "Old tip")
		m := newManager(t, nil)

		dir, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.NoError(t, err)

		src.ResetHard(base)
		src.CommitFile(testutil.TestFilePath, "new tip", "New tip")

		_, err = m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "new tip", readFile(t, dir, testutil.TestFilePath))
	})

	t.Run("directory without metadata is re-cloned", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		m := newManager(t, nil)

		dir := m.localPath(Identity{projectID, "svc"}, testutil.TestBranchMain)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644))

		_, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.NoError(t, err)
		assert.NoFileExists(t, filepath.Join(dir, "stray.txt"))
		assert.FileExists(t, filepath.Join(dir, testutil.TestFilePath))
	})

	t.Run("corrupt copy is not cloned over", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		ops := newInstrumentedOps()
		m := newManager(t, nil, WithRemoteOperations(ops))

		dir := m.localPath(Identity{projectID, "svc"}, testutil.TestBranchMain)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))

		_, err := m.Fetch(ctx, projectID, "svc", src.URL(), testutil.TestBranchMain, "", nil)
		require.Error(t, err)
		assert.Equal(t, git.CodeRepository, errors.GetCode(err))
		assert.Contains(t, err.Error(), "error while opening a repository")
		assert.FileExists(t, filepath.Join(dir, "keep.txt"))
		assert.Zero(t, ops.clones.Load())
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		m := newManager(t, nil)

		_, err := m.Fetch(ctx, projectID, "../escape", "/tmp/x", "", "", nil)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

		_, err = m.Fetch(ctx, projectID, "svc", "/tmp/x", "../../etc", "", nil)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	})
}

func TestFetchOverlappingBranches(t *testing.T) {
	ctx := context.Background()

	t.Run("parent of an existing copy", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		src.CreateBranch("feature/x")
		other := testutil.NewSourceRepo(t)
		other.CreateBranch("feature")
		m := newManager(t, nil)

		nested, err := m.Fetch(ctx, projectID, "svc", src.URL(), "feature/x", "", nil)
		require.NoError(t, err)

		_, err = m.Fetch(ctx, projectID, "svc", other.URL(), "feature", "", nil)
		require.Error(t, err)
		assert.Equal(t, git.CodeRepository, errors.GetCode(err))
		assert.False(t, errors.IsRetryable(err))

		var pe errors.PlatformError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, nested, pe.Context()["conflict"])

		// The existing copy survives.
		path, err := m.GetRepoPath(projectID, "svc", "feature/x", "")
		require.NoError(t, err)
		assert.Equal(t, nested, path)
		assert.DirExists(t, filepath.Join(nested, ".git"))
	})

	t.Run("inside an existing copy", func(t *testing.T) {
		src := testutil.NewSourceRepo(t)
		src.CreateBranch("feature/x")
		other := testutil.NewSourceRepo(t)
		other.CreateBranch("feature")
		m := newManager(t, nil)

		outer, err := m.Fetch(ctx, projectID, "svc", other.URL(), "feature", "", nil)
		require.NoError(t, err)

		_, err = m.Fetch(ctx, projectID, "svc", src.URL(), "feature/x", "", nil)
		require.Error(t, err)

		var pe errors.PlatformError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, outer, pe.Context()["conflict"])
		assert.NoDirExists(t, filepath.Join(outer, "x"))
	})
}

func TestFetchInvalidSecretType(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	projectDir := filepath.Join(m.cfg.CacheDir, projectID.String())

	tests := []struct {
		name string
		uri  string
		s    secret.Secret
	}{
		{
			name: "password over ssh",
			uri:  "git@example.com:org/svc.git",
			s:    &secret.UsernamePassword{Username: "u", Password: "p"},
		},
		{
			name: "key pair over https",
			uri:  "https://example.com/org/svc.git",
			s:    &secret.KeyPair{PrivateKey: []byte(testutil.TestSSHPrivateKey)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Fetch(ctx, projectID, "svc", tt.uri, "main", "", tt.s)
			require.Error(t, err)
			assert.Equal(t, git.CodeInvalidSecretType, errors.GetCode(err))

			_, err = m.FetchByCommit(ctx, projectID, "svc", tt.uri, "abc123", "", tt.s)
			assert.Equal(t, git.CodeInvalidSecretType, errors.GetCode(err))

			err = m.TestConnection(ctx, tt.uri, "main", "", "", tt.s)
			assert.Equal(t, git.CodeInvalidSecretType, errors.GetCode(err))

			assert.NoDirExists(t, projectDir)
		})
	}
}

func TestFetchByCommit(t *testing.T) {
	ctx := context.Background()

	src := testutil.NewSourceRepo(t)
	src.CommitFile("deploy/app.yaml", "v1", "Add deploy")
	pinned := src.Head()
	src.CommitFile("deploy/app.yaml", "v2", "Update deploy")

	ops := newInstrumentedOps()
	m := newManager(t, nil, WithRemoteOperations(ops))

	dir, err := m.FetchByCommit(ctx, projectID, "svc", src.URL(), pinned.String(), "deploy", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.cfg.CacheDir, projectID.String(), "svc", pinned.String(), "deploy"), dir)
	assert.Equal(t, "v1", readFile(t, dir, "app.yaml"))

	t.Run("second call is a cache hit", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(src.Path))

		again, err := m.FetchByCommit(ctx, projectID, "svc", src.URL(), pinned.String(), "deploy", nil)
		require.NoError(t, err)
		assert.Equal(t, dir, again)
		assert.Equal(t, int32(1), ops.clones.Load())
		assert.Zero(t, ops.pulls.Load())
		assert.Equal(t, 1.0, promtest.ToFloat64(m.metrics.network.WithLabelValues("clone")))
	})

	t.Run("missing sub-path", func(t *testing.T) {
		_, err := m.FetchByCommit(ctx, projectID, "svc", src.URL(), pinned.String(), "docs", nil)
		require.Error(t, err)
		assert.Equal(t, CodeInvalidPath, errors.GetCode(err))
	})
}

func TestFetchByCommitAbbreviated(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewSourceRepo(t)
	first := src.Head()
	src.CommitFile(testutil.TestFilePath, "later", "Later commit")

	m := newManager(t, nil)
	short := first.String()[:7]

	dir, err := m.FetchByCommit(ctx, projectID, "svc", src.URL(), short, "", nil)
	require.NoError(t, err)
	assert.Equal(t, short, filepath.Base(dir))
	assert.Equal(t, testutil.TestFileContent, readFile(t, dir, testutil.TestFilePath))

	_, err = m.FetchByCommit(ctx, projectID, "svc", src.URL(), "0000000000000000000000000000000000000001", "", nil)
	require.Error(t, err)
	assert.Equal(t, git.CodeRepository, errors.GetCode(err))
	assert.NoDirExists(t, m.localPath(Identity{projectID, "svc"}, "0000000000000000000000000000000000000001"))
}

func TestGetRepoPath(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewSourceRepo(t)
	src.CommitFile("deploy/app.yaml", "kind: app", "Add deploy")

	ops := newInstrumentedOps()
	m := newManager(t, nil, WithRemoteOperations(ops))

	_, err := m.GetRepoPath(projectID, "svc", "", "")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidPath, errors.GetCode(err))

	dir, err := m.Fetch(ctx, projectID, "svc", src.URL(), "", "", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		subPath string
		want    string
		wantErr bool
	}{
		{name: "root", subPath: "", want: dir},
		{name: "only separators", subPath: "///", want: dir},
		{name: "whitespace", subPath: "  ", want: dir},
		{name: "directory", subPath: "deploy", want: filepath.Join(dir, "deploy")},
		{name: "surrounding separators", subPath: "/deploy/", want: filepath.Join(dir, "deploy")},
		{name: "file", subPath: "deploy/app.yaml", want: filepath.Join(dir, "deploy", "app.yaml")},
		{name: "missing", subPath: "docs", wantErr: true},
		{name: "escapes root", subPath: "../../", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := m.GetRepoPath(projectID, "svc", testutil.TestBranchMain, tt.subPath)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, CodeInvalidPath, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
		})
	}

	// Lookups never touch the remote.
	assert.Equal(t, int32(1), ops.clones.Load())
	assert.Zero(t, ops.pulls.Load())
}

func TestTestConnection(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewSourceRepo(t)
	src.CommitFile("deploy/app.yaml", "kind: app", "Add deploy")
	head := src.Head()

	m := newManager(t, nil)

	tests := []struct {
		name     string
		uri      string
		branch   string
		commit   string
		subPath  string
		wantCode errors.ErrorCode
	}{
		{name: "branch", uri: src.URL(), branch: testutil.TestBranchMain},
		{name: "default head", uri: src.URL()},
		{name: "commit ignores branch", uri: src.URL(), branch: "no-such-branch", commit: head.String()},
		{name: "sub-path", uri: src.URL(), branch: testutil.TestBranchMain, subPath: "deploy"},
		{name: "missing sub-path", uri: src.URL(), branch: testutil.TestBranchMain, subPath: "docs", wantCode: CodeInvalidPath},
		{name: "unknown branch", uri: src.URL(), branch: "no-such-branch", wantCode: git.CodeRepository},
		{name: "unreachable", uri: filepath.Join(t.TempDir(), "missing"), wantCode: git.CodeRepository},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.TestConnection(ctx, tt.uri, tt.branch, tt.commit, tt.subPath, nil)
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.GetCode(err))
			}

			// Nothing is left in the temporary directory or the cache.
			tmp, err := os.ReadDir(m.cfg.TempDir)
			require.NoError(t, err)
			assert.Empty(t, tmp)

			cached, err := os.ReadDir(m.cfg.CacheDir)
			require.NoError(t, err)
			assert.Empty(t, cached)
		})
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewSourceRepo(t)
	m := newManager(t, nil)

	branchDir, err := m.Fetch(ctx, projectID, "svc", src.URL(), "", "", nil)
	require.NoError(t, err)
	commitDir, err := m.FetchByCommit(ctx, projectID, "svc", src.URL(), src.Head().String(), "", nil)
	require.NoError(t, err)
	otherDir, err := m.Fetch(ctx, projectID, "other", src.URL(), "", "", nil)
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, projectID, "svc"))
	assert.NoDirExists(t, branchDir)
	assert.NoDirExists(t, commitDir)
	assert.DirExists(t, otherDir)

	// Removing twice is fine.
	require.NoError(t, m.Remove(ctx, projectID, "svc"))

	_, err = m.GetRepoPath(projectID, "svc", "", "")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidPath, errors.GetCode(err))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewSourceRepo(t)
	src.CreateBranch("feature/x")

	m := newManager(t, nil)

	entries, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = m.Fetch(ctx, projectID, "svc", src.URL(), "", "", nil)
	require.NoError(t, err)
	_, err = m.Fetch(ctx, projectID, "svc", src.URL(), "feature/x", "", nil)
	require.NoError(t, err)

	corrupt := m.localPath(Identity{projectID, "broken"}, "master")
	require.NoError(t, os.MkdirAll(filepath.Join(corrupt, ".git"), 0o755))

	entries, err = m.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byLabel := map[string]Entry{}
	for _, e := range entries {
		byLabel[e.Identity.Repository+":"+e.Label] = e
	}

	main := byLabel["svc:master"]
	assert.Equal(t, src.Head().String(), main.Head)
	assert.Positive(t, main.Size)
	assert.NoError(t, main.Err)

	feature := byLabel["svc:feature/x"]
	assert.Equal(t, m.localPath(Identity{projectID, "svc"}, "feature/x"), feature.Path)

	broken := byLabel["broken:master"]
	assert.Error(t, broken.Err)
	assert.Empty(t, broken.Head)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewSourceRepo(t)
	reg := prometheus.NewRegistry()
	m := newManager(t, nil, WithRegisterer(reg))

	_, err := m.Fetch(ctx, projectID, "svc", src.URL(), "", "", nil)
	require.NoError(t, err)
	_, err = m.GetRepoPath(projectID, "svc", "", "missing")
	require.Error(t, err)
	_, err = m.Fetch(ctx, projectID, "svc", src.URL(), "", "missing", nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.metrics.operations.WithLabelValues("fetch", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.metrics.operations.WithLabelValues("fetch", "invalid_path")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.metrics.network.WithLabelValues("clone")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.metrics.network.WithLabelValues("update")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "repocache_operations_total")
	assert.Contains(t, names, "repocache_lock_wait_seconds")
}

func TestFetchSubmodules(t *testing.T) {
	ctx := context.Background()

	lib := testutil.NewSourceRepo(t)
	first := lib.Head()
	second := lib.CommitFile(testutil.TestFilePath, "lib v2", "Lib v2")

	parent := testutil.NewSourceRepo(t)
	parent.AddSubmodule("vendor/lib", lib, first)

	m := newManager(t, nil)

	dir, err := m.Fetch(ctx, projectID, "svc", parent.URL(), "", "vendor/lib", nil)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestFileContent, readFile(t, dir, testutil.TestFilePath))

	// The parent moves its pin; the next fetch follows it.
	parent.PinSubmodule("vendor/lib", second)
	_, err = m.Fetch(ctx, projectID, "svc", parent.URL(), "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "lib v2", readFile(t, dir, testutil.TestFilePath))

	t.Run("unreachable submodule fails the clone", func(t *testing.T) {
		gone := testutil.NewSourceRepo(t)
		broken := testutil.NewSourceRepo(t)
		broken.AddSubmodule("gone", gone, gone.Head())
		require.NoError(t, os.RemoveAll(gone.Path))

		_, err := m.Fetch(ctx, projectID, "broken", broken.URL(), "", "", nil)
		require.Error(t, err)
		assert.Equal(t, git.CodeRepository, errors.GetCode(err))
		assert.NoDirExists(t, m.localPath(Identity{projectID, "broken"}, testutil.TestBranchMain))
	})
}
