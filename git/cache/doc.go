// Package cache maintains local working copies of remote Git repositories
// for many independent projects.
//
// A Manager keeps one working copy per (project, repository, branch or
// commit) under a single cache directory:
//
//	<cacheDir>/<projectID>/<repository>/<branch or commit>/
//
// Branch copies are cloned on first use and pulled on every later Fetch.
// Commit copies are cloned once and then served from disk. Submodules are
// cloned and kept at the commits their parent pins, using the same
// credentials as the parent.
//
// # Concurrency
//
// Every operation that mutates a working copy holds the lock of its
// Identity (project and repository). Locks come from a fixed pool of
// stripes, so unrelated repositories only contend when they hash to the
// same stripe. Waiting is bounded by the configured lock timeout, after
// which a CodeLockTimeout error is returned. With crossProcessLock enabled an
// advisory file lock is taken as well, so several processes can share one
// cache directory.
//
// # Failure handling
//
// A failed first clone removes the directory it was cloning into. A failed
// update keeps the previous copy intact. A directory whose Git metadata
// cannot be read is reported as an error and never cloned over.
//
// # Basic Usage
//
//	m, err := cache.New(cfg, cache.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	// Clone or update the main branch
//	dir, err := m.Fetch(ctx, projectID, "svc", "git@github.com:org/svc.git", "main", "", keyPair)
//
//	// Pin a commit and resolve a directory inside it
//	deploy, err := m.FetchByCommit(ctx, projectID, "svc", uri, "3f2a9c1", "deploy", keyPair)
//
//	// Check credentials without touching the cache
//	err = m.TestConnection(ctx, uri, "main", "", "", keyPair)
package cache
