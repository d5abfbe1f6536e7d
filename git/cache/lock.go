package cache

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/semaphore"
)

// lockDirName holds the advisory lock files under the cache root.
const lockDirName = ".locks"

const fileLockRetry = 50 * time.Millisecond

// lockManager serializes mutations per Identity using a fixed pool of
// stripes. Identities hashing to the same stripe share it, so memory stays
// bounded regardless of how many repositories are cached.
//
// Locks are not reentrant: fn must not start another locked operation on the
// same identity.
type lockManager struct {
	stripes []*semaphore.Weighted
	mask    uint32
	timeout time.Duration

	// Set when cross-process locking is enabled.
	lockDir string

	metrics *metrics
}

func newLockManager(stripes int, timeout time.Duration, m *metrics) *lockManager {
	n := nextPowerOfTwo(stripes)
	l := &lockManager{
		stripes: make([]*semaphore.Weighted, n),
		mask:    uint32(n - 1), //nolint:gosec // n is bounded by configuration
		timeout: timeout,
		metrics: m,
	}
	for i := range l.stripes {
		l.stripes[i] = semaphore.NewWeighted(1)
	}
	return l
}

// withFileLocks adds an advisory file lock per identity under cacheRoot.
// flock works on operating system paths, so the lock files always live on
// the host filesystem even when working copies are kept elsewhere.
func (l *lockManager) withFileLocks(cacheRoot string) *lockManager {
	l.lockDir = filepath.Join(cacheRoot, lockDirName)
	return l
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (l *lockManager) stripe(id Identity) *semaphore.Weighted {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.Key()))
	return l.stripes[h.Sum32()&l.mask]
}

// withExclusive runs fn while holding the lock of id. Acquisition waits at
// most the configured timeout. The lock is released when fn returns or
// panics.
func (l *lockManager) withExclusive(ctx context.Context, id Identity, fn func() error) error {
	start := time.Now()

	acquireCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	sem := l.stripe(id)
	if err := sem.Acquire(acquireCtx, 1); err != nil {
		return l.acquireError(ctx, id, err)
	}
	defer sem.Release(1)

	if l.lockDir != "" {
		unlock, err := l.lockFile(acquireCtx, id)
		if err != nil {
			if ctx.Err() == nil && acquireCtx.Err() == nil {
				return errors.WrapWithContext(err, CodeLockTimeout, "failed to acquire the repository file lock", map[string]any{
					"project":    id.ProjectID.String(),
					"repository": id.Repository,
				})
			}
			return l.acquireError(ctx, id, err)
		}
		defer unlock()
	}

	l.metrics.lockWait.Observe(time.Since(start).Seconds())

	return fn()
}

func (l *lockManager) lockFile(ctx context.Context, id Identity) (func(), error) {
	dir := filepath.Join(l.lockDir, id.ProjectID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fl := flock.New(filepath.Join(dir, id.Repository+".lock"))
	ok, err := fl.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, context.DeadlineExceeded
	}

	return func() { _ = fl.Unlock() }, nil
}

// acquireError distinguishes a caller cancellation from the lock timeout.
func (l *lockManager) acquireError(ctx context.Context, id Identity, cause error) error {
	fields := map[string]any{
		"project":    id.ProjectID.String(),
		"repository": id.Repository,
		"timeout":    l.timeout.String(),
	}
	if ctx.Err() != nil {
		return errors.WrapWithContext(ctx.Err(), errors.CodeTimeout, "cancelled while waiting for the repository lock", fields)
	}
	return errors.WithClassification(
		errors.WrapWithContext(cause, CodeLockTimeout, "timed out waiting for the repository lock", fields),
		errors.ClassificationRetryable,
	)
}
