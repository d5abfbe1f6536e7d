package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jmgilman/go/errors"
)

// Defaults applied when a field is not configured.
const (
	DefaultBranch            = "master"
	DefaultLockTimeout       = 30 * time.Second
	DefaultLockStripes       = 32
	DefaultMaxSubmoduleDepth = 10
)

// Config is the repository cache configuration.
type Config struct {
	// CacheDir is the root every working copy lives under.
	CacheDir string
	// DefaultBranch is used when a fetch names no branch.
	DefaultBranch string
	// LockTimeout bounds how long an operation waits for its repository lock.
	LockTimeout time.Duration
	// LockStripes is the number of lock stripes (rounded up to a power of two).
	LockStripes int
	// MaxSubmoduleDepth bounds how deeply nested submodules are followed.
	MaxSubmoduleDepth int
	// CrossProcessLock adds an advisory file lock per repository.
	CrossProcessLock bool
	// TempDir is where connection tests clone. Empty uses os.TempDir().
	TempDir string
}

// Default returns the configuration used when no file is given. The cache
// lives under the user cache directory, or the OS temp directory when that
// cannot be determined.
func Default() Config {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}

	return Config{
		CacheDir:          filepath.Join(base, "repocache"),
		DefaultBranch:     DefaultBranch,
		LockTimeout:       DefaultLockTimeout,
		LockStripes:       DefaultLockStripes,
		MaxSubmoduleDepth: DefaultMaxSubmoduleDepth,
	}
}

// Validate checks a configuration built in code. Configurations returned by
// Load have already passed the schema.
func (c Config) Validate() error {
	switch {
	case c.CacheDir == "":
		return errors.New(errors.CodeInvalidConfig, "cacheDir is required")
	case c.DefaultBranch == "":
		return errors.New(errors.CodeInvalidConfig, "defaultBranch is required")
	case c.LockTimeout <= 0:
		return errors.Newf(errors.CodeInvalidConfig, "lockTimeout must be positive, got %s", c.LockTimeout)
	case c.LockStripes < 1:
		return errors.Newf(errors.CodeInvalidConfig, "lockStripes must be at least 1, got %d", c.LockStripes)
	case c.MaxSubmoduleDepth < 1:
		return errors.Newf(errors.CodeInvalidConfig, "maxSubmoduleDepth must be at least 1, got %d", c.MaxSubmoduleDepth)
	}
	return nil
}
