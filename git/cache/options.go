package cache

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/jmgilman/repocache/git"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	fs         billy.Filesystem
	remoteOps  git.RemoteOperations
	registerer prometheus.Registerer
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithFilesystem sets the billy filesystem used for all working copy I/O.
// Paths handed to it are absolute, so it must be rooted at "/".
// Defaults to osfs.New("/").
//
// Example:
//
//	m, err := cache.New(cfg, cache.WithFilesystem(osfs.New("/")))
func WithFilesystem(fs billy.Filesystem) Option {
	return func(opts *options) {
		opts.fs = fs
	}
}

// WithRemoteOperations replaces the clone/fetch/pull implementation. This is
// primarily useful in tests for counting or failing network calls.
//
// Example:
//
//	m, err := cache.New(cfg, cache.WithRemoteOperations(&countingOps{
//	    RemoteOperations: git.DefaultRemoteOperations(),
//	}))
func WithRemoteOperations(ops git.RemoteOperations) Option {
	return func(opts *options) {
		opts.remoteOps = ops
	}
}

// WithRegisterer registers the Manager's metrics with reg. Without it the
// metrics are collected but not registered anywhere.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(opts *options) {
		opts.registerer = reg
	}
}
