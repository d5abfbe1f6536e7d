// Package app implements the repocache command line.
package app

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/config"
	"github.com/jmgilman/repocache/git/cache"
	"github.com/jmgilman/repocache/secret"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the command reads.
const EnvPrefix = "REPOCACHE"

// Flag names, also the viper keys they are bound to.
const (
	flagConfig           = "config"
	flagCacheDir         = "cache-dir"
	flagDefaultBranch    = "default-branch"
	flagLockTimeout      = "lock-timeout"
	flagCrossProcessLock = "cross-process-lock"
	flagSecretDir        = "secret-dir"
)

type application struct {
	v      *viper.Viper
	logger *slog.Logger
}

// NewRootCmd creates the root command. Settings are read from the optional
// configuration file, then REPOCACHE_* environment variables, then flags.
func NewRootCmd(logger *slog.Logger) *cobra.Command {
	if logger == nil {
		logger = slog.Default()
	}
	a := &application{v: newViper(), logger: logger}

	root := &cobra.Command{
		Use:               "repocache",
		Short:             "Manage a cache of Git working copies",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Long: `repocache keeps local working copies of remote Git repositories for many
projects under a single cache directory, laid out as
<cache-dir>/<project>/<repository>/<branch or commit>.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.String(flagConfig, "", "Path to a CUE or JSON configuration file")
	pf.String(flagCacheDir, "", "Cache directory (overrides the configuration file)")
	pf.String(flagDefaultBranch, "", "Branch used when none is given")
	pf.Duration(flagLockTimeout, 0, "How long to wait for a repository lock")
	pf.Bool(flagCrossProcessLock, false, "Also take an advisory file lock per repository")
	pf.String(flagSecretDir, "", "Directory holding named secrets")

	for _, name := range []string{flagConfig, flagCacheDir, flagDefaultBranch, flagLockTimeout, flagCrossProcessLock, flagSecretDir} {
		if err := a.v.BindPFlag(name, pf.Lookup(name)); err != nil {
			logger.Error("failed to bind flag", "flag", name, "error", err)
		}
	}

	root.AddCommand(
		a.fetchCmd(),
		a.fetchCommitCmd(),
		a.pathCmd(),
		a.testCmd(),
		a.removeCmd(),
		a.listCmd(),
	)

	return root
}

// loadConfig builds the effective configuration.
func (a *application) loadConfig(ctx context.Context) (config.Config, error) {
	cfg := config.Default()

	if path := a.v.GetString(flagConfig); path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return config.Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "invalid configuration path")
		}
		cfg, err = config.Load(ctx, osfs.New("/"), abs)
		if err != nil {
			return config.Config{}, err
		}
	}

	if a.v.IsSet(flagCacheDir) {
		cfg.CacheDir = a.v.GetString(flagCacheDir)
	}
	if a.v.IsSet(flagDefaultBranch) {
		cfg.DefaultBranch = a.v.GetString(flagDefaultBranch)
	}
	if a.v.IsSet(flagLockTimeout) {
		cfg.LockTimeout = a.v.GetDuration(flagLockTimeout)
	}
	if a.v.IsSet(flagCrossProcessLock) {
		cfg.CrossProcessLock = a.v.GetBool(flagCrossProcessLock)
	}

	return cfg, cfg.Validate()
}

func (a *application) manager(ctx context.Context) (*cache.Manager, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cache.New(cfg, cache.WithLogger(a.logger))
}

// resolveSecret looks up a named secret under --secret-dir. An empty name
// means no secret.
func (a *application) resolveSecret(ctx context.Context, name string) (secret.Secret, error) {
	if name == "" {
		return nil, nil
	}

	dir := a.v.GetString(flagSecretDir)
	if dir == "" {
		return nil, errors.New(errors.CodeInvalidInput, "--secret requires --secret-dir")
	}
	return secret.NewDir(osfs.New(dir)).Resolve(ctx, name)
}

func parseProject(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid project id %q", s)
	}
	return id, nil
}
