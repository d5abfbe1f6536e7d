package config

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/errors"
)

//go:embed schema.cue
var schemaSource []byte

// fileConfig mirrors #Config in schema.cue.
type fileConfig struct {
	CacheDir          string `json:"cacheDir"`
	DefaultBranch     string `json:"defaultBranch"`
	LockTimeout       string `json:"lockTimeout"`
	LockStripes       int    `json:"lockStripes"`
	MaxSubmoduleDepth int    `json:"maxSubmoduleDepth"`
	CrossProcessLock  bool   `json:"crossProcessLock"`
	TempDir           string `json:"tempDir"`
}

// Issue is a single schema violation.
type Issue struct {
	Path    []string
	Message string
}

// Load reads, validates and decodes the configuration file at path.
//
// Returns CodeNotFound if the file cannot be read and CodeInvalidConfig if
// it does not compile or violates the schema.
func Load(ctx context.Context, fs billy.Filesystem, path string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig, "context cancelled", map[string]any{"file_path": path})
	}

	data, err := util.ReadFile(fs, path)
	if err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeNotFound, "failed to read configuration file", map[string]any{"file_path": path})
	}

	return LoadBytes(ctx, data, path)
}

// LoadBytes validates and decodes configuration source. The filename is only
// used in error messages.
func LoadBytes(ctx context.Context, source []byte, filename string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig, "context cancelled", map[string]any{"filename": filename})
	}
	if filename == "" {
		filename = "<input>"
	}

	cueCtx := cuecontext.New()

	schema := cueCtx.CompileBytes(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInternal, "embedded configuration schema is invalid")
	}

	data := cueCtx.CompileBytes(source, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig, "failed to compile configuration", map[string]any{
			"filename": filename,
			"issues":   issues(err),
		})
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true), cue.Final(), cue.All()); err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig, "configuration validation failed", map[string]any{
			"filename": filename,
			"details":  cueerrors.Details(err, nil),
			"issues":   issues(err),
		})
	}

	var raw fileConfig
	if err := unified.Decode(&raw); err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeInvalidConfig, "failed to decode configuration", map[string]any{"filename": filename})
	}

	timeout, err := time.ParseDuration(raw.LockTimeout)
	if err != nil || timeout <= 0 {
		return Config{}, errors.WrapWithContext(
			fmt.Errorf("invalid duration %q", raw.LockTimeout),
			errors.CodeInvalidConfig, "invalid lockTimeout",
			map[string]any{"filename": filename},
		)
	}

	return Config{
		CacheDir:          raw.CacheDir,
		DefaultBranch:     raw.DefaultBranch,
		LockTimeout:       timeout,
		LockStripes:       raw.LockStripes,
		MaxSubmoduleDepth: raw.MaxSubmoduleDepth,
		CrossProcessLock:  raw.CrossProcessLock,
		TempDir:           raw.TempDir,
	}, nil
}

// issues extracts structured schema violations from a CUE error.
func issues(err error) []Issue {
	var out []Issue
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, Issue{
			Path:    e.Path(),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return out
}

// Issues returns the schema violations attached to an error returned by
// Load or LoadBytes.
func Issues(err error) []Issue {
	var pe errors.PlatformError
	if !errors.As(err, &pe) {
		return nil
	}
	list, _ := pe.Context()["issues"].([]Issue)
	return list
}
