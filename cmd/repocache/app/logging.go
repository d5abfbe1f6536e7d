package app

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// NewLogger returns the process logger. The level comes from
// REPOCACHE_LOG_LEVEL and the format (text or json) from
// REPOCACHE_LOG_FORMAT.
func NewLogger(w io.Writer) *slog.Logger {
	v := newViper()

	opts := &slog.HandlerOptions{Level: logLevel(v.GetString("log-level"))}
	if strings.EqualFold(v.GetString("log-format"), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// logLevel parses a level name, defaulting to info.
func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("invalid log level, using info", "value", s)
		return slog.LevelInfo
	}
}

// newViper returns a viper instance reading REPOCACHE_* environment
// variables, with dashes in keys mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}
