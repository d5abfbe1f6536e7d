// Package config loads the repository cache configuration.
//
// Configuration files are CUE (plain JSON is valid CUE) and are validated
// against an embedded schema that also supplies defaults:
//
//	cacheDir:         "/var/lib/repocache"
//	lockTimeout:      "1m"
//	crossProcessLock: true
//
// Load reads a file through a billy filesystem; LoadBytes compiles source
// directly. Default returns the configuration used when no file is given.
package config
