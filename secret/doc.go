// Package secret defines the credentials the repository cache can apply to a
// clone or fetch.
//
// A Secret is either a *KeyPair (used with SSH remotes) or a
// *UsernamePassword (used with HTTP(S) remotes). A nil Secret means no
// credential was supplied. Secrets never render their material through
// String or slog, so they are safe to pass to loggers.
//
// A Source resolves secrets by name. Static serves them from memory and Dir
// reads them from a directory tree:
//
//	src := secret.NewDir(osfs.New("/etc/repocache/secrets"))
//	s, err := src.Resolve(ctx, "deploy-key")
package secret
