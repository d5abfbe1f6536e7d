// Package git wraps go-git with the operations the repository cache needs.
//
// It covers opening and cloning working copies, branch and commit checkout,
// pulls that tolerate rewritten remote history, the transport policy that
// turns a secret into go-git credentials, and the recursive submodule walk.
//
// # Architecture
//
//  1. Thin wrappers over go-git (not reimplementing Git)
//  2. Billy filesystem for all I/O operations
//  3. Escape hatches via Underlying() for advanced use cases
//  4. The RemoteOperations interface isolates every network call so tests
//     can observe or replace them
//
// # Transport policy
//
// A TransportPolicy is built once per operation from the supplied secret and
// asked for a Transport for every URL the operation touches:
//
//	policy := git.NewTransportPolicy(s, logger)
//	t, err := policy.ForURL("git@github.com:org/app.git")
//
// SSH remotes require a *secret.KeyPair and skip host key verification.
// HTTP(S) remotes take an optional *secret.UsernamePassword and skip
// certificate verification. Both relaxations are logged as warnings.
//
// # Cloning and updating
//
//	repo, err := git.Clone(ctx, dir, git.CloneOptions{URL: uri, Branch: "master", Transport: t})
//	if err != nil {
//	    return err
//	}
//	err = git.NewSubmoduleRecursor(policy, 0, logger).Clone(ctx, repo)
//
// Updating an existing working copy:
//
//	repo, err := git.Open(dir)
//	err = repo.CheckoutBranch("master")
//	err = repo.Pull(ctx, git.PullOptions{Branch: "master", Transport: t})
//	err = recursor.Update(ctx, repo)
//
// # Error Handling
//
// Errors are platform errors from the errors package. go-git sentinels are
// classified into codes (NOT_FOUND, UNAUTHORIZED, CONFLICT, ...) and stay in
// the chain for errors.Is. Unrecognized failures are REPOSITORY_ERROR.
package git
