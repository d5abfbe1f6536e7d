package git

import (
	"context"
	"errors"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	platformerrors "github.com/jmgilman/go/errors"
)

// Error codes specific to working copies. The generic codes come from the
// platform errors package.
const (
	// CodeRepository indicates a clone, fetch, checkout or open of a working
	// copy failed. The underlying version-control error is kept as the cause.
	CodeRepository platformerrors.ErrorCode = "REPOSITORY_ERROR"

	// CodeInvalidSecretType indicates the supplied secret cannot be used with
	// the transport selected by the repository URI.
	CodeInvalidSecretType platformerrors.ErrorCode = "INVALID_SECRET_TYPE"
)

// wrapError wraps an error with context, classifying it as a platform error type.
// The original error stays in the chain for errors.Is/errors.As.
// If err is nil, returns nil.
func wrapError(err error, context string) error {
	if err == nil {
		return nil
	}

	code, desc := classifyError(err)
	if desc != "" {
		context = context + ": " + desc
	}
	if code == CodeRepository {
		return Retryable(platformerrors.Wrap(err, code, context))
	}
	return platformerrors.Wrap(err, code, context)
}

// Retryable marks err as retryable unless a platform error in its cause
// chain already decided otherwise. A failed fetch leaves the previous
// working copy in place, so callers may simply try again.
// Returns nil if err is nil.
func Retryable(err platformerrors.PlatformError) error {
	if err == nil {
		return nil
	}
	var inner platformerrors.PlatformError
	if cause := err.Unwrap(); cause != nil && errors.As(cause, &inner) {
		return err
	}
	return platformerrors.WithClassification(err, platformerrors.ClassificationRetryable)
}

// HasCode reports whether any platform error in err's chain carries code.
// Unlike platformerrors.GetCode it looks past the outermost error, so a
// CodeUnauthorized cause wrapped in a CodeRepository error is still found.
func HasCode(err error, code platformerrors.ErrorCode) bool {
	for err != nil {
		var pe platformerrors.PlatformError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code() == code {
			return true
		}
		err = pe.Unwrap()
	}
	return false
}

// classifyError maps go-git errors to platform error codes, returning the
// code and a short description of the condition. Unknown errors are
// classified as CodeRepository with no description.
//
//nolint:gocyclo,cyclop // each case is a simple mapping
func classifyError(err error) (platformerrors.ErrorCode, string) {
	var pe platformerrors.PlatformError
	if errors.As(err, &pe) {
		return pe.Code(), ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return platformerrors.CodeTimeout, "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return platformerrors.CodeTimeout, "canceled"

	case errors.Is(err, gogit.ErrRepositoryNotExists):
		return platformerrors.CodeNotFound, "repository does not exist"
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return platformerrors.CodeNotFound, "repository not found"
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return platformerrors.CodeNotFound, "reference not found"
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return platformerrors.CodeNotFound, "object not found"
	case errors.Is(err, gogit.NoMatchingRefSpecError{}):
		return platformerrors.CodeNotFound, "no matching reference on the remote"
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return platformerrors.CodeNotFound, "remote repository is empty"
	case errors.Is(err, gogit.ErrRemoteNotFound):
		return platformerrors.CodeNotFound, "remote not found"

	case errors.Is(err, transport.ErrAuthenticationRequired):
		return platformerrors.CodeUnauthorized, "authentication required"
	case errors.Is(err, transport.ErrAuthorizationFailed):
		return platformerrors.CodeUnauthorized, "authorization failed"
	case errors.Is(err, transport.ErrInvalidAuthMethod):
		return platformerrors.CodeUnauthorized, "invalid auth method"

	case errors.Is(err, gogit.ErrNonFastForwardUpdate):
		return platformerrors.CodeConflict, "non-fast-forward update"
	case errors.Is(err, gogit.ErrWorktreeNotClean):
		return platformerrors.CodeConflict, "worktree is not clean"
	case errors.Is(err, gogit.ErrUnstagedChanges):
		return platformerrors.CodeConflict, "worktree contains unstaged changes"

	case errors.Is(err, gogit.ErrMissingURL):
		return platformerrors.CodeInvalidInput, "URL is required"
	case errors.Is(err, gogit.ErrInvalidReference):
		return platformerrors.CodeInvalidInput, "invalid reference"
	case errors.Is(err, gogit.ErrSubmoduleNotInitialized):
		return platformerrors.CodeInvalidInput, "submodule not initialized"

	case errors.Is(err, gogit.ErrRepositoryAlreadyExists):
		return platformerrors.CodeAlreadyExists, "repository already exists"
	}

	return CodeRepository, ""
}
