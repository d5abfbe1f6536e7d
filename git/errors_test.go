package git

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{name: "repository not exists", err: gogit.ErrRepositoryNotExists, code: errors.CodeNotFound},
		{name: "remote repository not found", err: transport.ErrRepositoryNotFound, code: errors.CodeNotFound},
		{name: "reference not found", err: plumbing.ErrReferenceNotFound, code: errors.CodeNotFound},
		{name: "empty remote", err: transport.ErrEmptyRemoteRepository, code: errors.CodeNotFound},
		{name: "authentication required", err: transport.ErrAuthenticationRequired, code: errors.CodeUnauthorized},
		{name: "authorization failed", err: transport.ErrAuthorizationFailed, code: errors.CodeUnauthorized},
		{name: "non fast forward", err: gogit.ErrNonFastForwardUpdate, code: errors.CodeConflict},
		{name: "deadline", err: context.DeadlineExceeded, code: errors.CodeTimeout},
		{name: "wrapped sentinel", err: fmt.Errorf("remote: %w", transport.ErrAuthorizationFailed), code: errors.CodeUnauthorized},
		{name: "platform error keeps its code", err: errors.New(CodeInvalidSecretType, "x"), code: CodeInvalidSecretType},
		{name: "unknown", err: stderrors.New("pack corrupted"), code: CodeRepository},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError(tt.err, "failed to clone repository")
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "failed to clone repository")
		})
	}

	assert.NoError(t, wrapError(nil, "x"))
}

func TestRetryable(t *testing.T) {
	t.Run("unclassified failures are retryable", func(t *testing.T) {
		err := wrapError(stderrors.New("pack corrupted"), "failed to fetch")
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("known causes keep their classification", func(t *testing.T) {
		err := wrapError(transport.ErrAuthenticationRequired, "failed to fetch")
		assert.False(t, errors.IsRetryable(err))

		outer := Retryable(errors.Wrap(err, CodeRepository, "error while cloning a repository"))
		assert.Equal(t, CodeRepository, errors.GetCode(outer))
		assert.False(t, errors.IsRetryable(outer))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, Retryable(nil))
	})
}

func TestHasCode(t *testing.T) {
	inner := errors.New(errors.CodeUnauthorized, "authentication required")
	err := fmt.Errorf("clone: %w", errors.Wrap(inner, CodeRepository, "error while cloning a repository"))

	assert.True(t, HasCode(err, CodeRepository))
	assert.True(t, HasCode(err, errors.CodeUnauthorized))
	assert.False(t, HasCode(err, CodeInvalidSecretType))
	assert.False(t, HasCode(stderrors.New("plain"), CodeRepository))
	assert.False(t, HasCode(nil, CodeRepository))
}
