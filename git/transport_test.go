package git

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/git/testutil"
	"github.com/jmgilman/repocache/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportKindOf(t *testing.T) {
	tests := []struct {
		uri     string
		want    TransportKind
		wantErr bool
	}{
		{uri: "git@github.com:org/repo.git", want: KindSSH},
		{uri: "ssh://git@github.com/org/repo.git", want: KindSSH},
		{uri: "https://github.com/org/repo.git", want: KindHTTP},
		{uri: "http://example.com/repo.git", want: KindHTTP},
		{uri: "/srv/git/repo", want: KindFile},
		{uri: "file:///srv/git/repo", want: KindFile},
		{uri: "git://example.com/repo.git", want: KindGit},
		{uri: "ftp://example.com/repo.git", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := TransportKindOf(tt.uri)
			if tt.wantErr {
				assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func keyPair() *secret.KeyPair {
	return &secret.KeyPair{PrivateKey: []byte(testutil.TestSSHPrivateKey)}
}

func TestTransportPolicySSH(t *testing.T) {
	const uri = "git@github.com:org/repo.git"

	t.Run("key pair becomes the identity", func(t *testing.T) {
		tr, err := NewTransportPolicy(keyPair(), nil).ForURL(uri)
		require.NoError(t, err)

		keys, ok := tr.Auth.(*ssh.PublicKeys)
		require.True(t, ok)
		assert.Equal(t, DefaultSSHUser, keys.User)
		assert.NotNil(t, keys.HostKeyCallback)
		assert.False(t, tr.InsecureSkipTLS)
	})

	t.Run("user from the URI", func(t *testing.T) {
		tr, err := NewTransportPolicy(keyPair(), nil).ForURL("ssh://deploy@example.com/repo.git")
		require.NoError(t, err)
		assert.Equal(t, "deploy", tr.Auth.(*ssh.PublicKeys).User)
	})

	t.Run("encrypted key with passphrase", func(t *testing.T) {
		kp := &secret.KeyPair{
			PrivateKey: []byte(testutil.TestSSHPrivateKeyEncrypted),
			Passphrase: testutil.TestSSHPassphrase,
		}
		tr, err := NewTransportPolicy(kp, nil).ForURL(uri)
		require.NoError(t, err)
		assert.NotNil(t, tr.Auth)
	})

	t.Run("unparseable key", func(t *testing.T) {
		kp := &secret.KeyPair{PrivateKey: []byte("not a key")}
		_, err := NewTransportPolicy(kp, nil).ForURL(uri)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	})

	t.Run("username password is rejected", func(t *testing.T) {
		policy := NewTransportPolicy(&secret.UsernamePassword{Username: "u", Password: "p"}, nil)

		_, err := policy.ForURL(uri)
		assert.Equal(t, CodeInvalidSecretType, errors.GetCode(err))
		assert.Equal(t, CodeInvalidSecretType, errors.GetCode(policy.Validate(uri)))
	})

	t.Run("absent secret uses the ambient identity", func(t *testing.T) {
		tr, err := NewTransportPolicy(nil, nil).ForURL(uri)
		require.NoError(t, err)
		assert.Nil(t, tr.Auth)
	})
}

func TestTransportPolicyHTTP(t *testing.T) {
	const uri = "https://github.com/org/repo.git"

	t.Run("no secret still skips TLS verification", func(t *testing.T) {
		tr, err := NewTransportPolicy(nil, nil).ForURL(uri)
		require.NoError(t, err)
		assert.Nil(t, tr.Auth)
		assert.True(t, tr.InsecureSkipTLS)
	})

	t.Run("username password becomes basic auth", func(t *testing.T) {
		tr, err := NewTransportPolicy(&secret.UsernamePassword{Username: "u", Password: "p"}, nil).ForURL(uri)
		require.NoError(t, err)
		assert.Equal(t, &http.BasicAuth{Username: "u", Password: "p"}, tr.Auth)
		assert.True(t, tr.InsecureSkipTLS)
	})

	t.Run("token as username", func(t *testing.T) {
		tr, err := NewTransportPolicy(&secret.UsernamePassword{Username: "ghp_token"}, nil).ForURL(uri)
		require.NoError(t, err)
		assert.Equal(t, &http.BasicAuth{Username: "ghp_token"}, tr.Auth)
		assert.True(t, tr.InsecureSkipTLS)
	})

	t.Run("missing username is an auth failure", func(t *testing.T) {
		_, err := NewTransportPolicy(&secret.UsernamePassword{Password: "p"}, nil).ForURL(uri)
		assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
	})

	t.Run("key pair is rejected", func(t *testing.T) {
		_, err := NewTransportPolicy(keyPair(), nil).ForURL(uri)
		assert.Equal(t, CodeInvalidSecretType, errors.GetCode(err))
	})
}

func TestTransportPolicyLocal(t *testing.T) {
	tr, err := NewTransportPolicy(keyPair(), nil).ForURL("/srv/git/repo")
	require.NoError(t, err)
	assert.Equal(t, Transport{}, tr)
	assert.NoError(t, NewTransportPolicy(keyPair(), nil).Validate("/srv/git/repo"))
}

func TestTransportPolicyLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := NewTransportPolicy(keyPair(), logger).ForURL("git@github.com:org/repo.git")
	require.NoError(t, err)
	_, err = NewTransportPolicy(&secret.UsernamePassword{Username: "u", Password: "hunter2"}, logger).ForURL("https://github.com/org/repo.git")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "strict host key checking is disabled")
	assert.Contains(t, out, "SSL verification is disabled")
	assert.Contains(t, out, "using the supplied secret")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "PRIVATE KEY")
}
