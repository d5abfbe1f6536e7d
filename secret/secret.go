package secret

import (
	"fmt"
	"log/slog"
)

// Kind identifies a secret variant.
type Kind string

const (
	// KindKeyPair is an SSH key pair.
	KindKeyPair Kind = "KEY_PAIR"

	// KindUsernamePassword is an HTTP username and password (or token).
	KindUsernamePassword Kind = "USERNAME_PASSWORD"
)

// Secret is a credential supplied to a repository operation.
// It is implemented only by *KeyPair and *UsernamePassword.
type Secret interface {
	fmt.Stringer
	slog.LogValuer

	// Kind returns the variant of the secret.
	Kind() Kind

	sealed()
}

// KeyPair is an SSH key pair. PrivateKey holds the PEM-encoded private key and
// Passphrase, when set, decrypts it.
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
	Passphrase string
}

// Kind implements Secret.
func (k *KeyPair) Kind() Kind { return KindKeyPair }

// String implements fmt.Stringer without exposing key material.
func (k *KeyPair) String() string { return "KeyPair(***)" }

// LogValue implements slog.LogValuer without exposing key material.
func (k *KeyPair) LogValue() slog.Value {
	return slog.GroupValue(slog.String("kind", string(KindKeyPair)))
}

func (k *KeyPair) sealed() {}

// UsernamePassword is a username and password pair for HTTP(S) remotes.
type UsernamePassword struct {
	Username string
	Password string
}

// Kind implements Secret.
func (u *UsernamePassword) Kind() Kind { return KindUsernamePassword }

// String implements fmt.Stringer without exposing the password.
func (u *UsernamePassword) String() string {
	return fmt.Sprintf("UsernamePassword(%s, ***)", u.Username)
}

// LogValue implements slog.LogValuer without exposing the password.
func (u *UsernamePassword) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(KindUsernamePassword)),
		slog.String("username", u.Username),
	)
}

func (u *UsernamePassword) sealed() {}

// Complete reports whether the credentials can be offered to a server. Only
// the username is required: token authentication sends the token as the
// username with an empty password.
func (u *UsernamePassword) Complete() bool {
	return u.Username != ""
}
