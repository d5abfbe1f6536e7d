package secret

import (
	"context"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/errors"
)

// Source supplies secrets by name.
type Source interface {
	Resolve(ctx context.Context, name string) (Secret, error)
}

// Static is an in-memory Source.
type Static map[string]Secret

// Resolve implements Source.
func (s Static) Resolve(_ context.Context, name string) (Secret, error) {
	sec, ok := s[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "secret %q not found", name)
	}
	return sec, nil
}

// File names recognised by Dir inside a secret's directory.
const (
	PrivateKeyFile = "id_rsa"
	PublicKeyFile  = "id_rsa.pub"
	PassphraseFile = "passphrase"
	UsernameFile   = "username"
	PasswordFile   = "password"
)

// Dir resolves secrets from a directory tree. Each secret is a directory
// named after it holding either a key pair (id_rsa, id_rsa.pub and an
// optional passphrase) or a username and password file.
type Dir struct {
	fs billy.Filesystem
}

// NewDir returns a Dir reading from fs.
func NewDir(fs billy.Filesystem) *Dir {
	return &Dir{fs: fs}
}

// Resolve implements Source.
func (d *Dir) Resolve(_ context.Context, name string) (Secret, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, errors.Newf(errors.CodeInvalidInput, "invalid secret name %q", name)
	}

	if d.exists(path.Join(name, PrivateKeyFile)) {
		priv, err := d.read(name, PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		pub, err := d.readOptional(name, PublicKeyFile)
		if err != nil {
			return nil, err
		}
		pass, err := d.readOptional(name, PassphraseFile)
		if err != nil {
			return nil, err
		}
		return &KeyPair{
			PrivateKey: priv,
			PublicKey:  pub,
			Passphrase: strings.TrimSpace(string(pass)),
		}, nil
	}

	if d.exists(path.Join(name, UsernameFile)) {
		user, err := d.read(name, UsernameFile)
		if err != nil {
			return nil, err
		}
		pass, err := d.readOptional(name, PasswordFile)
		if err != nil {
			return nil, err
		}
		return &UsernamePassword{
			Username: strings.TrimSpace(string(user)),
			Password: strings.TrimRight(string(pass), "\r\n"),
		}, nil
	}

	return nil, errors.Newf(errors.CodeNotFound, "secret %q not found", name)
}

func (d *Dir) exists(p string) bool {
	_, err := d.fs.Stat(p)
	return err == nil
}

func (d *Dir) read(name, file string) ([]byte, error) {
	data, err := util.ReadFile(d.fs, path.Join(name, file))
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInternal, "failed to read secret file", map[string]any{
			"secret": name,
			"file":   file,
		})
	}
	return data, nil
}

func (d *Dir) readOptional(name, file string) ([]byte, error) {
	if !d.exists(path.Join(name, file)) {
		return nil, nil
	}
	return d.read(name, file)
}
