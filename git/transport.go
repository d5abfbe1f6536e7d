package git

import (
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/secret"
	gossh "golang.org/x/crypto/ssh"
)

// TransportKind is the class of transport a repository URI selects.
type TransportKind string

const (
	KindSSH  TransportKind = "ssh"
	KindHTTP TransportKind = "http"
	KindFile TransportKind = "file"
	KindGit  TransportKind = "git"
)

// DefaultSSHUser is used when an SSH URI does not name a user.
const DefaultSSHUser = "git"

// Transport is the credential and verification setup applied to one
// network operation.
type Transport struct {
	Auth            transport.AuthMethod
	InsecureSkipTLS bool
}

// TransportKindOf classifies uri. scp-style addresses (git@host:org/repo)
// are SSH and plain filesystem paths are file.
func TransportKindOf(uri string) (TransportKind, error) {
	ep, err := transport.NewEndpoint(uri)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeInvalidInput, "invalid repository URI %q", uri)
	}

	switch ep.Protocol {
	case "ssh":
		return KindSSH, nil
	case "http", "https":
		return KindHTTP, nil
	case "file":
		return KindFile, nil
	case "git":
		return KindGit, nil
	default:
		return "", errors.Newf(errors.CodeInvalidInput, "unsupported transport %q in repository URI", ep.Protocol)
	}
}

// TransportPolicy turns the secret supplied to an operation into the
// Transport used for every URL that operation touches, including the URLs
// of submodules. It holds no mutable state and is safe for concurrent use.
type TransportPolicy struct {
	secret secret.Secret
	logger *slog.Logger
}

// NewTransportPolicy returns the policy for s. A nil secret means no
// credential was supplied. A nil logger uses slog.Default().
func NewTransportPolicy(s secret.Secret, logger *slog.Logger) *TransportPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransportPolicy{secret: s, logger: logger}
}

// ForURL returns the Transport for uri.
//
// SSH requires a *secret.KeyPair, which becomes the only identity offered,
// and host keys are not verified. Without a secret the ambient SSH identity
// (the agent) is used unmodified. HTTP(S) accepts an optional
// *secret.UsernamePassword with at least a username, and never verifies
// certificates. Local and git-protocol URLs take no credentials.
func (p *TransportPolicy) ForURL(uri string) (Transport, error) {
	kind, err := TransportKindOf(uri)
	if err != nil {
		return Transport{}, err
	}

	switch kind {
	case KindSSH:
		return p.ssh(uri)
	case KindHTTP:
		return p.http()
	default:
		return Transport{}, nil
	}
}

// Validate checks that the policy can serve uri without building anything.
// It lets callers reject a mismatched secret before touching the cache.
func (p *TransportPolicy) Validate(uri string) error {
	kind, err := TransportKindOf(uri)
	if err != nil {
		return err
	}
	return p.checkType(kind)
}

func (p *TransportPolicy) checkType(kind TransportKind) error {
	switch kind {
	case KindSSH:
		if p.secret == nil {
			return nil
		}
		if _, ok := p.secret.(*secret.KeyPair); !ok {
			return errors.New(CodeInvalidSecretType, "invalid secret type, expected a key pair")
		}
	case KindHTTP:
		if p.secret == nil {
			return nil
		}
		if _, ok := p.secret.(*secret.UsernamePassword); !ok {
			return errors.New(CodeInvalidSecretType, "invalid secret type, expected a username/password credentials")
		}
	}
	return nil
}

func (p *TransportPolicy) ssh(uri string) (Transport, error) {
	if err := p.checkType(KindSSH); err != nil {
		return Transport{}, err
	}
	if p.secret == nil {
		return Transport{}, nil
	}

	user := DefaultSSHUser
	if ep, err := transport.NewEndpoint(uri); err == nil && ep.User != "" {
		user = ep.User
	}

	kp := p.secret.(*secret.KeyPair)
	keys, err := ssh.NewPublicKeys(user, kp.PrivateKey, kp.Passphrase)
	if err != nil {
		return Transport{}, errors.Wrap(err, errors.CodeInvalidInput, "failed to parse SSH private key")
	}
	p.logger.Debug("using the supplied secret", "transport", KindSSH)

	//nolint:gosec // host key verification is intentionally disabled
	keys.HostKeyCallback = gossh.InsecureIgnoreHostKey()
	p.logger.Warn("strict host key checking is disabled", "transport", KindSSH)

	return Transport{Auth: keys}, nil
}

func (p *TransportPolicy) http() (Transport, error) {
	if err := p.checkType(KindHTTP); err != nil {
		return Transport{}, err
	}

	t := Transport{InsecureSkipTLS: true}
	if p.secret != nil {
		up := p.secret.(*secret.UsernamePassword)
		if !up.Complete() {
			return Transport{}, errors.New(errors.CodeUnauthorized, "username/password credentials without a username")
		}
		t.Auth = &http.BasicAuth{Username: up.Username, Password: up.Password}
		p.logger.Debug("using the supplied secret", "transport", KindHTTP)
	}

	p.logger.Warn("SSL verification is disabled", "transport", KindHTTP)
	return t, nil
}
