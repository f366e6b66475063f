package netcopy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHAuthRequest carries everything needed to open an authenticated SSH session.
type SSHAuthRequest struct {
	Host            string
	Port            int
	HostFingerprint string
	Username        string
	Password        string

	// KnownHostsFile verifies the host key when HostFingerprint is empty.
	KnownHostsFile string

	// Signer selects public key authentication when set.
	Signer ssh.Signer

	// AuthMethod forces a method. If empty it is inferred from Signer and Password.
	AuthMethod AuthMethod
}

// Authenticator opens authenticated SSH sessions. Errors wrap ErrConnectFailed,
// ErrAuthFailed, ErrNoAuthMethod or ErrMissingHostFingerprint.
type Authenticator interface {
	Authenticate(ctx context.Context, req SSHAuthRequest) (SSHClient, error)
}

// SSHAuthenticator connects a client from Factory and authenticates it.
type SSHAuthenticator struct {
	Factory   SSHClientFactory
	Transport TransportConfig

	// InsecureIgnoreHostKey accepts any host key.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool

	Logger *slog.Logger
}

var _ Authenticator = (*SSHAuthenticator)(nil)

func (a *SSHAuthenticator) Authenticate(ctx context.Context, req SSHAuthRequest) (SSHClient, error) {
	authMethods, err := buildAuthMethods(req)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := a.buildHostKeyCallback(req)
	if err != nil {
		return nil, err
	}

	client := a.Factory.Create(a.Transport)
	if err := client.Connect(ctx, req.Host, req.Port); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if err := client.Authenticate(req.Username, authMethods, hostKeyCallback); err != nil {
		if derr := client.Disconnect(); derr != nil {
			a.logger().Debug("disconnect after failed authentication", "error", derr)
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	return client, nil
}

func (a *SSHAuthenticator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *SSHAuthenticator) buildHostKeyCallback(req SSHAuthRequest) (ssh.HostKeyCallback, error) {
	if a.InsecureIgnoreHostKey {
		a.logger().Warn("SSH host key verification disabled - this is insecure!",
			"host", SanitizeForLog(req.Host), "port", req.Port)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if strings.TrimSpace(req.HostFingerprint) != "" {
		return FingerprintHostKeyCallback(req.HostFingerprint), nil
	}
	if req.KnownHostsFile != "" {
		return KnownHostsCallback(req.KnownHostsFile)
	}
	return nil, fmt.Errorf("%w for %s:%d", ErrMissingHostFingerprint, SanitizeForLog(req.Host), req.Port)
}

// KnownHostsCallback verifies host keys against an OpenSSH known_hosts file. Unknown
// hosts and changed keys are both reported as ErrHostKeyMismatch.
func KnownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	check, err := knownhosts.New(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load known hosts: %w", ErrMissingHostFingerprint, err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("%w: %s is not in %s", ErrHostKeyMismatch, hostname, path)
		}
		return fmt.Errorf("%w for %s: server presented %s", ErrHostKeyMismatch, hostname, ssh.FingerprintSHA256(key))
	}, nil
}

// FingerprintHostKeyCallback accepts only a host key matching expected, given either as
// "SHA256:<base64>" or as colon-separated MD5 hex (optionally prefixed with "MD5:").
func FingerprintHostKeyCallback(expected string) ssh.HostKeyCallback {
	expected = strings.TrimSpace(expected)
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if MatchFingerprint(expected, key) {
			return nil
		}
		return fmt.Errorf("%w for %s: server presented %s", ErrHostKeyMismatch, hostname, ssh.FingerprintSHA256(key))
	}
}

// MatchFingerprint reports whether key has the given fingerprint.
func MatchFingerprint(expected string, key ssh.PublicKey) bool {
	if strings.HasPrefix(expected, "SHA256:") {
		return expected == ssh.FingerprintSHA256(key)
	}
	legacy := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(expected, "MD5:"), "md5:"))
	return legacy == ssh.FingerprintLegacyMD5(key)
}

func buildAuthMethods(req SSHAuthRequest) ([]ssh.AuthMethod, error) {
	authMethod := req.AuthMethod
	if authMethod == "" {
		authMethod = inferAuthMethod(req)
	}

	switch authMethod {
	case AuthMethodPrivateKey:
		if req.Signer == nil {
			return nil, fmt.Errorf("%w: private key authentication requires a key", ErrNoAuthMethod)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(req.Signer)}, nil

	case AuthMethodPassword:
		if req.Password == "" {
			return nil, fmt.Errorf("%w: password authentication requires password to be set", ErrNoAuthMethod)
		}
		password := req.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil

	case "":
		return nil, ErrNoAuthMethod

	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrNoAuthMethod, authMethod)
	}
}

func inferAuthMethod(req SSHAuthRequest) AuthMethod {
	if req.Signer != nil {
		return AuthMethodPrivateKey
	}
	if req.Password != "" {
		return AuthMethodPassword
	}
	return ""
}
