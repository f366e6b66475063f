package netcopy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHClient is an SSH transport before and after authentication.
type SSHClient interface {
	// Connect opens the network connection without authenticating.
	Connect(ctx context.Context, host string, port int) error
	// Authenticate performs the handshake and user authentication.
	Authenticate(user string, methods []ssh.AuthMethod, hostKey ssh.HostKeyCallback) error
	// IsConnected reports whether the underlying connection is still open.
	IsConnected() bool
	// IsAuthenticated reports whether user authentication succeeded.
	IsAuthenticated() bool
	// Disconnect closes the session and its connection.
	Disconnect() error
}

// FTPClient is a connected FTP or FTPS control connection.
type FTPClient interface {
	Login(user, password string) error
	Logout() error
	// IsConnected reports whether the control connection is still open.
	IsConnected() bool
	// Disconnect sends QUIT where possible and closes the connection.
	Disconnect() error
}

// TransportConfig configures SSH clients built by an SSHClientFactory.
type TransportConfig struct {
	// ConnectTimeout bounds TCP connect and the SSH handshake.
	ConnectTimeout time.Duration

	// DialRetry retries transient dial failures.
	DialRetry RetryConfig

	Logger *slog.Logger
}

// SSHClientFactory builds unauthenticated SSH clients. Replace it to test without a server.
type SSHClientFactory interface {
	Create(cfg TransportConfig) SSHClient
}

// FTPClientFactory builds connected, unauthenticated FTP clients for an identifier, using
// TLS when the identifier starts with ftps://.
type FTPClientFactory interface {
	Create(ctx context.Context, id string) (FTPClient, error)
}

// SSHClientFactoryFunc adapts a function to SSHClientFactory.
type SSHClientFactoryFunc func(cfg TransportConfig) SSHClient

func (f SSHClientFactoryFunc) Create(cfg TransportConfig) SSHClient { return f(cfg) }

// FTPClientFactoryFunc adapts a function to FTPClientFactory.
type FTPClientFactoryFunc func(ctx context.Context, id string) (FTPClient, error)

func (f FTPClientFactoryFunc) Create(ctx context.Context, id string) (FTPClient, error) {
	return f(ctx, id)
}

// DefaultSSHClientFactory builds GoSSHClient instances.
type DefaultSSHClientFactory struct{}

var _ SSHClientFactory = DefaultSSHClientFactory{}

func (DefaultSSHClientFactory) Create(cfg TransportConfig) SSHClient {
	return NewGoSSHClient(cfg)
}

// DefaultFTPClientFactory dials FTP and FTPS servers with github.com/jlaffaye/ftp.
type DefaultFTPClientFactory struct {
	ConnectTimeout time.Duration
	DialRetry      RetryConfig

	// TLSConfig is cloned per dial; ServerName defaults to the identifier host.
	TLSConfig *tls.Config

	// ImplicitTLS selects implicit TLS for ftps:// instead of AUTH TLS.
	ImplicitTLS bool

	Logger *slog.Logger
}

var _ FTPClientFactory = (*DefaultFTPClientFactory)(nil)

func (f *DefaultFTPClientFactory) Create(ctx context.Context, id string) (FTPClient, error) {
	info, err := ParseConnectionInfo(id)
	if err != nil {
		return nil, err
	}
	if info.Scheme == SchemeSSH {
		return nil, fmt.Errorf("%w: %s is not an FTP identifier", ErrInvalidIdentifier, info.Redacted())
	}

	opts := ftpDialOptions{
		timeout: f.ConnectTimeout,
	}
	if info.Scheme == SchemeFTPS {
		tlsConfig := &tls.Config{}
		if f.TLSConfig != nil {
			tlsConfig = f.TLSConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = info.Host
		}
		opts.tlsConfig = tlsConfig
		opts.implicitTLS = f.ImplicitTLS
	}

	retry := f.DialRetry
	if retry.Logger == nil {
		retry.Logger = f.Logger
	}

	var client FTPClient
	err = Retry(ctx, retry, "dial "+info.Address(), func() error {
		c, err := dialFTP(ctx, info.Address(), opts)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
