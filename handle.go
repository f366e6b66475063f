package netcopy

import (
	"log/slog"
	"sync/atomic"
)

// Handle wraps a live protocol session held by the pool.
type Handle interface {
	// Validate reports, without network I/O, whether the session is still usable.
	Validate() bool
	// Expire releases the session's network resources. Errors are logged, not returned.
	Expire()
	// Underlying returns the wrapped transport (SSHClient or FTPClient).
	Underlying() any
	Scheme() Scheme
	// Identifier returns the registry key the handle was created for.
	Identifier() string
}

// SSHHandle is the Handle for ssh:// sessions.
type SSHHandle struct {
	id     string
	client SSHClient
	logger *slog.Logger
}

var _ Handle = (*SSHHandle)(nil)

func newSSHHandle(id string, client SSHClient, logger *slog.Logger) *SSHHandle {
	return &SSHHandle{id: id, client: client, logger: logger}
}

// Validate is true while the transport is both connected and authenticated.
func (h *SSHHandle) Validate() bool {
	return h.client.IsConnected() && h.client.IsAuthenticated()
}

func (h *SSHHandle) Expire() {
	if err := h.client.Disconnect(); err != nil {
		h.logger.Warn("failed to disconnect SSH session",
			logID(h.id), "error", err)
	}
}

func (h *SSHHandle) Underlying() any    { return h.client }
func (h *SSHHandle) Scheme() Scheme     { return SchemeSSH }
func (h *SSHHandle) Identifier() string { return h.id }
func (h *SSHHandle) Client() SSHClient  { return h.client }

// FTPHandle is the Handle for ftp:// and ftps:// sessions. The transport cannot tell
// whether a login happened, so the handle tracks it.
type FTPHandle struct {
	id            string
	scheme        Scheme
	client        FTPClient
	authenticated atomic.Bool
	logger        *slog.Logger
}

var _ Handle = (*FTPHandle)(nil)

func newFTPHandle(id string, scheme Scheme, client FTPClient, logger *slog.Logger) *FTPHandle {
	return &FTPHandle{id: id, scheme: scheme, client: client, logger: logger}
}

// login authenticates the control connection and records success.
func (h *FTPHandle) login(user, password string) error {
	if err := h.client.Login(user, password); err != nil {
		return err
	}
	h.authenticated.Store(true)
	return nil
}

// Validate is true while the control connection is open and the login succeeded.
func (h *FTPHandle) Validate() bool {
	return h.client.IsConnected() && h.authenticated.Load()
}

// Expire logs out if logged in, then always disconnects.
func (h *FTPHandle) Expire() {
	if h.authenticated.Swap(false) {
		if err := h.client.Logout(); err != nil {
			h.logger.Warn("FTP logout failed",
				logID(h.id), "error", err)
		}
	}
	if err := h.client.Disconnect(); err != nil {
		h.logger.Warn("failed to disconnect FTP session",
			logID(h.id), "error", err)
	}
}

func (h *FTPHandle) Underlying() any    { return h.client }
func (h *FTPHandle) Scheme() Scheme     { return h.scheme }
func (h *FTPHandle) Identifier() string { return h.id }
func (h *FTPHandle) Client() FTPClient  { return h.client }
