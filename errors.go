package netcopy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentifier is returned for identifiers that cannot be parsed.
	ErrInvalidIdentifier = errors.New("invalid connection identifier")

	// ErrNoAuthMethod is returned when neither a key nor a password is available.
	ErrNoAuthMethod = errors.New("no SSH authentication method configured")

	// ErrHostKeyMismatch is returned when the server key does not match the expected fingerprint.
	ErrHostKeyMismatch = errors.New("host key fingerprint mismatch")

	// ErrMissingHostFingerprint is returned when no expected host key fingerprint is known.
	ErrMissingHostFingerprint = errors.New("no host key fingerprint known")

	// ErrConnectFailed wraps failures to reach the remote server.
	ErrConnectFailed = errors.New("connect failed")

	// ErrAuthFailed wraps handshake and authentication failures.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotSSHHandle is returned when an SSH-only operation receives another kind of handle.
	ErrNotSSHHandle = errors.New("handle is not backed by an SSH session")
)

// ErrorKind classifies why a session could not be created.
type ErrorKind string

const (
	KindUnknown            ErrorKind = "unknown"
	KindInvalidIdentifier  ErrorKind = "invalid_identifier"
	KindMissingCredentials ErrorKind = "missing_credentials"
	KindKeyDecode          ErrorKind = "key_decode"
	KindConnect            ErrorKind = "connect"
	KindAuth               ErrorKind = "auth"
	KindConnectionClosed   ErrorKind = "connection_closed"
	KindIO                 ErrorKind = "io"
)

// CreateError is returned by every creation path of the pool, whatever the protocol.
type CreateError struct {
	Kind ErrorKind

	// Identifier is the redacted identifier the creation was attempted for.
	Identifier string

	Err error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("create %s (%s): %v", e.Identifier, e.Kind, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *CreateError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrInvalidIdentifier) {
		return KindInvalidIdentifier
	}
	return KindUnknown
}

func newCreateError(kind ErrorKind, id string, err error) *CreateError {
	return &CreateError{
		Kind:       kind,
		Identifier: RedactIdentifier(id),
		Err:        err,
	}
}
