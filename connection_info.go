package netcopy

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Scheme identifies the protocol encoded in a connection identifier.
type Scheme string

const (
	SchemeSSH  Scheme = "ssh"
	SchemeFTP  Scheme = "ftp"
	SchemeFTPS Scheme = "ftps"
)

// Identifier prefixes and default ports.
const (
	SSHPrefix  = "ssh://"
	FTPPrefix  = "ftp://"
	FTPSPrefix = "ftps://"

	SSHDefaultPort = 22
	FTPDefaultPort = 21
)

// Prefix returns the identifier prefix for the scheme.
func (s Scheme) Prefix() string {
	return string(s) + "://"
}

// DefaultPort returns the port used when an identifier carries a negative port.
func (s Scheme) DefaultPort() int {
	if s == SchemeSSH {
		return SSHDefaultPort
	}
	return FTPDefaultPort
}

// SchemeOf returns the scheme of an identifier, or false if its prefix is not recognized.
func SchemeOf(id string) (Scheme, bool) {
	switch {
	case strings.HasPrefix(id, SSHPrefix):
		return SchemeSSH, true
	case strings.HasPrefix(id, FTPSPrefix):
		return SchemeFTPS, true
	case strings.HasPrefix(id, FTPPrefix):
		return SchemeFTP, true
	default:
		return "", false
	}
}

// ConnectionInfo holds the parts of a connection identifier.
type ConnectionInfo struct {
	Scheme   Scheme
	Host     string
	Port     int
	Username string

	// Password is only meaningful when HasPassword is true.
	Password    string
	HasPassword bool

	// Path is empty when the identifier carries no path; otherwise it starts with "/".
	Path string
}

// ParseConnectionInfo extracts host, port, credentials and path from an identifier such as
// ssh://user:p@ss@example.com:22/home. Usernames and passwords may contain '@' and ':',
// so the identifier is split on the last '@' and the last ':' instead of being parsed as
// a URI. A ':' after the last '@' (inside a password or an IPv6 host) is not supported.
func ParseConnectionInfo(id string) (ConnectionInfo, error) {
	scheme, ok := SchemeOf(id)
	if !ok {
		return ConnectionInfo{}, fmt.Errorf("%w: expected one of %s, %s, %s", ErrInvalidIdentifier, SSHPrefix, FTPPrefix, FTPSPrefix)
	}

	prefix := scheme.Prefix()
	at := strings.LastIndex(id, "@")
	colon := strings.LastIndex(id, ":")
	if at < len(prefix) {
		return ConnectionInfo{}, fmt.Errorf("%w: missing user info", ErrInvalidIdentifier)
	}
	if colon <= at {
		return ConnectionInfo{}, fmt.Errorf("%w: missing port", ErrInvalidIdentifier)
	}

	info := ConnectionInfo{
		Scheme: scheme,
		Host:   id[at+1 : colon],
	}

	portAndPath := id[colon+1:]
	portToken := portAndPath
	if slash := strings.Index(portAndPath, "/"); slash >= 0 {
		portToken = portAndPath[:slash]
		info.Path = portAndPath[slash:]
	}
	port, err := strconv.Atoi(portToken)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("%w: invalid port %q", ErrInvalidIdentifier, portToken)
	}
	if port < 0 {
		port = scheme.DefaultPort()
	}
	info.Port = port

	user, password, found := strings.Cut(id[len(prefix):at], ":")
	info.Username = user
	if found {
		info.Password = password
		info.HasPassword = true
	}

	return info, nil
}

// Address returns host:port suitable for dialing.
func (c ConnectionInfo) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redacted returns the identifier form of c with the password masked.
func (c ConnectionInfo) Redacted() string {
	var b strings.Builder
	b.WriteString(c.Scheme.Prefix())
	b.WriteString(c.Username)
	if c.HasPassword {
		b.WriteString(":***")
	}
	b.WriteString("@")
	b.WriteString(c.Host)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(c.Port))
	b.WriteString(c.Path)
	return b.String()
}

// RedactIdentifier masks the password of an identifier for logging. Identifiers that do
// not parse are reduced to their scheme so that no credential leaks into logs.
func RedactIdentifier(id string) string {
	info, err := ParseConnectionInfo(id)
	if err != nil {
		if scheme, ok := SchemeOf(id); ok {
			return scheme.Prefix() + "<unparseable>"
		}
		return "<unrecognized identifier>"
	}
	return info.Redacted()
}

// BaseIdentifier strips a trailing path from an identifier, leaving scheme, credentials,
// host and port. Identifiers without a path are returned unchanged.
func BaseIdentifier(id string) string {
	at := strings.LastIndex(id, "@")
	colon := strings.LastIndex(id, ":")
	if at < 0 || colon < at {
		return id
	}
	if slash := strings.Index(id[colon:], "/"); slash >= 0 {
		return id[:colon+slash]
	}
	return id
}

// DeriveSSHIdentifier builds the identifier used to cache an SSH session from structured
// fields. The password is left out when key authentication is used or no password is set.
func DeriveSSHIdentifier(host string, port int, path, username, password string, hasKey bool) string {
	if hasKey || password == "" {
		return fmt.Sprintf("%s%s@%s:%d%s", SSHPrefix, username, host, port, path)
	}
	return fmt.Sprintf("%s%s:%s@%s:%d%s", SSHPrefix, username, password, host, port, path)
}
