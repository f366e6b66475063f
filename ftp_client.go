package netcopy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jlaffaye/ftp"
)

type ftpDialOptions struct {
	timeout     time.Duration
	tlsConfig   *tls.Config
	implicitTLS bool
}

// JLaffayeFTPClient adapts *ftp.ServerConn to FTPClient, tracking whether the control
// connection is known to be open.
type JLaffayeFTPClient struct {
	conn      *ftp.ServerConn
	connected atomic.Bool
	closed    atomic.Bool
}

var _ FTPClient = (*JLaffayeFTPClient)(nil)

func dialFTP(ctx context.Context, addr string, opts ftpDialOptions) (*JLaffayeFTPClient, error) {
	dialer := net.Dialer{Timeout: opts.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := &JLaffayeFTPClient{}
	var control net.Conn = &watchedConn{Conn: raw, lost: func() { c.connected.Store(false) }}

	// The control connection is dialed here so that traffic made through ServerConn is
	// observed too. Data connections are still dialed by the library.
	dialOpts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if opts.timeout > 0 {
		dialOpts = append(dialOpts, ftp.DialWithTimeout(opts.timeout))
	}
	if opts.tlsConfig != nil {
		if opts.implicitTLS {
			control = tls.Client(control, opts.tlsConfig)
			dialOpts = append(dialOpts, ftp.DialWithTLS(opts.tlsConfig))
		} else {
			dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(opts.tlsConfig))
		}
	}
	dialOpts = append(dialOpts, ftp.DialWithNetConn(control))

	conn, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		_ = control.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c.conn = conn
	c.connected.Store(true)
	return c, nil
}

// watchedConn calls lost once a read or write shows that the peer has gone away.
type watchedConn struct {
	net.Conn
	lost func()
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if isConnectionClosed(err) {
		w.lost()
	}
	return n, err
}

func (w *watchedConn) Write(p []byte) (int, error) {
	n, err := w.Conn.Write(p)
	if isConnectionClosed(err) {
		w.lost()
	}
	return n, err
}

// ServerConn returns the underlying connection for file operations.
func (c *JLaffayeFTPClient) ServerConn() *ftp.ServerConn {
	return c.conn
}

func (c *JLaffayeFTPClient) Login(user, password string) error {
	err := c.conn.Login(user, password)
	c.observe(err)
	return err
}

func (c *JLaffayeFTPClient) Logout() error {
	err := c.conn.Logout()
	c.observe(err)
	return err
}

func (c *JLaffayeFTPClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *JLaffayeFTPClient) Disconnect() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.connected.Store(false)
	return c.conn.Quit()
}

// observe marks the client disconnected when err shows the control connection is gone.
func (c *JLaffayeFTPClient) observe(err error) {
	if isConnectionClosed(err) {
		c.connected.Store(false)
	}
}

// isConnectionClosed reports whether err means the peer closed the connection.
func isConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
