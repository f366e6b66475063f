package netcopy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

// GoSSHClient is the golang.org/x/crypto/ssh implementation of SSHClient.
// Connect dials TCP; Authenticate runs the handshake over that connection, so the
// pool can hold a connected but unauthenticated client between the two steps.
type GoSSHClient struct {
	cfg TransportConfig

	mu     sync.Mutex
	conn   net.Conn
	addr   string
	client *ssh.Client

	connected     atomic.Bool
	authenticated atomic.Bool
}

var _ SSHClient = (*GoSSHClient)(nil)

// NewGoSSHClient creates an unconnected client.
func NewGoSSHClient(cfg TransportConfig) *GoSSHClient {
	return &GoSSHClient{cfg: cfg}
}

func (c *GoSSHClient) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}

	retry := c.cfg.DialRetry
	if retry.Logger == nil {
		retry.Logger = c.cfg.Logger
	}

	var conn net.Conn
	err := Retry(ctx, retry, "dial "+addr, func() error {
		cn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = cn
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.addr = addr
	c.mu.Unlock()
	c.connected.Store(true)
	return nil
}

func (c *GoSSHClient) Authenticate(user string, methods []ssh.AuthMethod, hostKey ssh.HostKeyCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errors.New("ssh: authenticate called before connect")
	}
	if c.client != nil {
		return errors.New("ssh: already authenticated")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         c.cfg.ConnectTimeout,
	}

	// NewClientConn has no timeout of its own; bound the handshake with a deadline.
	if c.cfg.ConnectTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	}
	ncc, chans, reqs, err := ssh.NewClientConn(c.conn, c.addr, config)
	if err != nil {
		c.connected.Store(false)
		return fmt.Errorf("failed to create SSH connection to %s: %w", c.addr, err)
	}
	_ = c.conn.SetDeadline(time.Time{})

	client := ssh.NewClient(ncc, chans, reqs)
	c.client = client
	c.authenticated.Store(true)

	go func() {
		_ = client.Wait()
		c.connected.Store(false)
	}()

	return nil
}

func (c *GoSSHClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *GoSSHClient) IsAuthenticated() bool {
	return c.authenticated.Load()
}

// Client returns the authenticated *ssh.Client, or nil before Authenticate succeeds.
func (c *GoSSHClient) Client() *ssh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *GoSSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected.Store(false)

	var err error
	switch {
	case c.client != nil:
		err = c.client.Close()
	case c.conn != nil:
		err = c.conn.Close()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
