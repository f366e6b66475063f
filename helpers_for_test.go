package netcopy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t testing.TB) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, []byte(privateKeyPEM), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	return privateKeyPEM, keyPath
}

// generateTestSigner returns a freshly generated RSA signer.
func generateTestSigner(t testing.TB) gossh.Signer {
	t.Helper()

	privateKeyPEM, _ := generateTestRSAKey(t)
	signer, err := gossh.ParsePrivateKey([]byte(privateKeyPEM))
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}
	return signer
}

// createTempFile creates a temporary file with the given content.
func createTempFile(t testing.TB, content []byte) string {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "test_file")
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return tmpFile
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncRunner runs background work inline so tests observe it deterministically.
var syncRunner = RunnerFunc(func(fn func()) { fn() })

// eventLog records the order of transport events across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeSSHClient is an in-memory SSHClient.
type fakeSSHClient struct {
	name string
	log  *eventLog

	connectErr    error
	authErr       error
	disconnectErr error
	panicOnClose  bool

	connected     atomic.Bool
	authenticated atomic.Bool

	connectCalls    atomic.Int32
	authCalls       atomic.Int32
	disconnectCalls atomic.Int32

	mu      sync.Mutex
	user    string
	methods []gossh.AuthMethod
}

var _ SSHClient = (*fakeSSHClient)(nil)

// newLiveSSHClient returns a client that is already connected and authenticated.
func newLiveSSHClient(name string, log *eventLog) *fakeSSHClient {
	c := &fakeSSHClient{name: name, log: log}
	c.connected.Store(true)
	c.authenticated.Store(true)
	return c
}

func (c *fakeSSHClient) Connect(_ context.Context, _ string, _ int) error {
	c.connectCalls.Add(1)
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected.Store(true)
	return nil
}

func (c *fakeSSHClient) Authenticate(user string, methods []gossh.AuthMethod, _ gossh.HostKeyCallback) error {
	c.authCalls.Add(1)
	c.mu.Lock()
	c.user = user
	c.methods = methods
	c.mu.Unlock()
	if c.authErr != nil {
		return c.authErr
	}
	c.authenticated.Store(true)
	return nil
}

func (c *fakeSSHClient) IsConnected() bool     { return c.connected.Load() }
func (c *fakeSSHClient) IsAuthenticated() bool { return c.authenticated.Load() }

func (c *fakeSSHClient) Disconnect() error {
	c.disconnectCalls.Add(1)
	c.log.add("disconnect:" + c.name)
	if c.panicOnClose {
		panic("disconnect exploded")
	}
	c.connected.Store(false)
	return c.disconnectErr
}

// drop simulates the server closing the connection.
func (c *fakeSSHClient) drop() {
	c.connected.Store(false)
}

// fakeAuthenticator hands out live fake SSH clients and records requests.
type fakeAuthenticator struct {
	log *eventLog
	err error

	// gate, when set, is consulted per request; creation waits until the returned
	// channel is closed.
	gate func(req SSHAuthRequest) <-chan struct{}

	calls atomic.Int32

	mu       sync.Mutex
	requests []SSHAuthRequest
	clients  []*fakeSSHClient
}

var _ Authenticator = (*fakeAuthenticator)(nil)

func (a *fakeAuthenticator) Authenticate(ctx context.Context, req SSHAuthRequest) (SSHClient, error) {
	n := a.calls.Add(1)

	if a.gate != nil {
		if ch := a.gate(req); ch != nil {
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if a.err != nil {
		return nil, a.err
	}

	name := req.Host + "#" + strconv.Itoa(int(n))
	a.log.add("create:" + name)
	c := newLiveSSHClient(name, a.log)
	a.clients = append(a.clients, c)
	return c, nil
}

func (a *fakeAuthenticator) lastRequest() SSHAuthRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

func (a *fakeAuthenticator) client(i int) *fakeSSHClient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clients[i]
}

// fakeFTPClient is an in-memory FTPClient.
type fakeFTPClient struct {
	name string
	log  *eventLog

	loginErr      error
	logoutErr     error
	disconnectErr error

	connected atomic.Bool

	loginCalls      atomic.Int32
	logoutCalls     atomic.Int32
	disconnectCalls atomic.Int32

	mu       sync.Mutex
	user     string
	password string
}

var _ FTPClient = (*fakeFTPClient)(nil)

func (c *fakeFTPClient) Login(user, password string) error {
	c.loginCalls.Add(1)
	c.mu.Lock()
	c.user, c.password = user, password
	c.mu.Unlock()
	return c.loginErr
}

func (c *fakeFTPClient) Logout() error {
	c.logoutCalls.Add(1)
	c.log.add("logout:" + c.name)
	return c.logoutErr
}

func (c *fakeFTPClient) IsConnected() bool { return c.connected.Load() }

func (c *fakeFTPClient) Disconnect() error {
	c.disconnectCalls.Add(1)
	c.log.add("disconnect:" + c.name)
	c.connected.Store(false)
	return c.disconnectErr
}

// fakeFTPFactory hands out connected fake FTP clients.
type fakeFTPFactory struct {
	log      *eventLog
	err      error
	loginErr error

	calls atomic.Int32

	mu      sync.Mutex
	ids     []string
	clients []*fakeFTPClient
}

var _ FTPClientFactory = (*fakeFTPFactory)(nil)

func (f *fakeFTPFactory) Create(_ context.Context, id string) (FTPClient, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	if f.err != nil {
		return nil, f.err
	}

	info, err := ParseConnectionInfo(id)
	if err != nil {
		return nil, err
	}
	c := &fakeFTPClient{name: info.Host, log: f.log, loginErr: f.loginErr}
	c.connected.Store(true)
	f.log.add("create:" + info.Host)
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFTPFactory) client(i int) *fakeFTPClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

// fakeHandle is a Handle with scripted validity.
type fakeHandle struct {
	id      string
	scheme  Scheme
	valid   atomic.Bool
	expired atomic.Int32
	panics  bool
	onExp   func()
}

var _ Handle = (*fakeHandle)(nil)

func newFakeHandle(id string, valid bool) *fakeHandle {
	h := &fakeHandle{id: id, scheme: SchemeSSH}
	h.valid.Store(valid)
	return h
}

func (h *fakeHandle) Validate() bool { return h.valid.Load() }

func (h *fakeHandle) Expire() {
	h.expired.Add(1)
	h.valid.Store(false)
	if h.onExp != nil {
		h.onExp()
	}
	if h.panics {
		panic("expire exploded")
	}
}

func (h *fakeHandle) Underlying() any    { return nil }
func (h *fakeHandle) Scheme() Scheme     { return h.scheme }
func (h *fakeHandle) Identifier() string { return h.id }

var errFake = errors.New("fake failure")

const testFingerprint = "SHA256:dGVzdC1maW5nZXJwcmludA"

// testPool bundles a pool with the fakes behind it.
type testPool struct {
	*Pool
	log   *eventLog
	auth  *fakeAuthenticator
	ftp   *fakeFTPFactory
	creds *MemoryCredentialStore
}

// newTestPool builds a pool backed by fakes. Background teardown runs inline unless
// cfg mutations or opts override it.
func newTestPool(t testing.TB, mutate func(*Config), opts ...Option) *testPool {
	t.Helper()

	log := &eventLog{}
	tp := &testPool{
		log:   log,
		auth:  &fakeAuthenticator{log: log},
		ftp:   &fakeFTPFactory{log: log},
		creds: NewMemoryCredentialStore(),
	}

	cfg := Config{Logger: discardLogger()}
	if mutate != nil {
		mutate(&cfg)
	}

	all := append([]Option{
		WithAuthenticator(tp.auth),
		WithFTPClientFactory(tp.ftp),
		WithCredentialStore(tp.creds),
		WithRunner(syncRunner),
	}, opts...)

	tp.Pool = NewPool(cfg, all...)
	t.Cleanup(tp.Pool.Close)
	return tp
}

// trust registers a host fingerprint for id so SSH creation can proceed.
func (tp *testPool) trust(id string) {
	tp.creds.Set(id, Credentials{HostFingerprint: testFingerprint})
}
