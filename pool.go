package netcopy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
)

// Pool caches authenticated SSH and FTP sessions by identifier.
//
// Lookups for different identifiers never wait on each other: the registry lock is only
// held for map access, never while connecting. Concurrent creations for one identifier
// are coalesced unless Config.DisableCoalescing is set.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	sshFactory SSHClientFactory
	ftpFactory FTPClientFactory
	creds      CredentialStore
	keys       KeyDecoder
	auth       Authenticator
	runner     Runner
	disposer   *Disposer
	group      singleflight.Group

	mu      sync.RWMutex
	handles map[string]Handle
	// retiring holds stale handles being expired; the channel closes once they are gone.
	retiring map[Handle]chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	sweepWg   sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithSSHClientFactory replaces the factory used by the default authenticator.
func WithSSHClientFactory(f SSHClientFactory) Option {
	return func(p *Pool) {
		p.sshFactory = f
	}
}

// WithFTPClientFactory replaces the FTP/FTPS client factory.
func WithFTPClientFactory(f FTPClientFactory) Option {
	return func(p *Pool) {
		p.ftpFactory = f
	}
}

// WithCredentialStore sets where private keys and host fingerprints are looked up.
func WithCredentialStore(s CredentialStore) Option {
	return func(p *Pool) {
		p.creds = s
	}
}

// WithKeyDecoder replaces the private key decoder.
func WithKeyDecoder(d KeyDecoder) Option {
	return func(p *Pool) {
		p.keys = d
	}
}

// WithAuthenticator replaces the SSH authenticator entirely.
func WithAuthenticator(a Authenticator) Option {
	return func(p *Pool) {
		p.auth = a
	}
}

// WithRunner sets where background teardown runs.
func WithRunner(r Runner) Option {
	return func(p *Pool) {
		p.runner = r
	}
}

// NewPool creates a pool. Close it to stop the sweeper and release every session.
func NewPool(cfg Config, opts ...Option) *Pool {
	cfg = cfg.WithDefaults()
	logger := cfg.Logger.With("component", "netcopy")

	p := &Pool{
		cfg:        cfg,
		logger:     logger,
		metrics:    NewMetrics(cfg.Registerer),
		sshFactory: DefaultSSHClientFactory{},
		ftpFactory: &DefaultFTPClientFactory{
			ConnectTimeout: cfg.ConnectTimeout,
			DialRetry:      cfg.DialRetry,
			TLSConfig:      cfg.TLSConfig,
			ImplicitTLS:    cfg.FTPSImplicitTLS,
			Logger:         logger,
		},
		creds:   NewMemoryCredentialStore(),
		keys:    PEMKeyDecoder{},
		runner:  GoRunner{},
		handles:  make(map[string]Handle),
		retiring: make(map[Handle]chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.auth == nil {
		p.auth = &SSHAuthenticator{
			Factory: p.sshFactory,
			Transport: TransportConfig{
				ConnectTimeout: cfg.ConnectTimeout,
				DialRetry:      cfg.DialRetry,
				Logger:         logger,
			},
			InsecureIgnoreHostKey: cfg.InsecureIgnoreHostKey,
			Logger:                logger,
		}
	}

	p.disposer = NewDisposer(p.runner, cfg.DisposeParallelism, logger)
	p.disposer.expired = func(h Handle) {
		p.metrics.expired(h.Scheme())
	}

	if cfg.SweepInterval > 0 {
		p.sweepWg.Add(1)
		go p.sweepLoop()
	}

	return p
}

// GetOrCreate returns the session cached for id, creating it when absent. A cached
// session that no longer validates is expired and replaced before returning.
// Failures are returned as *CreateError and leave no entry behind.
func (p *Pool) GetOrCreate(ctx context.Context, id string) (Handle, error) {
	scheme, ok := SchemeOf(id)
	if !ok {
		return nil, newCreateError(KindInvalidIdentifier, id,
			fmt.Errorf("%w: unrecognized scheme", ErrInvalidIdentifier))
	}

	return p.getOrCreate(ctx, id, scheme, func(ctx context.Context) (Handle, error) {
		if scheme == SchemeSSH {
			return p.createSSH(ctx, id)
		}
		return p.createFTP(ctx, id, scheme)
	})
}

// SSHParams are the structured fields accepted by GetOrCreateSSH.
type SSHParams struct {
	Host            string
	Port            int
	HostFingerprint string
	KnownHostsFile  string
	Username        string
	Password        string
	Signer          ssh.Signer
}

// GetOrCreateSSH is GetOrCreate for callers holding structured SSH settings. The cache key
// is derived with DeriveSSHIdentifier, so it is shared with identifier-based lookups.
func (p *Pool) GetOrCreateSSH(ctx context.Context, params SSHParams) (Handle, error) {
	if params.Port < 0 {
		params.Port = SSHDefaultPort
	}
	id := DeriveSSHIdentifier(params.Host, params.Port, "", params.Username, params.Password, params.Signer != nil)
	if params.KnownHostsFile == "" {
		params.KnownHostsFile = p.cfg.KnownHostsFile
	}

	return p.getOrCreate(ctx, id, SchemeSSH, func(ctx context.Context) (Handle, error) {
		return p.authenticateSSH(ctx, id, SSHAuthRequest{
			Host:            params.Host,
			Port:            params.Port,
			HostFingerprint: params.HostFingerprint,
			KnownHostsFile:  params.KnownHostsFile,
			Username:        params.Username,
			Password:        params.Password,
			Signer:          params.Signer,
		})
	})
}

func (p *Pool) getOrCreate(ctx context.Context, id string, scheme Scheme, create func(context.Context) (Handle, error)) (Handle, error) {
	if h, ok := p.Lookup(id); ok {
		if h.Validate() {
			p.metrics.lookup(lookupHit)
			return h, nil
		}

		p.metrics.lookup(lookupStale)
		p.retire(id, h)
	} else {
		p.metrics.lookup(lookupMiss)
	}

	if p.cfg.DisableCoalescing {
		return p.createAndStore(ctx, id, scheme, create)
	}

	v, err, _ := p.group.Do(id, func() (any, error) {
		if h, ok := p.Lookup(id); ok && h.Validate() {
			return h, nil
		}
		return p.createAndStore(ctx, id, scheme, create)
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

func (p *Pool) createAndStore(ctx context.Context, id string, scheme Scheme, create func(context.Context) (Handle, error)) (Handle, error) {
	start := time.Now()
	h, err := create(ctx)
	p.metrics.created(scheme, err, time.Since(start))
	if err != nil {
		p.logger.Warn("failed to create connection", logID(id), "kind", KindOf(err), "error", err)
		return nil, err
	}

	p.mu.Lock()
	displaced, raced := p.handles[id]
	p.handles[id] = h
	n := len(p.handles)
	p.mu.Unlock()
	p.metrics.setHandles(n)

	// Another creation for the same id finished first; ours wins the slot.
	if raced && displaced != h {
		p.logger.Debug("replacing concurrently created connection", logID(id))
		p.disposer.Dispose(displaced, nil)
	}

	p.logger.Info("connection established", logID(id), "scheme", scheme)
	return h, nil
}

func (p *Pool) createSSH(ctx context.Context, id string) (Handle, error) {
	info, err := ParseConnectionInfo(id)
	if err != nil {
		return nil, newCreateError(KindInvalidIdentifier, id, err)
	}

	fingerprint, hasFingerprint := p.creds.LookupHostFingerprint(id)
	knownHosts, ok := p.creds.LookupKnownHostsFile(id)
	if !ok {
		knownHosts = p.cfg.KnownHostsFile
	}
	if !hasFingerprint && knownHosts == "" && !p.cfg.InsecureIgnoreHostKey {
		return nil, newCreateError(KindMissingCredentials, id, ErrMissingHostFingerprint)
	}

	var signer ssh.Signer
	if pem, ok := p.creds.LookupPrivateKeyPEM(id); ok {
		signer, err = p.decodeKey(ctx, pem)
		if err != nil {
			return nil, newCreateError(KindKeyDecode, id, err)
		}
	}

	return p.authenticateSSH(ctx, id, SSHAuthRequest{
		Host:            info.Host,
		Port:            info.Port,
		HostFingerprint: fingerprint,
		KnownHostsFile:  knownHosts,
		Username:        info.Username,
		Password:        info.Password,
		Signer:          signer,
	})
}

func (p *Pool) decodeKey(ctx context.Context, pem string) (ssh.Signer, error) {
	if p.cfg.KeyDecodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.KeyDecodeTimeout)
		defer cancel()
	}
	return p.keys.DecodePEM(ctx, pem)
}

func (p *Pool) authenticateSSH(ctx context.Context, id string, req SSHAuthRequest) (Handle, error) {
	client, err := p.auth.Authenticate(ctx, req)
	if err != nil {
		return nil, newCreateError(sshErrorKind(err), id, err)
	}
	return newSSHHandle(id, client, p.logger), nil
}

func sshErrorKind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNoAuthMethod), errors.Is(err, ErrMissingHostFingerprint):
		return KindMissingCredentials
	case errors.Is(err, ErrConnectFailed):
		return KindConnect
	case errors.Is(err, ErrInvalidIdentifier):
		return KindInvalidIdentifier
	default:
		return KindAuth
	}
}

func (p *Pool) createFTP(ctx context.Context, id string, scheme Scheme) (Handle, error) {
	info, err := ParseConnectionInfo(id)
	if err != nil {
		return nil, newCreateError(KindInvalidIdentifier, id, err)
	}

	client, err := p.ftpFactory.Create(ctx, id)
	if err != nil {
		kind := KindConnect
		if errors.Is(err, ErrInvalidIdentifier) {
			kind = KindInvalidIdentifier
		}
		return nil, newCreateError(kind, id, err)
	}

	h := newFTPHandle(id, scheme, client, p.logger)
	if err := h.login(info.Username, info.Password); err != nil {
		if derr := client.Disconnect(); derr != nil {
			p.logger.Debug("disconnect after failed FTP login", logID(id), "error", derr)
		}
		return nil, newCreateError(ftpLoginErrorKind(err), id, fmt.Errorf("FTP login failed: %w", err))
	}

	return h, nil
}

func ftpLoginErrorKind(err error) ErrorKind {
	var protoErr *textproto.Error
	switch {
	case isConnectionClosed(err):
		return KindConnectionClosed
	case errors.As(err, &protoErr) && protoErr.Code == ftp.StatusNotAvailable:
		// 421: the server is closing the control connection.
		return KindConnectionClosed
	case errors.As(err, &protoErr):
		return KindAuth
	default:
		return KindIO
	}
}

// Lookup returns the cached handle for id without validating or creating it.
func (p *Pool) Lookup(id string) (Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handles[id]
	return h, ok
}

// retire expires a stale handle and then drops it from the registry. Concurrent
// callers that found the same handle wait for the first one instead of expiring it
// again, so the replacement is never inserted before the expiry has finished.
func (p *Pool) retire(id string, h Handle) {
	p.mu.Lock()
	if cur, ok := p.handles[id]; !ok || cur != h {
		p.mu.Unlock()
		return
	}
	if done, busy := p.retiring[h]; busy {
		p.mu.Unlock()
		<-done
		return
	}
	done := make(chan struct{})
	p.retiring[h] = done
	p.mu.Unlock()

	p.logger.Info("connection no longer usable, reconnecting", logID(id))
	p.disposer.expire(h)

	p.mu.Lock()
	if cur, ok := p.handles[id]; ok && cur == h {
		delete(p.handles, id)
	}
	delete(p.retiring, h)
	n := len(p.handles)
	p.mu.Unlock()
	p.metrics.setHandles(n)
	close(done)
}

func (p *Pool) take(id string) (Handle, bool) {
	p.mu.Lock()
	h, ok := p.handles[id]
	if _, busy := p.retiring[h]; ok && busy {
		// Already being expired by retire.
		ok = false
	}
	if ok {
		delete(p.handles, id)
	}
	n := len(p.handles)
	p.mu.Unlock()
	p.metrics.setHandles(n)
	return h, ok
}

// Remove expires and forgets the session for id in the background, then calls onDone
// exactly once, whether or not a session was cached. When id carries a path and is not
// cached itself, the session cached under its BaseIdentifier is removed instead.
func (p *Pool) Remove(id string, onDone func()) {
	p.disposer.Go(func() {
		defer runCallback(onDone)

		h, ok := p.take(id)
		if !ok {
			if base := BaseIdentifier(id); base != id {
				h, ok = p.take(base)
			}
		}
		if !ok {
			return
		}

		p.disposer.expire(h)
		p.logger.Info("connection removed", logID(h.Identifier()))
	})
}

// ShutdownAll empties the registry and expires every session in the background.
// The registry is empty when ShutdownAll returns; use Wait to block until every
// session is closed.
func (p *Pool) ShutdownAll() {
	p.ShutdownAllThen(nil)
}

// ShutdownAllThen is ShutdownAll with a completion callback.
func (p *Pool) ShutdownAllThen(onDone func()) {
	p.mu.Lock()
	handles := make([]Handle, 0, len(p.handles))
	for _, h := range p.handles {
		if _, busy := p.retiring[h]; !busy {
			handles = append(handles, h)
		}
	}
	p.handles = make(map[string]Handle)
	p.mu.Unlock()
	p.metrics.setHandles(0)

	if len(handles) > 0 {
		p.logger.Info("shutting down connections", "count", len(handles))
	}
	p.disposer.DisposeAll(handles, onDone)
}

// Wait blocks until all background removals and shutdowns started so far are done.
func (p *Pool) Wait() {
	p.disposer.Wait()
}

// Close stops the sweeper, shuts down every session and waits for teardown to finish.
// The pool can still create sessions afterwards.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.sweepWg.Wait()
	p.ShutdownAll()
	p.Wait()
}

// Sweep evicts every handle that no longer validates and expires them in the
// background. It returns the number of evicted handles.
func (p *Pool) Sweep() int {
	p.mu.Lock()
	var stale []Handle
	for id, h := range p.handles {
		if _, busy := p.retiring[h]; busy {
			continue
		}
		if !h.Validate() {
			stale = append(stale, h)
			delete(p.handles, id)
		}
	}
	n := len(p.handles)
	p.mu.Unlock()
	p.metrics.setHandles(n)

	if len(stale) > 0 {
		p.logger.Info("evicting unusable connections", "count", len(stale))
		p.disposer.DisposeAll(stale, nil)
	}
	return len(stale)
}

func (p *Pool) sweepLoop() {
	defer p.sweepWg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.done:
			return
		}
	}
}

// Len returns the number of cached sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{Total: len(p.handles)}
	for _, h := range p.handles {
		if h.Scheme() == SchemeSSH {
			stats.SSH++
		} else {
			stats.FTP++
		}
		if h.Validate() {
			stats.Valid++
		} else {
			stats.Invalid++
		}
	}
	return stats
}

// PoolStats contains pool statistics. FTP counts both ftp:// and ftps:// sessions.
type PoolStats struct {
	Total   int
	SSH     int
	FTP     int
	Valid   int
	Invalid int
}
