package netcopy

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultConnectTimeout     = 30 * time.Second
	DefaultKeyDecodeTimeout   = 10 * time.Second
	DefaultDisposeParallelism = 4
)

// AuthMethod represents the SSH authentication method to use.
type AuthMethod string

const (
	// AuthMethodPrivateKey uses SSH private key authentication.
	AuthMethodPrivateKey AuthMethod = "private_key"
	// AuthMethodPassword uses password (and keyboard-interactive) authentication.
	AuthMethodPassword AuthMethod = "password"
)

// Config holds pool configuration.
type Config struct {
	// ConnectTimeout bounds TCP connect and the SSH handshake (default 30s).
	ConnectTimeout time.Duration

	// KeyDecodeTimeout bounds private key decoding during SSH creation (default 10s).
	// A negative value disables the bound.
	KeyDecodeTimeout time.Duration

	// DisposeParallelism is the number of concurrent expirations during ShutdownAll (default 4).
	DisposeParallelism int

	// SweepInterval enables a background sweep that evicts invalid handles. Zero disables it.
	SweepInterval time.Duration

	// DisableCoalescing lets concurrent creations for one identifier race; the last
	// one to finish wins the registry slot.
	DisableCoalescing bool

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool

	// KnownHostsFile verifies SSH host keys for identifiers without a fingerprint or a
	// known_hosts file of their own in the credential store.
	KnownHostsFile string

	// FTPSImplicitTLS dials ftps:// identifiers with implicit TLS instead of AUTH TLS.
	FTPSImplicitTLS bool

	// TLSConfig is used for ftps:// identifiers. ServerName defaults to the identifier host.
	TLSConfig *tls.Config

	// DialRetry retries failed dials in the default factories. The zero value does not retry.
	DialRetry RetryConfig

	// Logger receives pool events. Defaults to slog.Default().
	Logger *slog.Logger

	// Registerer enables Prometheus metrics when set.
	Registerer prometheus.Registerer
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeyDecodeTimeout == 0 {
		c.KeyDecodeTimeout = DefaultKeyDecodeTimeout
	}
	if c.DisposeParallelism <= 0 {
		c.DisposeParallelism = DefaultDisposeParallelism
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Settings is the environment-driven subset of Config.
type Settings struct {
	ConnectTimeout        time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	KeyDecodeTimeout      time.Duration `envconfig:"KEY_DECODE_TIMEOUT" default:"10s"`
	DisposeParallelism    int           `envconfig:"DISPOSE_PARALLELISM" default:"4"`
	SweepInterval         time.Duration `envconfig:"SWEEP_INTERVAL" default:"0s"`
	DisableCoalescing     bool          `envconfig:"DISABLE_COALESCING" default:"false"`
	FTPSImplicitTLS       bool          `envconfig:"FTPS_IMPLICIT_TLS" default:"false"`
	InsecureIgnoreHostKey bool          `envconfig:"INSECURE_IGNORE_HOST_KEY" default:"false"`
	KnownHostsFile        string        `envconfig:"KNOWN_HOSTS_FILE" default:""`
	DialRetries           int           `envconfig:"DIAL_RETRIES" default:"0"`
	CredentialsFile       string        `envconfig:"CREDENTIALS_FILE" default:""`
	LogLevel              string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat             string        `envconfig:"LOG_FORMAT" default:"text"`
}

// LoadSettings reads Settings from the environment, e.g. NETCOPY_CONNECT_TIMEOUT for
// prefix "NETCOPY".
func LoadSettings(prefix string) (Settings, error) {
	var s Settings
	if err := envconfig.Process(prefix, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return s, nil
}

// Config converts the settings into a pool Config with a logger built from LogLevel
// and LogFormat.
func (s Settings) Config() (Config, error) {
	logger, err := s.NewLogger()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ConnectTimeout:        s.ConnectTimeout,
		KeyDecodeTimeout:      s.KeyDecodeTimeout,
		DisposeParallelism:    s.DisposeParallelism,
		SweepInterval:         s.SweepInterval,
		DisableCoalescing:     s.DisableCoalescing,
		FTPSImplicitTLS:       s.FTPSImplicitTLS,
		InsecureIgnoreHostKey: s.InsecureIgnoreHostKey,
		KnownHostsFile:        s.KnownHostsFile,
		Logger:                logger,
	}
	if s.DialRetries > 0 {
		cfg.DialRetry = DefaultRetryConfig()
		cfg.DialRetry.MaxRetries = s.DialRetries
	}
	return cfg.WithDefaults(), nil
}

// NewLogger builds a stderr slog.Logger from LogLevel and LogFormat.
func (s Settings) NewLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(s.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", s.LogFormat)
	}
}
