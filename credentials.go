package netcopy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// CredentialStore looks up secrets that are not part of an identifier.
type CredentialStore interface {
	// LookupPrivateKeyPEM returns the PEM private key registered for an SSH identifier.
	LookupPrivateKeyPEM(id string) (string, bool)
	// LookupHostFingerprint returns the expected host key fingerprint for an SSH identifier.
	LookupHostFingerprint(id string) (string, bool)
	// LookupKnownHostsFile returns an OpenSSH known_hosts file to verify an SSH identifier's
	// host key against. A fingerprint takes precedence when both are known.
	LookupKnownHostsFile(id string) (string, bool)
}

// Credentials are the secrets stored for one identifier.
type Credentials struct {
	PrivateKeyPEM   string
	HostFingerprint string
	KnownHostsFile  string
}

// MemoryCredentialStore is a CredentialStore backed by a map. It is safe for concurrent use.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	entries map[string]Credentials
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{entries: make(map[string]Credentials)}
}

// Set registers credentials for an identifier, replacing earlier ones.
func (s *MemoryCredentialStore) Set(id string, creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = creds
}

// Delete removes the credentials of an identifier.
func (s *MemoryCredentialStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

func (s *MemoryCredentialStore) LookupPrivateKeyPEM(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[id]
	if !ok || c.PrivateKeyPEM == "" {
		return "", false
	}
	return c.PrivateKeyPEM, true
}

func (s *MemoryCredentialStore) LookupHostFingerprint(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[id]
	if !ok || c.HostFingerprint == "" {
		return "", false
	}
	return c.HostFingerprint, true
}

func (s *MemoryCredentialStore) LookupKnownHostsFile(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[id]
	if !ok || c.KnownHostsFile == "" {
		return "", false
	}
	return c.KnownHostsFile, true
}

// Len returns the number of identifiers with stored credentials.
func (s *MemoryCredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type credentialsFile struct {
	Connections map[string]credentialsFileEntry `yaml:"connections"`
}

type credentialsFileEntry struct {
	PrivateKey      string `yaml:"private_key"`
	PrivateKeyFile  string `yaml:"private_key_file"`
	HostFingerprint string `yaml:"host_fingerprint"`
	KnownHostsFile  string `yaml:"known_hosts_file"`
}

// LoadCredentialsFile reads a YAML credentials file of the form
//
//	connections:
//	  "ssh://deploy@example.com:22":
//	    private_key_file: ~/.ssh/id_ed25519
//	    host_fingerprint: "SHA256:..."
//	  "ssh://backup@10.0.0.7:22":
//	    private_key_file: ~/.ssh/backup
//	    known_hosts_file: ~/.ssh/known_hosts
//
// private_key may hold the PEM inline instead of private_key_file.
func LoadCredentialsFile(path string) (*MemoryCredentialStore, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	store := NewMemoryCredentialStore()
	for id, entry := range file.Connections {
		if entry.PrivateKey != "" && entry.PrivateKeyFile != "" {
			return nil, fmt.Errorf("credentials for %s: private_key and private_key_file are mutually exclusive", RedactIdentifier(id))
		}

		keyPEM := entry.PrivateKey
		if entry.PrivateKeyFile != "" {
			keyData, err := os.ReadFile(ExpandPath(entry.PrivateKeyFile))
			if err != nil {
				return nil, fmt.Errorf("credentials for %s: failed to read SSH key file: %w", RedactIdentifier(id), err)
			}
			keyPEM = string(keyData)
		}

		knownHosts := strings.TrimSpace(entry.KnownHostsFile)
		if knownHosts != "" {
			knownHosts = ExpandPath(knownHosts)
		}

		store.Set(id, Credentials{
			PrivateKeyPEM:   keyPEM,
			HostFingerprint: strings.TrimSpace(entry.HostFingerprint),
			KnownHostsFile:  knownHosts,
		})
	}

	return store, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
