package netcopy

import (
	"io"
	"os"
	"path"
	"sync"
	"time"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// MockSFTPFile implements SFTPFile for testing. Writes are stored back into the
// owning client on Close.
type MockSFTPFile struct {
	content    []byte
	readOffset int
	closed     bool

	onClose func(content []byte)
	readErr error
}

// NewMockSFTPFile creates a new mock SFTP file with the given content.
func NewMockSFTPFile(content []byte) *MockSFTPFile {
	return &MockSFTPFile{content: content}
}

func (f *MockSFTPFile) Read(p []byte) (n int, err error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if f.readOffset >= len(f.content) {
		return 0, io.EOF
	}
	n = copy(p, f.content[f.readOffset:])
	f.readOffset += n
	return n, nil
}

func (f *MockSFTPFile) Write(p []byte) (n int, err error) {
	f.content = append(f.content, p...)
	return len(p), nil
}

func (f *MockSFTPFile) Close() error {
	if !f.closed && f.onClose != nil {
		f.onClose(f.content)
	}
	f.closed = true
	return nil
}

// MockSFTPFileData holds file metadata for the mock SFTP client.
type MockSFTPFileData struct {
	content []byte
	mode    os.FileMode
}

// MockSFTPClient implements SFTPClient for testing.
type MockSFTPClient struct {
	mu      sync.Mutex
	files   map[string]*MockSFTPFileData
	dirs    map[string]bool
	errors  map[string]error
	readErr error
	closed  bool
}

// NewMockSFTPClient creates a new mock SFTP client.
func NewMockSFTPClient() *MockSFTPClient {
	return &MockSFTPClient{
		files:  make(map[string]*MockSFTPFileData),
		dirs:   make(map[string]bool),
		errors: make(map[string]error),
	}
}

// Ensure MockSFTPClient implements SFTPClient.
var _ SFTPClient = (*MockSFTPClient)(nil)

// SetError sets an error to be returned for a specific method.
func (m *MockSFTPClient) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// SetFile sets a file in the mock SFTP client.
func (m *MockSFTPClient) SetFile(path string, content []byte, mode os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockSFTPFileData{content: content, mode: mode}
}

// File returns the stored content of path.
func (m *MockSFTPClient) File(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, false
	}
	return data.content, true
}

func (m *MockSFTPClient) err(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[method]
}

func (m *MockSFTPClient) Open(path string) (SFTPFile, error) {
	if err := m.err("Open"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	f := NewMockSFTPFile(data.content)
	f.readErr = m.readErr
	return f, nil
}

func (m *MockSFTPClient) Create(path string) (SFTPFile, error) {
	if err := m.err("Create"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.files[path] = &MockSFTPFileData{content: []byte{}, mode: 0644}
	m.mu.Unlock()

	f := NewMockSFTPFile(nil)
	f.onClose = func(content []byte) {
		m.SetFile(path, content, 0644)
	}
	return f, nil
}

func (m *MockSFTPClient) Remove(path string) error {
	if err := m.err("Remove"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, path)
	return nil
}

func (m *MockSFTPClient) Stat(p string) (os.FileInfo, error) {
	if err := m.err("Stat"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mockFileInfo{
		name:    path.Base(p),
		size:    int64(len(data.content)),
		mode:    data.mode,
		modTime: time.Now(),
	}, nil
}

func (m *MockSFTPClient) MkdirAll(p string) error {
	if err := m.err("MkdirAll"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[p] = true
	return nil
}

func (m *MockSFTPClient) Close() error {
	if err := m.err("Close"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
