package netcopy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPClient abstracts the SFTP operations used by SFTPSession.
type SFTPClient interface {
	Open(path string) (SFTPFile, error)
	Create(path string) (SFTPFile, error)
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string) error
	Close() error
}

// SFTPFile abstracts remote file operations.
type SFTPFile interface {
	io.Reader
	io.Writer
	io.Closer
}

type sftpClientWrapper struct {
	client *sftp.Client
}

var _ SFTPClient = (*sftpClientWrapper)(nil)

func (w *sftpClientWrapper) Open(path string) (SFTPFile, error)    { return w.client.Open(path) }
func (w *sftpClientWrapper) Create(path string) (SFTPFile, error)  { return w.client.Create(path) }
func (w *sftpClientWrapper) Remove(path string) error              { return w.client.Remove(path) }
func (w *sftpClientWrapper) Stat(path string) (os.FileInfo, error) { return w.client.Stat(path) }
func (w *sftpClientWrapper) MkdirAll(path string) error            { return w.client.MkdirAll(path) }
func (w *sftpClientWrapper) Close() error                          { return w.client.Close() }

// SFTPSession runs file operations over a pooled SSH session. Closing it closes only
// the SFTP channel; the SSH session stays in the pool.
type SFTPSession struct {
	client SFTPClient
}

// OpenSFTP starts the SFTP subsystem on an SSH handle obtained from a Pool.
// It returns ErrNotSSHHandle for FTP handles and for SSH transports that do not
// expose an *ssh.Client.
func OpenSFTP(h Handle, opts ...sftp.ClientOption) (*SFTPSession, error) {
	sshClient, err := sshClientOf(h)
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(sshClient, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}
	return NewSFTPSession(&sftpClientWrapper{client: client}), nil
}

// NewSFTPSession wraps an existing SFTP client.
func NewSFTPSession(client SFTPClient) *SFTPSession {
	return &SFTPSession{client: client}
}

func sshClientOf(h Handle) (*ssh.Client, error) {
	sh, ok := h.(*SSHHandle)
	if !ok {
		return nil, ErrNotSSHHandle
	}
	provider, ok := sh.Client().(interface{ Client() *ssh.Client })
	if !ok {
		return nil, fmt.Errorf("%w: transport %T has no *ssh.Client", ErrNotSSHHandle, sh.Client())
	}
	client := provider.Client()
	if client == nil {
		return nil, fmt.Errorf("%w: session is not authenticated", ErrNotSSHHandle)
	}
	return client, nil
}

// Close closes the SFTP channel.
func (s *SFTPSession) Close() error {
	return s.client.Close()
}

// Upload copies a local file to remotePath, creating parent directories as needed.
func (s *SFTPSession) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation cancelled: %w", err)
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	remoteDir := path.Dir(remotePath)
	if remoteDir != "" && remoteDir != "/" && remoteDir != "." {
		if err := s.client.MkdirAll(remoteDir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", remoteDir, err)
		}
	}

	remoteFile, err := s.client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	if err := copyWithContext(ctx, remoteFile, localFile); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// Download copies remotePath to a local file, replacing it if present.
func (s *SFTPSession) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation cancelled: %w", err)
	}

	remoteFile, err := s.client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	if err := copyWithContext(ctx, localFile, remoteFile); err != nil {
		localFile.Close()
		return fmt.Errorf("download: %w", err)
	}
	return localFile.Close()
}

// Hash returns the SHA256 of a remote file as "sha256:<hex>".
func (s *SFTPSession) Hash(ctx context.Context, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("operation cancelled: %w", err)
	}

	file, err := s.client.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if err := copyWithContext(ctx, h, file); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// ReadFile reads a remote file, at most maxBytes of it when maxBytes > 0.
func (s *SFTPSession) ReadFile(ctx context.Context, remotePath string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("operation cancelled: %w", err)
	}

	file, err := s.client.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if maxBytes > 0 {
		reader = io.LimitReader(file, maxBytes)
	}

	type result struct {
		content []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, err := io.ReadAll(reader)
		done <- result{content, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("read cancelled: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to read remote file: %w", r.err)
		}
		return r.content, nil
	}
}

// Delete removes a remote file. A missing file is not an error.
func (s *SFTPSession) Delete(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation cancelled: %w", err)
	}

	if err := s.client.Remove(remotePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// Exists reports whether remotePath exists.
func (s *SFTPSession) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("operation cancelled: %w", err)
	}

	_, err := s.client.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns information about a remote file.
func (s *SFTPSession) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("operation cancelled: %w", err)
	}
	return s.client.Stat(remotePath)
}

// copyWithContext returns when the copy finishes or ctx is done, whichever is first.
// On cancellation the copy goroutine ends once the caller closes src or dst.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(dst, src)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to copy file content: %w", err)
		}
		return nil
	}
}
