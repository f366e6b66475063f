package netcopy

import (
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// KeyDecoder turns a PEM-encoded private key into a signer. Implementations must
// return once ctx is done.
type KeyDecoder interface {
	DecodePEM(ctx context.Context, pem string) (ssh.Signer, error)
}

// KeyDecoderFunc adapts a function to KeyDecoder.
type KeyDecoderFunc func(ctx context.Context, pem string) (ssh.Signer, error)

func (f KeyDecoderFunc) DecodePEM(ctx context.Context, pem string) (ssh.Signer, error) {
	return f(ctx, pem)
}

// PEMKeyDecoder decodes keys with golang.org/x/crypto/ssh.
type PEMKeyDecoder struct {
	// Passphrase decrypts encrypted keys. Empty for unencrypted keys.
	Passphrase []byte
}

var _ KeyDecoder = PEMKeyDecoder{}

func (d PEMKeyDecoder) DecodePEM(ctx context.Context, pem string) (ssh.Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("key decode cancelled: %w", err)
	}

	type result struct {
		signer ssh.Signer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if len(d.Passphrase) > 0 {
			r.signer, r.err = ssh.ParsePrivateKeyWithPassphrase([]byte(pem), d.Passphrase)
		} else {
			r.signer, r.err = ssh.ParsePrivateKey([]byte(pem))
		}
		done <- r
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("key decode cancelled: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to parse SSH private key: %w", r.err)
		}
		return r.signer, nil
	}
}
