// Package encryption seals object bodies of encrypted remote libraries.
package encryption

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Encryptor encrypts with the public key alone. Decryption needs the
// private key, unlocked with a passphrase into a DecryptionContext.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext and
	// encrypts the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key. It fails for a wrong passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// ErrNoPassphrase is returned by a Sealer whose passphrase source yields nothing.
var ErrNoPassphrase = errors.New("no passphrase available to unlock the private key")

// Sealer encrypts and decrypts object bodies. The private key is unlocked on
// the first Decrypt, so libraries that are only written never prompt.
type Sealer struct {
	enc        Encryptor
	passphrase func() (string, error)

	mu  sync.Mutex
	dec DecryptionContext
}

// NewSealer pairs enc with a passphrase source used to unlock it.
func NewSealer(enc Encryptor, passphrase func() (string, error)) *Sealer {
	return &Sealer{enc: enc, passphrase: passphrase}
}

func (s *Sealer) Encrypt(r io.Reader, w io.Writer) error {
	return s.enc.Encrypt(r, w)
}

func (s *Sealer) Decrypt(r io.Reader, w io.Writer) error {
	dec, err := s.unlock()
	if err != nil {
		return err
	}
	return dec.Decrypt(r, w)
}

func (s *Sealer) unlock() (DecryptionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec != nil {
		return s.dec, nil
	}
	if s.passphrase == nil {
		return nil, ErrNoPassphrase
	}
	pass, err := s.passphrase()
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if pass == "" {
		return nil, ErrNoPassphrase
	}
	dec, err := s.enc.Unlock(pass)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	s.dec = dec
	return dec, nil
}
