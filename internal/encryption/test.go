package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// sealMagic starts every object body written by TestEncryptor, so sealed
// photos stay recognisable in a bucket listing.
var sealMagic = []byte("PDSEAL1\n")

var (
	// ErrWrongPassphrase is returned by TestEncryptor.Unlock for a passphrase
	// other than the one given to Setup.
	ErrWrongPassphrase = errors.New("wrong passphrase")

	// ErrNotSealed is returned when decrypting a body TestEncryptor did not write.
	ErrNotSealed = errors.New("object body is not sealed")
)

// TestEncryptor backs the "test" encryption type. Bodies are framed, not
// encrypted. Once Setup ran, Unlock accepts only that passphrase, so the
// passphrase handling of a Sealer can be exercised without age keys.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
	unlocks    int
}

var _ Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return ErrNoPassphrase
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(sealMagic); err != nil {
		return fmt.Errorf("writing seal: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("sealing body: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	e.unlocks++
	return unsealer{}, nil
}

// Unlocks returns how often Unlock succeeded.
func (e *TestEncryptor) Unlocks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocks
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// IsSealed reports whether body was written by TestEncryptor.
func IsSealed(body []byte) bool {
	return bytes.HasPrefix(body, sealMagic)
}

// unsealer strips the seal written by TestEncryptor.
type unsealer struct{}

func (unsealer) Decrypt(r io.Reader, w io.Writer) error {
	magic := make([]byte, len(sealMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrNotSealed
		}
		return fmt.Errorf("reading seal: %w", err)
	}
	if !bytes.Equal(magic, sealMagic) {
		return ErrNotSealed
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("unsealing body: %w", err)
	}
	return nil
}
