package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealer_RoundTrip(t *testing.T) {
	calls := 0
	s := NewSealer(NewTestEncryptor(), func() (string, error) {
		calls++
		return "secret", nil
	})

	var sealed bytes.Buffer
	if err := s.Encrypt(bytes.NewReader([]byte("photo")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("passphrase requested %d times during Encrypt, want 0", calls)
	}

	for range 2 {
		var plain bytes.Buffer
		if err := s.Decrypt(bytes.NewReader(sealed.Bytes()), &plain); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if plain.String() != "photo" {
			t.Errorf("Decrypt() = %q, want %q", plain.String(), "photo")
		}
	}
	if calls != 1 {
		t.Errorf("passphrase requested %d times, want 1", calls)
	}
}

func TestSealer_NoPassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase func() (string, error)
	}{
		{name: "nil source", passphrase: nil},
		{name: "empty passphrase", passphrase: func() (string, error) { return "", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSealer(NewTestEncryptor(), tt.passphrase)
			var out bytes.Buffer
			err := s.Decrypt(bytes.NewReader(append(bytes.Clone(sealMagic), 'x')), &out)
			if !errors.Is(err, ErrNoPassphrase) {
				t.Errorf("Decrypt() error = %v, want ErrNoPassphrase", err)
			}
		})
	}
}

func TestSealer_PassphraseError(t *testing.T) {
	boom := errors.New("no terminal")
	s := NewSealer(NewTestEncryptor(), func() (string, error) { return "", boom })
	var out bytes.Buffer
	if err := s.Decrypt(bytes.NewReader(sealMagic), &out); !errors.Is(err, boom) {
		t.Errorf("Decrypt() error = %v, want %v", err, boom)
	}
}

func TestSealer_WithAge(t *testing.T) {
	e := newTestAgeEncryptor(t)
	if err := e.Setup("pass"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	s := NewSealer(e, func() (string, error) { return "pass", nil })

	var sealed, plain bytes.Buffer
	if err := s.Encrypt(bytes.NewReader([]byte("raw bytes")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if err := s.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != "raw bytes" {
		t.Errorf("Decrypt() = %q", plain.String())
	}
}
