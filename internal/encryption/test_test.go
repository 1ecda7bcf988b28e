package encryption

import (
	"bytes"
	"errors"
	"testing"
)

// jpegBody looks like the start of a camera JPEG.
var jpegBody = append([]byte{0xff, 0xd8, 0xff, 0xe1}, bytes.Repeat([]byte("Exif"), 4096)...)

func TestTestEncryptor_SealsPhotoBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body []byte
	}{
		{name: "jpeg", body: jpegBody},
		{name: "sidecar", body: []byte(`{"version":1,"images":{"a":{"rating":3}}}`)},
		{name: "empty object", body: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSealer(NewTestEncryptor(), func() (string, error) { return "pass", nil })

			var sealed bytes.Buffer
			if err := s.Encrypt(bytes.NewReader(tt.body), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !IsSealed(sealed.Bytes()) {
				t.Fatalf("sealed body %q lacks the seal", sealed.Bytes()[:min(16, sealed.Len())])
			}
			if IsSealed(tt.body) {
				t.Error("plain body reported as sealed")
			}

			var opened bytes.Buffer
			if err := s.Decrypt(&sealed, &opened); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.body) {
				t.Errorf("opened %d bytes, want %d", opened.Len(), len(tt.body))
			}
		})
	}
}

func TestTestEncryptor_Passphrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   string
		unlock  string
		wantErr error
	}{
		{name: "no setup accepts anything", unlock: "whatever"},
		{name: "matching passphrase", setup: "s3cret", unlock: "s3cret"},
		{name: "wrong passphrase", setup: "s3cret", unlock: "guess", wantErr: ErrWrongPassphrase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewTestEncryptor()
			if tt.setup != "" {
				if err := e.Setup(tt.setup); err != nil {
					t.Fatalf("Setup() error = %v", err)
				}
			}
			_, err := e.Unlock(tt.unlock)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Unlock() error = %v, want %v", err, tt.wantErr)
			}
			wantUnlocks := 1
			if tt.wantErr != nil {
				wantUnlocks = 0
			}
			if e.Unlocks() != wantUnlocks {
				t.Errorf("Unlocks() = %d, want %d", e.Unlocks(), wantUnlocks)
			}
		})
	}

	t.Run("empty setup passphrase", func(t *testing.T) {
		t.Parallel()
		if err := NewTestEncryptor().Setup(""); !errors.Is(err, ErrNoPassphrase) {
			t.Errorf("Setup(\"\") error = %v, want ErrNoPassphrase", err)
		}
	})
}

func TestTestEncryptor_SealerUnlocksOnce(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup("pass"); err != nil {
		t.Fatal(err)
	}
	s := NewSealer(e, func() (string, error) { return "pass", nil })

	var sealed bytes.Buffer
	if err := s.Encrypt(bytes.NewReader(jpegBody), &sealed); err != nil {
		t.Fatal(err)
	}
	if e.Unlocks() != 0 {
		t.Errorf("Unlocks() = %d after writing, want 0", e.Unlocks())
	}
	for range 3 {
		var out bytes.Buffer
		if err := s.Decrypt(bytes.NewReader(sealed.Bytes()), &out); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
	}
	if e.Unlocks() != 1 {
		t.Errorf("Unlocks() = %d after three reads, want 1", e.Unlocks())
	}
}

func TestTestEncryptor_WrongPassphraseThroughSealer(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup("right"); err != nil {
		t.Fatal(err)
	}
	s := NewSealer(e, func() (string, error) { return "wrong", nil })

	var out bytes.Buffer
	err := s.Decrypt(bytes.NewReader(append(bytes.Clone(sealMagic), jpegBody...)), &out)
	if !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Decrypt() error = %v, want ErrWrongPassphrase", err)
	}
	if out.Len() != 0 {
		t.Errorf("wrote %d bytes despite the failed unlock", out.Len())
	}
}

func TestUnsealer_RejectsPlainBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body []byte
	}{
		{name: "plain jpeg", body: jpegBody},
		{name: "truncated seal", body: sealMagic[:3]},
		{name: "empty", body: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			if err := (unsealer{}).Decrypt(bytes.NewReader(tt.body), &out); !errors.Is(err, ErrNotSealed) {
				t.Errorf("Decrypt() error = %v, want ErrNotSealed", err)
			}
		})
	}
}
