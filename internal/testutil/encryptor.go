package testutil

import (
	"pd-go/internal/encryption"
)

// NewTestCipher returns a Sealer over the test encryptor. It never prompts.
func NewTestCipher() *encryption.Sealer {
	return encryption.NewSealer(encryption.NewTestEncryptor(), func() (string, error) {
		return "test", nil
	})
}
