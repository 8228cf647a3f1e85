package encryption

import (
	"bytes"
	"fmt"
	"io"

	"permafrost/internal/pf"
)

// testMagic marks data "encrypted" by TestEncryptor.
var testMagic = []byte("PFTEST\x00\x01")

// TestEncryptor is a reversible stand-in for tests. It prefixes data with
// a marker so encrypted output differs from the plaintext, and checks the
// passphrase given to Unlock against the one given to Setup.
type TestEncryptor struct {
	passphrase string
	configured bool
}

var _ pf.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (pf.DecryptionContext, error) {
	if e.configured && passphrase != e.passphrase {
		return nil, fmt.Errorf("wrong passphrase")
	}
	return testDecrypter{}, nil
}

// IsConfigured is always true so the encryptor works without Setup.
func (e *TestEncryptor) IsConfigured() bool {
	return true
}

type testDecrypter struct{}

func (testDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, marker); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(marker, testMagic) {
		return fmt.Errorf("data was not encrypted by TestEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
