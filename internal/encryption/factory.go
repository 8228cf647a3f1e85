package encryption

import (
	"fmt"

	"permafrost/internal/config"
	"permafrost/internal/pf"
)

// NewEncryptorFromConfig creates the Encryptor for catalog snapshots.
// Type "none" returns a nil Encryptor: snapshots are mirrored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (pf.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "none":
		return nil, nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
