package encryption

import (
	"testing"

	"permafrost/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantNil bool
		wantErr bool
	}{
		{"age", config.EncryptionConfig{Type: "age", PublicKeyPath: "/k/pub", PrivateKeyPath: "/k/key"}, false, false},
		{"default is age", config.EncryptionConfig{PublicKeyPath: "/k/pub", PrivateKeyPath: "/k/key"}, false, false},
		{"age without keys", config.EncryptionConfig{Type: "age"}, true, true},
		{"none", config.EncryptionConfig{Type: "none"}, true, false},
		{"test", config.EncryptionConfig{Type: "test"}, false, false},
		{"unknown", config.EncryptionConfig{Type: "rot13"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (enc == nil) != tt.wantNil {
				t.Errorf("encryptor = %v, wantNil %v", enc, tt.wantNil)
			}
		})
	}
}
