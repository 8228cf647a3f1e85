// Package mirror stores copies of the catalog database off-host so a lost
// or corrupted catalog can be restored.
package mirror

import (
	"errors"
	"fmt"

	"permafrost/internal/config"
	"permafrost/internal/pf"
)

// ErrNoSnapshot is returned by GetSnapshot when a host has no snapshot.
var ErrNoSnapshot = errors.New("no catalog snapshot")

// NewMirrorFromConfig creates a Mirror implementation based on the mirror
// config type.
func NewMirrorFromConfig(cfg config.MirrorConfig) (pf.Mirror, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryMirror(cfg.Name), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem mirror %q requires fs_root to be set", cfg.Name)
		}
		return NewFileSystemMirror(cfg.Name, cfg.FSRoot)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 mirror %q requires s3_bucket to be set", cfg.Name)
		}
		return NewS3MirrorFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}

// NewMirrorsFromConfig creates every configured mirror.
func NewMirrorsFromConfig(cfgs []config.MirrorConfig) ([]pf.Mirror, error) {
	mirrors := make([]pf.Mirror, 0, len(cfgs))
	for _, cfg := range cfgs {
		m, err := NewMirrorFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, m)
	}
	return mirrors, nil
}
