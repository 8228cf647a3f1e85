package disk

import (
	"fmt"

	"permafrost/internal/config"
	"permafrost/internal/execx"
	"permafrost/internal/pf"
)

// NewProbeFromConfig creates a DiskProbe based on the disk config type.
func NewProbeFromConfig(cfg config.DiskConfig) (pf.DiskProbe, error) {
	switch cfg.Type {
	case "statfs", "":
		return NewStatfsProbe(), nil
	case "coreutils":
		df, du, err := LookCoreutils()
		if err != nil {
			return nil, fmt.Errorf("locating coreutils: %w", err)
		}
		return NewCoreutilsProbe(df, du, execx.ExecRunner{}), nil
	default:
		return nil, fmt.Errorf("unknown disk probe type: %s", cfg.Type)
	}
}
