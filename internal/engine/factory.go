package engine

import (
	"fmt"

	"permafrost/internal/config"
	"permafrost/internal/execx"
	"permafrost/internal/pf"
)

// NewEngineFromConfig creates an ArchiveEngine based on the engine config type.
// For borg the binary is located and verified first.
func NewEngineFromConfig(cfg config.EngineConfig, passphrase string, logger pf.Logger) (pf.ArchiveEngine, error) {
	switch cfg.Type {
	case "borg", "":
		binary := cfg.Binary
		if binary == "" {
			binary = "borg"
		}
		path, err := LookBorg(binary)
		if err != nil {
			return nil, fmt.Errorf("locating borg: %w", err)
		}
		return NewBorgEngine(path, passphrase, execx.ExecRunner{}, logger), nil
	case "memory":
		return NewMemoryEngine(pf.RealClock{}), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %s", cfg.Type)
	}
}
