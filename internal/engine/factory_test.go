package engine

import (
	"testing"

	"permafrost/internal/config"
	"permafrost/internal/pf"
)

func TestNewEngineFromConfig(t *testing.T) {
	t.Run("memory engine", func(t *testing.T) {
		got, err := NewEngineFromConfig(config.EngineConfig{Type: "memory"}, "", pf.NewNopLogger())
		if err != nil {
			t.Fatalf("NewEngineFromConfig() error = %v", err)
		}
		if _, ok := got.(*MemoryEngine); !ok {
			t.Errorf("NewEngineFromConfig() = %T, want *MemoryEngine", got)
		}
	})

	t.Run("borg binary missing", func(t *testing.T) {
		cfg := config.EngineConfig{Type: "borg", Binary: "permafrost-no-such-borg"}
		got, err := NewEngineFromConfig(cfg, "", pf.NewNopLogger())
		if err == nil {
			t.Error("NewEngineFromConfig() expected error for missing binary")
		}
		if got != nil {
			t.Error("NewEngineFromConfig() should return nil on error")
		}
	})

	t.Run("unknown engine type", func(t *testing.T) {
		_, err := NewEngineFromConfig(config.EngineConfig{Type: "restic"}, "", pf.NewNopLogger())
		if err == nil {
			t.Error("NewEngineFromConfig() expected error for unknown type")
		}
	})
}
