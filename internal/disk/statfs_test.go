//go:build linux || darwin

package disk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestStatfsProbe_SpaceInfo(t *testing.T) {
	p := NewStatfsProbe()

	got, err := p.SpaceInfo(t.TempDir())
	if err != nil {
		t.Fatalf("SpaceInfo() error = %v", err)
	}
	if got.TotalMB <= 0 {
		t.Errorf("TotalMB = %d, want positive", got.TotalMB)
	}
	if got.AvailMB < 0 || got.AvailMB > got.TotalMB {
		t.Errorf("AvailMB = %d, want within [0, %d]", got.AvailMB, got.TotalMB)
	}

	if _, err := p.SpaceInfo(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("SpaceInfo() on missing path expected error")
	}
}

func TestStatfsProbe_RecursiveSize(t *testing.T) {
	p := NewStatfsProbe()
	dir := t.TempDir()

	write := func(rel string, size int) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("truncates to megabytes", func(t *testing.T) {
		write("small.bin", 1000)
		got, err := p.RecursiveSize(dir)
		if err != nil {
			t.Fatalf("RecursiveSize() error = %v", err)
		}
		if got != 0 {
			t.Errorf("RecursiveSize() = %d, want 0", got)
		}
	})

	t.Run("sums nested files", func(t *testing.T) {
		write("a/one.bin", 2*bytesPerMB)
		write("a/b/two.bin", bytesPerMB+bytesPerMB/2)
		got, err := p.RecursiveSize(dir)
		if err != nil {
			t.Fatalf("RecursiveSize() error = %v", err)
		}
		if got != 3 {
			t.Errorf("RecursiveSize() = %d, want 3", got)
		}
	})

	t.Run("hard links counted once", func(t *testing.T) {
		if err := os.Link(filepath.Join(dir, "a", "one.bin"), filepath.Join(dir, "link.bin")); err != nil {
			t.Skipf("hard links unsupported: %v", err)
		}
		got, err := p.RecursiveSize(dir)
		if err != nil {
			t.Fatalf("RecursiveSize() error = %v", err)
		}
		if got != 3 {
			t.Errorf("RecursiveSize() = %d, want 3", got)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		if _, err := p.RecursiveSize(filepath.Join(dir, "missing")); err == nil {
			t.Error("RecursiveSize() on missing path expected error")
		}
	})
}
