package mirror

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"permafrost/internal/pf"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemoryMirror keeps catalog snapshots in memory. It is safe for
// concurrent use.
type MemoryMirror struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot // hostID -> latest snapshot
}

// NewMemoryMirror creates an empty in-memory mirror.
func NewMemoryMirror(name string) *MemoryMirror {
	return &MemoryMirror{
		name:      name,
		snapshots: make(map[string]memorySnapshot),
	}
}

func (m *MemoryMirror) Name() string { return m.name }

func (m *MemoryMirror) PutSnapshot(hostID string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[hostID] = memorySnapshot{data: data, version: version}
	return nil
}

func (m *MemoryMirror) GetSnapshot(hostID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, ok := m.snapshots[hostID]
	if !ok {
		return fmt.Errorf("%w for host %s", ErrNoSnapshot, hostID)
	}
	if _, err := io.Copy(w, bytes.NewReader(snapshot.data)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (m *MemoryMirror) SnapshotVersion(hostID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[hostID].version, nil
}

// ValidateSetup always succeeds.
func (m *MemoryMirror) ValidateSetup() error {
	return nil
}

var _ pf.Mirror = (*MemoryMirror)(nil)
