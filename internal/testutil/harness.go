package testutil

import (
	"testing"

	"permafrost/internal/engine"
	"permafrost/internal/pf"
)

// TestRepository is the repository location prepared by NewHarness.
const TestRepository = "/backup/repo"

// Harness wires a Service to in-memory collaborators.
type Harness struct {
	Catalog *CountingCatalog
	Engine  *engine.MemoryEngine
	Probe   *FakeProbe
	FS      *MockFilesystemManager
	Clock   *StubClock
	IDs     *SequenceIDs
	Service *pf.Service
}

// NewHarness creates a Service over an empty catalog and an initialized
// memory repository at TestRepository.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	h := &Harness{
		Catalog: NewCountingCatalog(NewTestCatalog(t)),
		Probe:   NewFakeProbe(),
		FS:      NewMockFilesystemManager(),
		Clock:   FixedClock(),
		IDs:     NewSequenceIDs(""),
	}
	h.Engine = engine.NewMemoryEngine(h.Clock)
	if err := h.Engine.Init(TestRepository, "none"); err != nil {
		t.Fatalf("initializing test repository: %v", err)
	}
	h.FS.AddDirectory(TestRepository)
	h.Service = pf.NewService(h.Catalog, h.Engine, h.Probe, h.FS, pf.NewNopLogger(), h.Clock, h.IDs)
	return h
}

// Watch resolves path in the mock filesystem and watches it at depth.
func (h *Harness) Watch(t *testing.T, path string, depth int) string {
	t.Helper()
	p, err := h.FS.Resolve(path)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", path, err)
	}
	root, err := h.Service.Watch(p, depth)
	if err != nil {
		t.Fatalf("Watch(%s) error = %v", path, err)
	}
	return root.ID
}

// Scan scans and fails the test on error.
func (h *Harness) Scan(t *testing.T) *pf.ScanReport {
	t.Helper()
	report, err := h.Service.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return report
}

// DirectoryID returns the id of the tracked directory at path.
func (h *Harness) DirectoryID(t *testing.T, path string) string {
	t.Helper()
	d, err := h.Catalog.FindDirectoryByPath(path)
	if err != nil || d == nil {
		t.Fatalf("FindDirectoryByPath(%s) = %v, %v", path, d, err)
	}
	return d.ID
}
