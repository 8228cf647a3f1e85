package testutil

import (
	"sync"
	"testing"

	"permafrost/internal/database"
	"permafrost/internal/model"
	"permafrost/internal/pf"
)

// NewTestCatalog creates an in-memory catalog with all migrations applied.
// It is closed when the test completes.
func NewTestCatalog(t *testing.T) *database.SQLiteCatalog {
	t.Helper()

	catalog, err := database.NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	if err := catalog.Migrate(); err != nil {
		catalog.Close()
		t.Fatalf("migrating catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

// CountingCatalog wraps a catalog and counts calls that modify it.
type CountingCatalog struct {
	pf.Catalog

	mu     sync.Mutex
	writes map[string]int
}

func NewCountingCatalog(inner pf.Catalog) *CountingCatalog {
	return &CountingCatalog{Catalog: inner, writes: make(map[string]int)}
}

func (c *CountingCatalog) count(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes[method]++
}

// Writes returns the number of modifying calls of method, or of all
// modifying methods when method is empty.
func (c *CountingCatalog) Writes(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if method != "" {
		return c.writes[method]
	}
	n := 0
	for _, v := range c.writes {
		n += v
	}
	return n
}

// Reset zeroes the counters.
func (c *CountingCatalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = make(map[string]int)
}

func (c *CountingCatalog) CreateRootDirectory(root *model.RootDirectory) error {
	c.count("CreateRootDirectory")
	return c.Catalog.CreateRootDirectory(root)
}

func (c *CountingCatalog) DeleteRootDirectory(id string) error {
	c.count("DeleteRootDirectory")
	return c.Catalog.DeleteRootDirectory(id)
}

func (c *CountingCatalog) CreateDirectory(directory *model.Directory) error {
	c.count("CreateDirectory")
	return c.Catalog.CreateDirectory(directory)
}

func (c *CountingCatalog) UpdateDirectoryFingerprint(id string, fingerprint string) error {
	c.count("UpdateDirectoryFingerprint")
	return c.Catalog.UpdateDirectoryFingerprint(id, fingerprint)
}

func (c *CountingCatalog) DeleteDirectory(id string) error {
	c.count("DeleteDirectory")
	return c.Catalog.DeleteDirectory(id)
}

func (c *CountingCatalog) CreateArchive(archive *model.Archive) error {
	c.count("CreateArchive")
	return c.Catalog.CreateArchive(archive)
}

func (c *CountingCatalog) UpdateArchive(archive *model.Archive) error {
	c.count("UpdateArchive")
	return c.Catalog.UpdateArchive(archive)
}

func (c *CountingCatalog) DeleteArchive(id string) error {
	c.count("DeleteArchive")
	return c.Catalog.DeleteArchive(id)
}

var _ pf.Catalog = (*CountingCatalog)(nil)
