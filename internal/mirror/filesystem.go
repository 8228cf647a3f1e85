package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"permafrost/internal/pf"
)

// FileSystemMirror stores catalog snapshots in a directory, typically on
// removable or network storage:
//
//	<root>/
//	  catalog/
//	    <hostID>.db       (latest snapshot)
//	    <hostID>.version  (operation id it contains)
type FileSystemMirror struct {
	name       string
	root       string
	catalogDir string
}

// NewFileSystemMirror creates a mirror rooted at root, creating the
// directory layout when missing.
func NewFileSystemMirror(name, root string) (*FileSystemMirror, error) {
	catalogDir := filepath.Join(root, "catalog")
	if err := os.MkdirAll(catalogDir, 0755); err != nil {
		return nil, fmt.Errorf("creating mirror directory: %w", err)
	}
	return &FileSystemMirror{name: name, root: root, catalogDir: catalogDir}, nil
}

func (m *FileSystemMirror) Name() string { return m.name }

func (m *FileSystemMirror) snapshotPath(hostID string) string {
	return filepath.Join(m.catalogDir, hostID+".db")
}

func (m *FileSystemMirror) versionPath(hostID string) string {
	return filepath.Join(m.catalogDir, hostID+".version")
}

// PutSnapshot writes the snapshot before its version, so a reader never
// sees a version newer than the stored snapshot.
func (m *FileSystemMirror) PutSnapshot(hostID string, r io.Reader, size int64, version int64) error {
	if err := atomicWrite(m.snapshotPath(hostID), r, size); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	v := strconv.FormatInt(version, 10)
	if err := atomicWrite(m.versionPath(hostID), strings.NewReader(v), int64(len(v))); err != nil {
		return fmt.Errorf("writing snapshot version: %w", err)
	}
	return nil
}

func (m *FileSystemMirror) GetSnapshot(hostID string, w io.Writer) error {
	f, err := os.Open(m.snapshotPath(hostID))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w for host %s", ErrNoSnapshot, hostID)
	}
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

func (m *FileSystemMirror) SnapshotVersion(hostID string) (int64, error) {
	data, err := os.ReadFile(m.versionPath(hostID))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the mirror directories exist.
func (m *FileSystemMirror) ValidateSetup() error {
	for _, dir := range []string{m.root, m.catalogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("mirror directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("mirror path is not a directory: %s", dir)
		}
	}
	return nil
}

// atomicWrite writes r to dest through a temp file in the same directory.
func atomicWrite(dest string, r io.Reader, size int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	committed = true
	return nil
}

var _ pf.Mirror = (*FileSystemMirror)(nil)
