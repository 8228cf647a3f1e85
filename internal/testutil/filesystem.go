package testutil

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"permafrost/internal/pf"
)

// MockFilesystemManager is an in-memory directory tree. A directory's
// fingerprint changes whenever it or anything below it is touched.
type MockFilesystemManager struct {
	mu       sync.Mutex
	dirs     map[string]int // path -> content version
	files    map[string]bool
	failing  map[string]error
	mkdirLog []string
}

func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		dirs:    make(map[string]int),
		files:   make(map[string]bool),
		failing: make(map[string]error),
	}
}

// addDirLocked adds path and its missing parents.
func (m *MockFilesystemManager) addDirLocked(path string) {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, ok := m.dirs[p]; !ok {
			m.dirs[p] = 1
		}
		if p == filepath.Dir(p) {
			return
		}
	}
}

// AddDirectory adds a directory and its missing parents.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDirLocked(path)
}

// AddFile adds a regular file; its parent directories are created.
func (m *MockFilesystemManager) AddFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDirLocked(filepath.Dir(path))
	m.files[filepath.Clean(path)] = true
}

// Touch modifies the content of a directory, changing its fingerprint and
// those of its ancestors.
func (m *MockFilesystemManager) Touch(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, ok := m.dirs[p]; ok {
			m.dirs[p]++
		}
		if p == filepath.Dir(p) {
			return
		}
	}
}

// Remove deletes path and everything below it.
func (m *MockFilesystemManager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	for p := range m.dirs {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(m.dirs, p)
		}
	}
	delete(m.files, path)
}

// Fail makes Fingerprint and FindTrackedDirectories fail for path.
func (m *MockFilesystemManager) Fail(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[filepath.Clean(path)] = err
}

// Created returns the paths passed to MkdirAll.
func (m *MockFilesystemManager) Created() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.mkdirLog...)
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*pf.Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}
	if _, ok := m.dirs[path]; ok {
		return pf.NewPath(path, true, mockInfo{name: filepath.Base(path), dir: true}), nil
	}
	if m.files[path] {
		return pf.NewPath(path, false, mockInfo{name: filepath.Base(path)}), nil
	}
	return nil, &fs.PathError{Op: "resolve", Path: path, Err: fs.ErrNotExist}
}

func (m *MockFilesystemManager) IsDir(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dirs[filepath.Clean(path)]
	return ok, nil
}

func (m *MockFilesystemManager) FindTrackedDirectories(root string, depth int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root = filepath.Clean(root)
	if err := m.failing[root]; err != nil {
		return nil, err
	}
	if _, ok := m.dirs[root]; !ok {
		return nil, fmt.Errorf("%w: %s", pf.ErrNotADirectory, root)
	}
	if depth == 0 {
		return []string{root}, nil
	}

	var found []string
	for p := range m.dirs {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != depth || hasHidden(parts) {
			continue
		}
		found = append(found, p)
	}
	sort.Strings(found)
	return found, nil
}

func hasHidden(parts []string) bool {
	for _, part := range parts {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (m *MockFilesystemManager) Fingerprint(dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir = filepath.Clean(dir)
	if err := m.failing[dir]; err != nil {
		return "", err
	}
	version, ok := m.dirs[dir]
	if !ok {
		return "", &fs.PathError{Op: "fingerprint", Path: dir, Err: fs.ErrNotExist}
	}
	return fmt.Sprintf("fp:%s:%d", dir, version), nil
}

func (m *MockFilesystemManager) MkdirAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDirLocked(path)
	m.mkdirLog = append(m.mkdirLog, filepath.Clean(path))
	return nil
}

type mockInfo struct {
	name string
	dir  bool
}

func (i mockInfo) Name() string { return i.name }
func (i mockInfo) Size() int64  { return 0 }
func (i mockInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0755
	}
	return 0644
}
func (i mockInfo) ModTime() time.Time { return time.Time{} }
func (i mockInfo) IsDir() bool        { return i.dir }
func (i mockInfo) Sys() any           { return nil }

var _ pf.FilesystemManager = (*MockFilesystemManager)(nil)
