package fs

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"permafrost/internal/pf"
)

// OSFilesystemManager is the real filesystem implementation of pf.FilesystemManager.
type OSFilesystemManager struct {
	ignore *IgnoreMatcher
}

// NewOSFilesystemManager creates a filesystem manager that excludes
// directories matching ignorePatterns when discovering tracked directories.
// Each root may add patterns in its own IgnoreFileName.
func NewOSFilesystemManager(ignorePatterns []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: NewIgnoreMatcher(ignorePatterns)}
}

// Resolve makes rawPath absolute, resolves symlinks and stats the result.
func (m *OSFilesystemManager) Resolve(rawPath string) (*pf.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	canonical, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("resolving symlinks: %w", err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if mode&os.ModeDevice != 0 {
		return nil, fmt.Errorf("device files not supported: %s", canonical)
	}
	if mode&os.ModeNamedPipe != 0 {
		return nil, fmt.Errorf("named pipes not supported: %s", canonical)
	}
	if mode&os.ModeSocket != 0 {
		return nil, fmt.Errorf("sockets not supported: %s", canonical)
	}

	return pf.NewPath(canonical, info.IsDir(), info), nil
}

// IsDir reports whether path is currently a directory. A path that does
// not exist is not an error.
func (m *OSFilesystemManager) IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

// FindTrackedDirectories returns the directories exactly depth levels below
// root, in lexical order. Hidden directories, symlinks and directories
// matching an ignore pattern are pruned with their subtrees. Depth 0
// returns root itself.
func (m *OSFilesystemManager) FindTrackedDirectories(root string, depth int) ([]string, error) {
	if depth < 0 {
		return nil, fmt.Errorf("depth must not be negative: %d", depth)
	}
	if depth == 0 {
		isDir, err := m.IsDir(root)
		if err != nil {
			return nil, err
		}
		if !isDir {
			return nil, fmt.Errorf("%w: %s", pf.ErrNotADirectory, root)
		}
		return []string{root}, nil
	}

	extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	ignore := m.ignore.With(extra)

	var tracked []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") || ignore.Match(rel) {
			return filepath.SkipDir
		}

		level := strings.Count(rel, string(filepath.Separator)) + 1
		if level == depth {
			tracked = append(tracked, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return tracked, nil
}

// Fingerprint hashes, for every regular file and symlink below dir in
// lexical walk order, the absolute path and modification time, plus the
// target of each symlink. Any file added, removed, renamed or touched and
// any symlink retargeted changes the result.
func (m *OSFilesystemManager) Fingerprint(dir string) (string, error) {
	h := blake3.New()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		symlink := d.Type()&fs.ModeSymlink != 0
		if !d.Type().IsRegular() && !symlink {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(info.ModTime().UTC().Format(time.RFC3339Nano)))
		h.Write([]byte{0})
		if symlink {
			target, err := os.Readlink(p)
			if err != nil {
				return fmt.Errorf("reading link %s: %w", p, err)
			}
			h.Write([]byte("->"))
			h.Write([]byte(target))
			h.Write([]byte{0})
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", dir, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MkdirAll creates path and any missing parents.
func (m *OSFilesystemManager) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// Compile-time check that OSFilesystemManager implements pf.FilesystemManager
var _ pf.FilesystemManager = (*OSFilesystemManager)(nil)
