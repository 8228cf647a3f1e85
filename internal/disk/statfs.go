//go:build linux || darwin

package disk

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/unix"

	"permafrost/internal/pf"
)

const bytesPerMB = 1 << 20

// StatfsProbe measures space with statfs(2) and directory sizes with a walk.
// It needs no external tools.
type StatfsProbe struct{}

// NewStatfsProbe creates a StatfsProbe.
func NewStatfsProbe() *StatfsProbe {
	return &StatfsProbe{}
}

// SpaceInfo returns the size and space available to unprivileged users of
// the volume holding path, truncated to whole megabytes.
func (p *StatfsProbe) SpaceInfo(path string) (*pf.SpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(stat.Bsize)
	return &pf.SpaceInfo{
		TotalMB: int64(uint64(stat.Blocks) * bsize / bytesPerMB),
		AvailMB: int64(uint64(stat.Bavail) * bsize / bytesPerMB),
	}, nil
}

type inode struct {
	dev uint64
	ino uint64
}

// RecursiveSize sums the apparent size of everything below path, counting
// hard-linked files once, truncated to whole megabytes. Symlinks are not
// followed.
func (p *StatfsProbe) RecursiveSize(path string) (int64, error) {
	var total int64
	seen := make(map[inode]bool)

	err := filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		var st unix.Stat_t
		if err := unix.Lstat(entry, &st); err != nil {
			return fmt.Errorf("lstat %s: %w", entry, err)
		}
		if st.Nlink > 1 && !d.IsDir() {
			key := inode{dev: uint64(st.Dev), ino: st.Ino}
			if seen[key] {
				return nil
			}
			seen[key] = true
		}
		total += st.Size
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measuring %s: %w", path, err)
	}
	return total / bytesPerMB, nil
}

// Compile-time check that StatfsProbe implements pf.DiskProbe
var _ pf.DiskProbe = (*StatfsProbe)(nil)
