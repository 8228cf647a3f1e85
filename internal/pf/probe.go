package pf

// SpaceInfo is the size of the volume holding a path, in whole megabytes.
type SpaceInfo struct {
	TotalMB int64
	AvailMB int64
}

// DiskProbe reports volume and directory sizes. Megabyte truncation bounds
// the precision of the admission check.
type DiskProbe interface {
	// SpaceInfo returns total and available space of the volume holding path.
	SpaceInfo(path string) (*SpaceInfo, error)

	// RecursiveSize returns the size of everything below path in megabytes.
	RecursiveSize(path string) (int64, error)
}
