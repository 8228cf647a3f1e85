package pf

import "io"

// Mirror stores copies of the catalog database off-host. Every snapshot
// carries a version, the id of the last operation it contains, so a host
// can tell whether its local catalog is behind the mirrored one.
type Mirror interface {
	// Name identifies the mirror in logs and errors.
	Name() string

	// PutSnapshot stores a catalog snapshot for hostID, replacing any
	// previous one. size must match the number of bytes read from r.
	PutSnapshot(hostID string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the latest snapshot of hostID to w.
	GetSnapshot(hostID string, w io.Writer) error

	// SnapshotVersion returns the version of the latest snapshot of hostID,
	// or 0 when the mirror holds none.
	SnapshotVersion(hostID string) (int64, error)

	// ValidateSetup verifies that the mirror is reachable and writable.
	ValidateSetup() error
}
