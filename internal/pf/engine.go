package pf

import "time"

// SnapshotTimeFormat is the timestamp layout used by the archive engine.
const SnapshotTimeFormat = "2006-01-02T15:04:05.000000"

// Snapshot is a single archive held in a repository.
type Snapshot struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
}

// Repository identifies an archive repository.
type Repository struct {
	ID           string    `json:"id"`
	Location     string    `json:"location"`
	LastModified time.Time `json:"last_modified"`
}

// ListResult is the content of a repository.
type ListResult struct {
	Archives   []*Snapshot `json:"archives"`
	Repository Repository  `json:"repository"`
}

// CreateResult describes a snapshot that was just written.
type CreateResult struct {
	Archive    Snapshot   `json:"archive"`
	Repository Repository `json:"repository"`
}

// ArchiveEngine wraps a repository-oriented backup tool. Every operation is
// addressed by a repository location. Snapshots created for a name are
// stored as "<name>.<timestamp>", so a name acts as a prefix selecting all
// snapshots of one directory.
//
// Calls are synchronous; the engine serializes access to a repository itself.
type ArchiveEngine interface {
	// Init creates a repository with the given encryption mode.
	Init(location string, encryptionMode string) error

	// List returns all snapshots in the repository.
	List(location string) (*ListResult, error)

	// Create snapshots sourcePath under name. In dry-run mode nothing is
	// written and the result may be nil.
	Create(location, name, sourcePath, compression string, dryRun bool) (*CreateResult, error)

	// Delete removes every snapshot stored under name.
	Delete(location, name string, dryRun bool) error

	// Prune removes all but the newest keepLast snapshots stored under name.
	Prune(location, name string, keepLast int, dryRun bool) error

	// Rename renames a single snapshot.
	Rename(location, oldName, newName string, dryRun bool) error

	// Extract restores a snapshot into destPath.
	Extract(location, snapshotName, destPath string, dryRun bool) error

	// Check verifies the consistency of a snapshot, optionally repairing it.
	Check(location, snapshotName string, repair bool) error
}
