package pf

import "permafrost/internal/model"

// Catalog provides keyed persistence for watched roots, tracked directories,
// archives and operation records. Find* methods return (nil, nil) when the
// row does not exist. Any other error is fatal to the calling operation.
type Catalog interface {
	// Root directory operations

	// CreateRootDirectory inserts a watch target. Paths are unique.
	CreateRootDirectory(root *model.RootDirectory) error

	// FindRootDirectoryByID returns the root with the given id.
	FindRootDirectoryByID(id string) (*model.RootDirectory, error)

	// FindRootDirectoryByPath returns the root with an exact path match.
	FindRootDirectoryByPath(path string) (*model.RootDirectory, error)

	// ListRootDirectories returns all roots ordered by path.
	ListRootDirectories() ([]*model.RootDirectory, error)

	// DeleteRootDirectory removes a root and, by cascade, its directories.
	DeleteRootDirectory(id string) error

	// Directory operations

	// CreateDirectory inserts a tracked directory.
	CreateDirectory(directory *model.Directory) error

	// FindDirectoryByID returns the directory with the given id.
	FindDirectoryByID(id string) (*model.Directory, error)

	// FindDirectoryByPath returns the directory with an exact path match.
	FindDirectoryByPath(path string) (*model.Directory, error)

	// ListDirectories returns all tracked directories ordered by path.
	ListDirectories() ([]*model.Directory, error)

	// FindDirectoriesWithoutArchive returns the directories of a root that
	// have no archive, ordered by path.
	FindDirectoriesWithoutArchive(rootDirectoryID string) ([]*model.Directory, error)

	// FindDirectoriesWithArchive returns the directories of a root that
	// have an archive, ordered by path.
	FindDirectoriesWithArchive(rootDirectoryID string) ([]*model.Directory, error)

	// UpdateDirectoryFingerprint stores a new fingerprint for a directory.
	UpdateDirectoryFingerprint(id string, fingerprint string) error

	// DeleteDirectory removes a directory. Archives that reference it are
	// left in place.
	DeleteDirectory(id string) error

	// Archive operations

	// CreateArchive inserts an archive record.
	CreateArchive(archive *model.Archive) error

	// FindArchiveByID returns the archive with the given id.
	FindArchiveByID(id string) (*model.Archive, error)

	// FindArchiveByDirectoryID returns the archive linked to a directory.
	FindArchiveByDirectoryID(directoryID string) (*model.Archive, error)

	// FindArchivesByName returns the archives recorded under name, oldest
	// first. Names are derived from paths and can collide.
	FindArchivesByName(name string) ([]*model.Archive, error)

	// FindArchiveByEngineID returns the archive recorded for a snapshot.
	FindArchiveByEngineID(repositoryID, engineArchiveID string) (*model.Archive, error)

	// ListArchives returns all archives ordered by name.
	ListArchives() ([]*model.Archive, error)

	// UpdateArchive stores the snapshot fields of an archive: repository id,
	// engine archive id and name, created time and fingerprint.
	UpdateArchive(archive *model.Archive) error

	// DeleteArchive removes an archive record.
	DeleteArchive(id string) error

	// Operation tracking

	// CreateOperation records the start of a mutating command.
	CreateOperation(operation string, parameters string) (*model.Operation, error)

	// FinishOperation records the end of a command.
	FinishOperation(id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*model.Operation, error)

	// MaxOperationID returns the highest operation id, or 0.
	MaxOperationID() (int64, error)

	// Close closes the catalog connection.
	Close() error
}
