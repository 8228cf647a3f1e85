package model

import (
	"database/sql"
	"time"
)

// RootDirectory is a watched top-level path.
// Depth bounds how many path segments below it are individually tracked.
type RootDirectory struct {
	ID        string    `json:"id"`    // UUID
	Path      string    `json:"path"`  // Canonical absolute path
	Depth     int       `json:"depth"` // 0 tracks the root itself
	CreatedAt time.Time `json:"created_at"`
}

// Directory is a tracked directory exactly Depth levels below its root.
type Directory struct {
	ID              string    `json:"id"`          // UUID
	Path            string    `json:"path"`        // Absolute path on host
	Fingerprint     string    `json:"fingerprint"` // BLAKE3 hex digest of file set + mtimes
	RootDirectoryID string    `json:"root_directory_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Archive links a Directory to its live snapshot in an archive repository.
type Archive struct {
	ID                string         `json:"id"`   // UUID
	Name              string         `json:"name"` // Derived from the directory path; also the prune prefix
	RepositoryID      string         `json:"repository_id"`
	EngineArchiveID   string         `json:"engine_archive_id"`
	EngineArchiveName string         `json:"engine_archive_name"` // Concrete snapshot name in the repository
	SourcePath        string         `json:"source_path"`         // Directory path when the snapshot was taken
	CreatedAt         time.Time      `json:"created_at"`
	Fingerprint       string         `json:"fingerprint"` // Directory fingerprint at snapshot time
	DirectoryID       sql.NullString `json:"directory_id"`
}

// Operation records a mutating CLI command.
type Operation struct {
	ID         int64        `json:"id"`
	Operation  string       `json:"operation"`
	Parameters string       `json:"parameters"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt sql.NullTime `json:"finished_at"`
	Status     string       `json:"status"`
}
