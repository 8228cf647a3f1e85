package server

import (
	"time"

	"permafrost/internal/model"
	"permafrost/internal/pf"
)

type archiveJSON struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	RepositoryID      string    `json:"repository_id"`
	EngineArchiveID   string    `json:"engine_archive_id"`
	EngineArchiveName string    `json:"engine_archive_name"`
	SourcePath        string    `json:"source_path"`
	CreatedAt         time.Time `json:"created_at"`
	Fingerprint       string    `json:"fingerprint"`
	DirectoryID       *string   `json:"directory_id"`
}

func toArchiveJSON(a *model.Archive) *archiveJSON {
	if a == nil {
		return nil
	}
	out := &archiveJSON{
		ID:                a.ID,
		Name:              a.Name,
		RepositoryID:      a.RepositoryID,
		EngineArchiveID:   a.EngineArchiveID,
		EngineArchiveName: a.EngineArchiveName,
		SourcePath:        a.SourcePath,
		CreatedAt:         a.CreatedAt,
		Fingerprint:       a.Fingerprint,
	}
	if a.DirectoryID.Valid {
		id := a.DirectoryID.String
		out.DirectoryID = &id
	}
	return out
}

type directoryStatusJSON struct {
	Directory *model.Directory  `json:"directory"`
	Archive   *archiveJSON      `json:"archive"`
	State     pf.DirectoryState `json:"state"`
}

func toStatusesJSON(statuses []*pf.DirectoryStatus) []directoryStatusJSON {
	out := make([]directoryStatusJSON, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, directoryStatusJSON{
			Directory: s.Directory,
			Archive:   toArchiveJSON(s.Archive),
			State:     s.State,
		})
	}
	return out
}

type repositoryJSON struct {
	ID           string    `json:"id"`
	Location     string    `json:"location"`
	LastModified time.Time `json:"last_modified"`
}

type listEntryJSON struct {
	SnapshotID   string       `json:"snapshot_id"`
	SnapshotName string       `json:"snapshot_name"`
	Start        time.Time    `json:"start"`
	Untracked    bool         `json:"untracked"`
	Archive      *archiveJSON `json:"archive"`
}

type listingJSON struct {
	Repository repositoryJSON  `json:"repository"`
	Entries    []listEntryJSON `json:"entries"`
}

func toListingJSON(l *pf.Listing) listingJSON {
	out := listingJSON{
		Repository: repositoryJSON{
			ID:           l.Repository.ID,
			Location:     l.Repository.Location,
			LastModified: l.Repository.LastModified,
		},
		Entries: make([]listEntryJSON, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		out.Entries = append(out.Entries, listEntryJSON{
			SnapshotID:   e.Snapshot.ID,
			SnapshotName: e.Snapshot.Name,
			Start:        e.Snapshot.Start,
			Untracked:    e.Untracked(),
			Archive:      toArchiveJSON(e.Archive),
		})
	}
	return out
}

// archiveRequest is the body of the lifecycle endpoints. Repository and
// Compression fall back to the configured defaults.
type archiveRequest struct {
	DirectoryID     string `json:"directory_id"`
	ArchiveID       string `json:"archive_id"`
	RootDirectoryID string `json:"root_directory_id"`
	Repository      string `json:"repository"`
	Compression     string `json:"compression"`
	DryRun          bool   `json:"dry_run"`
	Repair          bool   `json:"repair"`
}

func (r archiveRequest) target() pf.Target {
	return pf.Target{
		DirectoryID:     r.DirectoryID,
		ArchiveID:       r.ArchiveID,
		RootDirectoryID: r.RootDirectoryID,
	}
}

type initRequest struct {
	Repository string `json:"repository"`
	Encryption string `json:"encryption"`
}

type errorJSON struct {
	Error string `json:"error"`
}
