package pf

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"permafrost/internal/model"
)

// Target selects the directories a lifecycle operation applies to.
// Exactly one field should be set. RootDirectoryID selects a batch.
type Target struct {
	DirectoryID     string
	ArchiveID       string
	RootDirectoryID string
}

// Batch reports whether the target selects all directories of a root.
func (t Target) Batch() bool {
	return t.RootDirectoryID != ""
}

// String describes the target for logs and errors.
func (t Target) String() string {
	switch {
	case t.RootDirectoryID != "":
		return "root directory " + t.RootDirectoryID
	case t.ArchiveID != "":
		return "archive " + t.ArchiveID
	default:
		return "directory " + t.DirectoryID
	}
}

// Outcome is the result of a lifecycle operation on one directory.
type Outcome struct {
	Directory *model.Directory
	Archive   *model.Archive // nil on failure or dry run
	Err       error
}

// BatchResult collects the per-directory outcomes of Create or Update.
// A failing directory does not stop the batch.
type BatchResult struct {
	Outcomes []*Outcome
}

// Err joins the errors of all failed outcomes.
func (r *BatchResult) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Directory.Path, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Succeeded returns the number of directories processed without error.
func (r *BatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Init prepares a repository: the location directory is created when
// missing, then the engine initializes it. Initializing an existing
// repository is rejected by the engine.
func (s *Service) Init(location, encryptionMode string) error {
	if !IsRemoteLocation(location) {
		if err := s.fsmgr.MkdirAll(location); err != nil {
			return fmt.Errorf("creating repository directory: %w", err)
		}
	}

	if err := s.engine.Init(location, encryptionMode); err != nil {
		return fmt.Errorf("initializing repository %s: %w", location, err)
	}

	s.logger.Info("repository initialized", "repository", location, "encryption", encryptionMode)
	return nil
}

// IsRemoteLocation reports whether a repository location refers to another
// host ("ssh://host/path" or "user@host:path").
func IsRemoteLocation(location string) bool {
	if strings.Contains(location, "://") {
		return true
	}
	head, _, found := strings.Cut(location, ":")
	return found && !strings.Contains(head, "/")
}

// Create takes the first snapshot of the target directories. For a batch
// target every directory of the root without an archive is selected.
//
// Per directory: the directory must not have an archive, no other archive
// may use its derived name, admission control must pass, then the engine snapshots it and the archive is recorded.
// In dry-run mode the engine is invoked with dry-run and nothing is recorded.
func (s *Service) Create(target Target, location, compression string, dryRun bool) (*BatchResult, error) {
	var directories []*model.Directory
	switch {
	case target.RootDirectoryID != "":
		root, err := s.catalog.FindRootDirectoryByID(target.RootDirectoryID)
		if err != nil {
			return nil, fmt.Errorf("finding root directory: %w", err)
		}
		if root == nil {
			return nil, fmt.Errorf("%w: %s", ErrRootNotWatched, target.RootDirectoryID)
		}
		directories, err = s.catalog.FindDirectoriesWithoutArchive(root.ID)
		if err != nil {
			return nil, fmt.Errorf("finding directories without archive: %w", err)
		}
	case target.DirectoryID != "":
		directory, err := s.findDirectory(target.DirectoryID)
		if err != nil {
			return nil, err
		}
		directories = []*model.Directory{directory}
	default:
		return nil, fmt.Errorf("%w: create needs a directory or root directory", ErrInvalidTarget)
	}

	result := &BatchResult{}
	for _, directory := range directories {
		archive, err := s.createOne(directory.ID, location, compression, dryRun)
		if err != nil {
			s.logger.Error("create failed", "path", directory.Path, "error", err)
		}
		result.Outcomes = append(result.Outcomes, &Outcome{Directory: directory, Archive: archive, Err: err})
	}
	return result, result.Err()
}

func (s *Service) createOne(directoryID, location, compression string, dryRun bool) (*model.Archive, error) {
	unlock := s.lock(directoryID)
	defer unlock()

	directory, err := s.findDirectory(directoryID)
	if err != nil {
		return nil, err
	}

	existing, err := s.catalog.FindArchiveByDirectoryID(directory.ID)
	if err != nil {
		return nil, fmt.Errorf("checking for existing archive: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveExists, existing.Name)
	}

	// The name selects snapshots for prune and delete, so it must belong
	// to one archive only.
	name := ArchiveName(directory.Path)
	unlockName := s.lock("name:" + name)
	defer unlockName()

	if err := s.checkNameOwner(name, ""); err != nil {
		return nil, err
	}

	if err := s.admit(location, directory.Path); err != nil {
		return nil, err
	}

	created, err := s.engine.Create(location, name, directory.Path, compression, dryRun)
	if err != nil {
		return nil, fmt.Errorf("creating archive %s: %w", name, err)
	}
	if dryRun {
		s.logger.Info("dry run: archive not recorded", "name", name, "path", directory.Path)
		return nil, nil
	}

	archive := &model.Archive{
		ID:                s.idgen.New(),
		Name:              name,
		RepositoryID:      created.Repository.ID,
		EngineArchiveID:   created.Archive.ID,
		EngineArchiveName: created.Archive.Name,
		SourcePath:        directory.Path,
		CreatedAt:         s.clock.Now(),
		Fingerprint:       directory.Fingerprint,
		DirectoryID:       sql.NullString{String: directory.ID, Valid: true},
	}
	if err := s.catalog.CreateArchive(archive); err != nil {
		return nil, fmt.Errorf("recording archive %s: %w", name, err)
	}

	s.logger.Info("archive created", "name", name, "snapshot", archive.EngineArchiveName, "path", directory.Path)
	return archive, nil
}

// Update replaces the snapshot of the target directories with a new one.
// For a batch target every directory of the root with an archive is
// selected.
//
// The new snapshot is created under the archive's name first, then all but
// the newest snapshot under that name are pruned. If pruning fails the
// repository holds both snapshots while the catalog still records the old
// one; the error is returned, List reports the new snapshot as untracked,
// and running Update again converges.
func (s *Service) Update(target Target, location, compression string, dryRun bool) (*BatchResult, error) {
	var directories []*model.Directory
	switch {
	case target.RootDirectoryID != "":
		root, err := s.catalog.FindRootDirectoryByID(target.RootDirectoryID)
		if err != nil {
			return nil, fmt.Errorf("finding root directory: %w", err)
		}
		if root == nil {
			return nil, fmt.Errorf("%w: %s", ErrRootNotWatched, target.RootDirectoryID)
		}
		directories, err = s.catalog.FindDirectoriesWithArchive(root.ID)
		if err != nil {
			return nil, fmt.Errorf("finding directories with archive: %w", err)
		}
	case target.ArchiveID != "":
		archive, err := s.findArchive(target.ArchiveID)
		if err != nil {
			return nil, err
		}
		directory, err := s.linkedDirectory(archive)
		if err != nil {
			return nil, err
		}
		directories = []*model.Directory{directory}
	case target.DirectoryID != "":
		directory, err := s.findDirectory(target.DirectoryID)
		if err != nil {
			return nil, err
		}
		directories = []*model.Directory{directory}
	default:
		return nil, fmt.Errorf("%w: update needs a directory, archive or root directory", ErrInvalidTarget)
	}

	result := &BatchResult{}
	for _, directory := range directories {
		archive, err := s.updateOne(directory.ID, location, compression, dryRun)
		if err != nil {
			s.logger.Error("update failed", "path", directory.Path, "error", err)
		}
		result.Outcomes = append(result.Outcomes, &Outcome{Directory: directory, Archive: archive, Err: err})
	}
	return result, result.Err()
}

func (s *Service) updateOne(directoryID, location, compression string, dryRun bool) (*model.Archive, error) {
	unlock := s.lock(directoryID)
	defer unlock()

	directory, err := s.findDirectory(directoryID)
	if err != nil {
		return nil, err
	}

	archive, err := s.catalog.FindArchiveByDirectoryID(directory.ID)
	if err != nil {
		return nil, fmt.Errorf("finding archive: %w", err)
	}
	if archive == nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveMissing, directory.Path)
	}
	// Prune would also retire snapshots of another archive sharing the name.
	if err := s.checkNameOwner(archive.Name, archive.ID); err != nil {
		return nil, err
	}

	if err := s.admit(location, directory.Path); err != nil {
		return nil, err
	}

	created, err := s.engine.Create(location, archive.Name, directory.Path, compression, dryRun)
	if err != nil {
		return nil, fmt.Errorf("creating new snapshot of %s: %w", archive.Name, err)
	}

	if err := s.engine.Prune(location, archive.Name, 1, dryRun); err != nil {
		newest := "(dry run)"
		if created != nil {
			newest = created.Archive.Name
		}
		s.logger.Error("new snapshot created but old snapshot not retired",
			"name", archive.Name, "old", archive.EngineArchiveName, "new", newest)
		return nil, fmt.Errorf("retiring previous snapshots of %s (new snapshot %s left in place): %w", archive.Name, newest, err)
	}

	if dryRun {
		s.logger.Info("dry run: archive not updated", "name", archive.Name)
		return nil, nil
	}

	previous := archive.EngineArchiveName
	archive.RepositoryID = created.Repository.ID
	archive.EngineArchiveID = created.Archive.ID
	archive.EngineArchiveName = created.Archive.Name
	archive.SourcePath = directory.Path
	archive.CreatedAt = s.clock.Now()
	archive.Fingerprint = directory.Fingerprint
	if err := s.catalog.UpdateArchive(archive); err != nil {
		return nil, fmt.Errorf("recording archive %s: %w", archive.Name, err)
	}

	s.logger.Info("archive updated", "name", archive.Name, "old", previous, "new", archive.EngineArchiveName)
	return archive, nil
}

// Delete removes every snapshot of an archive from the repository and, once
// the engine succeeded, the archive record.
func (s *Service) Delete(archiveID, location string, dryRun bool) error {
	archive, err := s.findArchive(archiveID)
	if err != nil {
		return err
	}

	unlock := s.lock(lockKey(archive))
	defer unlock()

	// Re-read under the lock: a concurrent delete may have won.
	archive, err = s.findArchive(archiveID)
	if err != nil {
		return err
	}

	if err := s.engine.Delete(location, archive.Name, dryRun); err != nil {
		return fmt.Errorf("deleting archive %s: %w", archive.Name, err)
	}
	if dryRun {
		s.logger.Info("dry run: archive record kept", "name", archive.Name)
		return nil
	}

	if err := s.catalog.DeleteArchive(archive.ID); err != nil {
		return fmt.Errorf("deleting archive record %s: %w", archive.Name, err)
	}

	s.logger.Info("archive deleted", "name", archive.Name)
	return nil
}

// Extract verifies a snapshot and restores it into its directory's path,
// creating the directory when absent. The catalog is not modified.
func (s *Service) Extract(archiveID, location string, dryRun bool) error {
	archive, err := s.findArchive(archiveID)
	if err != nil {
		return err
	}
	directory, err := s.linkedDirectory(archive)
	if err != nil {
		return err
	}

	if err := s.engine.Check(location, archive.EngineArchiveName, false); err != nil {
		return fmt.Errorf("checking archive %s before extract: %w", archive.EngineArchiveName, err)
	}

	if !dryRun {
		if err := s.fsmgr.MkdirAll(directory.Path); err != nil {
			return fmt.Errorf("creating extract destination: %w", err)
		}
	}

	if err := s.engine.Extract(location, archive.EngineArchiveName, directory.Path, dryRun); err != nil {
		return fmt.Errorf("extracting archive %s: %w", archive.EngineArchiveName, err)
	}

	s.logger.Info("archive extracted", "snapshot", archive.EngineArchiveName, "path", directory.Path, "dry_run", dryRun)
	return nil
}

// Check runs the engine's consistency check on a snapshot, optionally with
// repair. The catalog is not modified.
func (s *Service) Check(archiveID, location string, repair bool) error {
	archive, err := s.findArchive(archiveID)
	if err != nil {
		return err
	}
	if _, err := s.linkedDirectory(archive); err != nil {
		return err
	}

	if err := s.engine.Check(location, archive.EngineArchiveName, repair); err != nil {
		return fmt.Errorf("checking archive %s: %w", archive.EngineArchiveName, err)
	}

	s.logger.Info("archive checked", "snapshot", archive.EngineArchiveName, "repair", repair)
	return nil
}

// ListEntry pairs a repository snapshot with its catalog record.
type ListEntry struct {
	Snapshot *Snapshot
	Archive  *model.Archive // nil when the catalog does not know the snapshot
}

// Untracked reports whether the snapshot has no catalog record, for
// example after an interrupted Update.
func (e *ListEntry) Untracked() bool {
	return e.Archive == nil
}

// Listing is the content of a repository as seen by the catalog.
type Listing struct {
	Repository Repository
	Entries    []*ListEntry
}

// List returns the snapshots in a repository matched against the catalog.
func (s *Service) List(location string) (*Listing, error) {
	result, err := s.engine.List(location)
	if err != nil {
		return nil, fmt.Errorf("listing repository %s: %w", location, err)
	}

	listing := &Listing{Repository: result.Repository}
	for _, snapshot := range result.Archives {
		archive, err := s.catalog.FindArchiveByEngineID(result.Repository.ID, snapshot.ID)
		if err != nil {
			return nil, fmt.Errorf("finding archive for snapshot %s: %w", snapshot.Name, err)
		}
		if archive == nil {
			s.logger.Warn("untracked snapshot in repository", "snapshot", snapshot.Name, "repository", location)
		}
		listing.Entries = append(listing.Entries, &ListEntry{Snapshot: snapshot, Archive: archive})
	}
	return listing, nil
}

func (s *Service) findDirectory(id string) (*model.Directory, error) {
	directory, err := s.catalog.FindDirectoryByID(id)
	if err != nil {
		return nil, fmt.Errorf("finding directory: %w", err)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, id)
	}
	return directory, nil
}

func (s *Service) findArchive(id string) (*model.Archive, error) {
	archive, err := s.catalog.FindArchiveByID(id)
	if err != nil {
		return nil, fmt.Errorf("finding archive: %w", err)
	}
	if archive == nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveMissing, id)
	}
	return archive, nil
}

// linkedDirectory resolves the directory an archive was taken from. An
// archive whose directory was swept from the catalog fails with an error
// matching both ErrDirectoryNotFound and fs.ErrNotExist.
func (s *Service) linkedDirectory(archive *model.Archive) (*model.Directory, error) {
	missing := func() error {
		pathErr := &fs.PathError{Op: "resolve", Path: archive.SourcePath, Err: fs.ErrNotExist}
		return fmt.Errorf("archive %s: %w: %w", archive.Name, ErrDirectoryNotFound, pathErr)
	}

	if !archive.DirectoryID.Valid {
		return nil, missing()
	}
	directory, err := s.catalog.FindDirectoryByID(archive.DirectoryID.String)
	if err != nil {
		return nil, fmt.Errorf("finding directory of archive %s: %w", archive.Name, err)
	}
	if directory == nil {
		return nil, missing()
	}
	return directory, nil
}

// lockKey returns the per-target lock key of an archive: its directory when
// linked, otherwise the archive itself.
// checkNameOwner fails with ErrArchiveNameTaken when an archive other than
// ownerID is recorded under name.
func (s *Service) checkNameOwner(name, ownerID string) error {
	archives, err := s.catalog.FindArchivesByName(name)
	if err != nil {
		return fmt.Errorf("checking archive name %s: %w", name, err)
	}
	for _, a := range archives {
		if a.ID != ownerID {
			return fmt.Errorf("%w: %s is the archive of %s", ErrArchiveNameTaken, name, a.SourcePath)
		}
	}
	return nil
}

func lockKey(archive *model.Archive) string {
	if archive.DirectoryID.Valid {
		return archive.DirectoryID.String
	}
	return "archive:" + archive.ID
}
