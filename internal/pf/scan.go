package pf

import (
	"errors"
	"fmt"

	"permafrost/internal/model"
)

// ScanReport counts the catalog changes made by a scan.
type ScanReport struct {
	Created   int
	Updated   int
	Unchanged int
	Deleted   int
}

// Writes returns the number of catalog writes the scan performed.
func (r *ScanReport) Writes() int {
	return r.Created + r.Updated + r.Deleted
}

// Scan synchronizes the tracked directories of every root with the
// filesystem, then removes directories that no longer exist on disk.
//
// A filesystem error only affects the root or directory it occurred in;
// the scan continues and returns all such errors joined. Catalog errors
// abort the scan.
func (s *Service) Scan() (*ScanReport, error) {
	roots, err := s.catalog.ListRootDirectories()
	if err != nil {
		return nil, fmt.Errorf("listing root directories: %w", err)
	}

	report := &ScanReport{}
	var fsErrs []error

	for _, root := range roots {
		paths, err := s.fsmgr.FindTrackedDirectories(root.Path, root.Depth)
		if err != nil {
			s.logger.Error("scanning root directory failed", "path", root.Path, "error", err)
			fsErrs = append(fsErrs, fmt.Errorf("scanning %s: %w", root.Path, err))
			continue
		}

		for _, path := range paths {
			fingerprint, err := s.fsmgr.Fingerprint(path)
			if err != nil {
				s.logger.Error("fingerprinting directory failed", "path", path, "error", err)
				fsErrs = append(fsErrs, fmt.Errorf("fingerprinting %s: %w", path, err))
				continue
			}
			if err := s.syncDirectory(root, path, fingerprint, report); err != nil {
				return report, err
			}
		}
	}

	if err := s.sweep(report, &fsErrs); err != nil {
		return report, err
	}

	s.logger.Info("scan complete",
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"deleted", report.Deleted,
	)
	return report, errors.Join(fsErrs...)
}

// syncDirectory creates or updates the catalog row for one scanned directory.
func (s *Service) syncDirectory(root *model.RootDirectory, path, fingerprint string, report *ScanReport) error {
	directory, err := s.catalog.FindDirectoryByPath(path)
	if err != nil {
		return fmt.Errorf("finding directory %s: %w", path, err)
	}

	switch {
	case directory == nil:
		now := s.clock.Now()
		directory = &model.Directory{
			ID:              s.idgen.New(),
			Path:            path,
			Fingerprint:     fingerprint,
			RootDirectoryID: root.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.catalog.CreateDirectory(directory); err != nil {
			return fmt.Errorf("creating directory %s: %w", path, err)
		}
		report.Created++
		s.logger.Info("directory tracked", "path", path)

	case directory.Fingerprint != fingerprint:
		if err := s.catalog.UpdateDirectoryFingerprint(directory.ID, fingerprint); err != nil {
			return fmt.Errorf("updating directory %s: %w", path, err)
		}
		report.Updated++
		s.logger.Info("directory changed", "path", path)

	default:
		report.Unchanged++
	}
	return nil
}

// sweep deletes every cataloged directory whose path is no longer a
// directory on disk. Linked archives are left pointing at the deleted row.
func (s *Service) sweep(report *ScanReport, fsErrs *[]error) error {
	directories, err := s.catalog.ListDirectories()
	if err != nil {
		return fmt.Errorf("listing directories: %w", err)
	}

	for _, directory := range directories {
		isDir, err := s.fsmgr.IsDir(directory.Path)
		if err != nil {
			*fsErrs = append(*fsErrs, fmt.Errorf("checking %s: %w", directory.Path, err))
			continue
		}
		if isDir {
			continue
		}

		if err := s.catalog.DeleteDirectory(directory.ID); err != nil {
			return fmt.Errorf("deleting directory %s: %w", directory.Path, err)
		}
		report.Deleted++

		archive, err := s.catalog.FindArchiveByDirectoryID(directory.ID)
		if err != nil {
			return fmt.Errorf("finding archive of %s: %w", directory.Path, err)
		}
		if archive != nil {
			s.logger.Warn("directory removed, archive left dangling", "path", directory.Path, "archive", archive.ID)
		} else {
			s.logger.Info("directory removed", "path", directory.Path)
		}
	}
	return nil
}

// DirectoryState is the backup state of a tracked directory.
type DirectoryState string

const (
	// StateUnbacked means the directory has no archive.
	StateUnbacked DirectoryState = "unbacked"
	// StateStale means the directory changed since its archive was taken.
	StateStale DirectoryState = "stale"
	// StateFresh means the archive matches the directory.
	StateFresh DirectoryState = "fresh"
)

// DirectoryStatus pairs a directory with its archive and state.
type DirectoryStatus struct {
	Directory *model.Directory
	Archive   *model.Archive // nil when unbacked
	State     DirectoryState
}

// Status returns the state of every tracked directory. It does not touch
// the filesystem or mutate the catalog.
func (s *Service) Status() ([]*DirectoryStatus, error) {
	directories, err := s.catalog.ListDirectories()
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}

	statuses := make([]*DirectoryStatus, 0, len(directories))
	for _, directory := range directories {
		archive, err := s.catalog.FindArchiveByDirectoryID(directory.ID)
		if err != nil {
			return nil, fmt.Errorf("finding archive of %s: %w", directory.Path, err)
		}

		status := &DirectoryStatus{Directory: directory, Archive: archive, State: StateFresh}
		switch {
		case archive == nil:
			status.State = StateUnbacked
		case archive.Fingerprint != directory.Fingerprint:
			status.State = StateStale
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Drift returns the directories that are unbacked or stale.
func (s *Service) Drift() ([]*DirectoryStatus, error) {
	statuses, err := s.Status()
	if err != nil {
		return nil, err
	}

	var drift []*DirectoryStatus
	for _, status := range statuses {
		if status.State != StateFresh {
			drift = append(drift, status)
		}
	}
	return drift, nil
}
