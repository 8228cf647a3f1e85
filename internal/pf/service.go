package pf

import (
	"fmt"

	"github.com/im7mortal/kmutex"

	"permafrost/internal/model"
)

// Service is the reconciliation and archive-lifecycle orchestrator. It
// keeps the catalog consistent with the watched directories on disk and
// with the snapshots held by the archive engine.
//
// Lifecycle operations on the same directory are serialized by a keyed
// mutex held from the precondition check through the catalog write.
// Operations on different directories run concurrently.
type Service struct {
	catalog Catalog
	engine  ArchiveEngine
	probe   DiskProbe
	fsmgr   FilesystemManager
	logger  Logger
	clock   Clock
	idgen   IDGenerator
	locks   *kmutex.Kmutex
}

// NewService creates a Service with the provided collaborators.
func NewService(catalog Catalog, engine ArchiveEngine, probe DiskProbe, fsmgr FilesystemManager, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		catalog: catalog,
		engine:  engine,
		probe:   probe,
		fsmgr:   fsmgr,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		locks:   kmutex.New(),
	}
}

// lock acquires the per-target lock for key and returns its release.
func (s *Service) lock(key string) func() {
	s.locks.Lock(key)
	return func() { s.locks.Unlock(key) }
}

// Watch registers path as a root directory tracked at depth.
// The path must be canonical (see FilesystemManager.Resolve) and a
// directory. Watching an already watched path is a no-op and returns the
// existing root.
func (s *Service) Watch(path *Path, depth int) (*model.RootDirectory, error) {
	if !path.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, path.String())
	}
	if depth < 0 {
		return nil, fmt.Errorf("depth must not be negative: %d", depth)
	}

	unlock := s.lock("root:" + path.String())
	defer unlock()

	existing, err := s.catalog.FindRootDirectoryByPath(path.String())
	if err != nil {
		return nil, fmt.Errorf("checking for existing root directory: %w", err)
	}
	if existing != nil {
		s.logger.Info("directory already watched", "path", path.String())
		return existing, nil
	}

	root := &model.RootDirectory{
		ID:        s.idgen.New(),
		Path:      path.String(),
		Depth:     depth,
		CreatedAt: s.clock.Now(),
	}
	if err := s.catalog.CreateRootDirectory(root); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	s.logger.Info("directory watched", "path", root.Path, "depth", depth)
	return root, nil
}

// Unwatch removes the root directory registered for the canonical path.
// Its tracked directories are removed with it; their archives are not.
func (s *Service) Unwatch(path string) error {
	unlock := s.lock("root:" + path)
	defer unlock()

	root, err := s.catalog.FindRootDirectoryByPath(path)
	if err != nil {
		return fmt.Errorf("finding root directory: %w", err)
	}
	if root == nil {
		return fmt.Errorf("%w: %s", ErrRootNotWatched, path)
	}

	if err := s.catalog.DeleteRootDirectory(root.ID); err != nil {
		return fmt.Errorf("deleting root directory: %w", err)
	}

	s.logger.Info("directory unwatched", "path", path)
	return nil
}

// RootDirectories returns all watched roots.
func (s *Service) RootDirectories() ([]*model.RootDirectory, error) {
	roots, err := s.catalog.ListRootDirectories()
	if err != nil {
		return nil, fmt.Errorf("listing root directories: %w", err)
	}
	return roots, nil
}

// Directories returns all tracked directories.
func (s *Service) Directories() ([]*model.Directory, error) {
	dirs, err := s.catalog.ListDirectories()
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}
	return dirs, nil
}

// Archives returns all cataloged archives.
func (s *Service) Archives() ([]*model.Archive, error) {
	archives, err := s.catalog.ListArchives()
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	return archives, nil
}

// GetHistory returns the most recent operations, newest first.
func (s *Service) GetHistory(limit int) ([]*model.Operation, error) {
	ops, err := s.catalog.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
