package pf

import "errors"

var (
	// ErrArchiveExists is returned by Create when the directory already has an archive.
	ErrArchiveExists = errors.New("archive already exists")

	// ErrArchiveNameTaken is returned by Create and Update when another
	// archive already uses the name derived from the directory path.
	ErrArchiveNameTaken = errors.New("archive name already in use")

	// ErrArchiveMissing is returned when an operation needs an archive that does not exist.
	ErrArchiveMissing = errors.New("archive does not exist")

	// ErrDirectoryNotFound is returned when a tracked directory cannot be resolved.
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrRootNotWatched is returned when a root directory is not in the catalog.
	ErrRootNotWatched = errors.New("root directory is not watched")

	// ErrInsufficientSpace is returned when admission control rejects a backup.
	ErrInsufficientSpace = errors.New("not enough space")

	// ErrRemoteRepository is returned by Create and Update for a repository
	// on another host, whose free space cannot be probed.
	ErrRemoteRepository = errors.New("cannot check free space of a remote repository")

	// ErrNotADirectory is returned when a watch target is not a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrInvalidTarget is returned when a target names no usable selector.
	ErrInvalidTarget = errors.New("invalid target")
)
