package pf

// FilesystemManager abstracts the filesystem access of the scanner and the
// orchestrator.
type FilesystemManager interface {
	// Resolve canonicalizes a raw path: absolute, with symlinks resolved.
	// The path must exist.
	Resolve(rawPath string) (*Path, error)

	// IsDir reports whether path currently resolves to a directory.
	// A missing path is (false, nil).
	IsDir(path string) (bool, error)

	// FindTrackedDirectories walks root and returns the non-hidden
	// directories exactly depth levels below it, in lexical order.
	// Depth 0 returns root itself.
	FindTrackedDirectories(root string, depth int) ([]string, error)

	// Fingerprint summarizes the file set and modification times below dir.
	Fingerprint(dir string) (string, error)

	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error
}
