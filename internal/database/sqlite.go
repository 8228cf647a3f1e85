package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"permafrost/internal/database/migrations"
	"permafrost/internal/model"
	"permafrost/internal/pf"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements pf.Catalog on SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog opens a catalog at path, which is a file path or
// ":memory:". The schema is not touched; call Migrate and CheckMigrations
// explicitly.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

// NewSQLiteCatalogFromDB wraps an existing connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteCatalogFromDB(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db}
}

// OpenConnection opens a SQLite connection pool with foreign keys enforced
// and a busy timeout on every connection. An in-memory database is limited
// to a single connection, since each connection would otherwise see its own
// empty database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Root directory operations

const rootColumns = "id, path, depth, created_at"

func scanRoot(row interface{ Scan(...any) error }) (*model.RootDirectory, error) {
	var r model.RootDirectory
	if err := row.Scan(&r.ID, &r.Path, &r.Depth, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteCatalog) CreateRootDirectory(root *model.RootDirectory) error {
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO root_directories ("+rootColumns+") VALUES (?, ?, ?, ?)",
		root.ID, root.Path, root.Depth, root.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting root directory: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) FindRootDirectoryByID(id string) (*model.RootDirectory, error) {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT "+rootColumns+" FROM root_directories WHERE id = ?", id)
	root, err := scanRoot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding root directory by id: %w", err)
	}
	return root, nil
}

func (s *SQLiteCatalog) FindRootDirectoryByPath(path string) (*model.RootDirectory, error) {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT "+rootColumns+" FROM root_directories WHERE path = ?", path)
	root, err := scanRoot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding root directory by path: %w", err)
	}
	return root, nil
}

func (s *SQLiteCatalog) ListRootDirectories() ([]*model.RootDirectory, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT "+rootColumns+" FROM root_directories ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("listing root directories: %w", err)
	}
	defer rows.Close()

	var roots []*model.RootDirectory
	for rows.Next() {
		root, err := scanRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning root directory: %w", err)
		}
		roots = append(roots, root)
	}
	return roots, rows.Err()
}

func (s *SQLiteCatalog) DeleteRootDirectory(id string) error {
	if _, err := s.db.ExecContext(context.Background(), "DELETE FROM root_directories WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting root directory: %w", err)
	}
	return nil
}

// Directory operations

const directoryColumns = "d.id, d.path, d.fingerprint, d.root_directory_id, d.created_at, d.updated_at"

func scanDirectory(row interface{ Scan(...any) error }) (*model.Directory, error) {
	var d model.Directory
	if err := row.Scan(&d.ID, &d.Path, &d.Fingerprint, &d.RootDirectoryID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteCatalog) queryDirectories(query string, args ...any) ([]*model.Directory, error) {
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dirs []*model.Directory
	for rows.Next() {
		dir, err := scanDirectory(rows)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

func (s *SQLiteCatalog) findDirectory(where string, arg any) (*model.Directory, error) {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT "+directoryColumns+" FROM directories d WHERE "+where, arg)
	dir, err := scanDirectory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return dir, nil
}

func (s *SQLiteCatalog) CreateDirectory(directory *model.Directory) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO directories (id, path, fingerprint, root_directory_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		directory.ID, directory.Path, directory.Fingerprint, directory.RootDirectoryID,
		directory.CreatedAt, directory.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting directory: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) FindDirectoryByID(id string) (*model.Directory, error) {
	dir, err := s.findDirectory("d.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding directory by id: %w", err)
	}
	return dir, nil
}

func (s *SQLiteCatalog) FindDirectoryByPath(path string) (*model.Directory, error) {
	dir, err := s.findDirectory("d.path = ?", path)
	if err != nil {
		return nil, fmt.Errorf("finding directory by path: %w", err)
	}
	return dir, nil
}

func (s *SQLiteCatalog) ListDirectories() ([]*model.Directory, error) {
	dirs, err := s.queryDirectories("SELECT " + directoryColumns + " FROM directories d ORDER BY d.path")
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}
	return dirs, nil
}

func (s *SQLiteCatalog) FindDirectoriesWithoutArchive(rootDirectoryID string) ([]*model.Directory, error) {
	dirs, err := s.queryDirectories(`SELECT `+directoryColumns+` FROM directories d
		WHERE d.root_directory_id = ?
		AND NOT EXISTS (SELECT 1 FROM archives a WHERE a.directory_id = d.id)
		ORDER BY d.path`, rootDirectoryID)
	if err != nil {
		return nil, fmt.Errorf("finding directories without archive: %w", err)
	}
	return dirs, nil
}

func (s *SQLiteCatalog) FindDirectoriesWithArchive(rootDirectoryID string) ([]*model.Directory, error) {
	dirs, err := s.queryDirectories(`SELECT `+directoryColumns+` FROM directories d
		WHERE d.root_directory_id = ?
		AND EXISTS (SELECT 1 FROM archives a WHERE a.directory_id = d.id)
		ORDER BY d.path`, rootDirectoryID)
	if err != nil {
		return nil, fmt.Errorf("finding directories with archive: %w", err)
	}
	return dirs, nil
}

func (s *SQLiteCatalog) UpdateDirectoryFingerprint(id string, fingerprint string) error {
	res, err := s.db.ExecContext(context.Background(),
		"UPDATE directories SET fingerprint = ?, updated_at = ? WHERE id = ?",
		fingerprint, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating directory fingerprint: %w", err)
	}
	return expectOneRow(res, "directory", id)
}

func (s *SQLiteCatalog) DeleteDirectory(id string) error {
	if _, err := s.db.ExecContext(context.Background(), "DELETE FROM directories WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting directory: %w", err)
	}
	return nil
}

// Archive operations

const archiveColumns = `id, name, repository_id, engine_archive_id, engine_archive_name,
	source_path, created_at, fingerprint, directory_id`

func scanArchive(row interface{ Scan(...any) error }) (*model.Archive, error) {
	var a model.Archive
	err := row.Scan(&a.ID, &a.Name, &a.RepositoryID, &a.EngineArchiveID, &a.EngineArchiveName,
		&a.SourcePath, &a.CreatedAt, &a.Fingerprint, &a.DirectoryID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteCatalog) findArchive(where string, args ...any) (*model.Archive, error) {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT "+archiveColumns+" FROM archives WHERE "+where, args...)
	archive, err := scanArchive(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return archive, nil
}

func (s *SQLiteCatalog) CreateArchive(archive *model.Archive) error {
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO archives ("+archiveColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		archive.ID, archive.Name, archive.RepositoryID, archive.EngineArchiveID, archive.EngineArchiveName,
		archive.SourcePath, archive.CreatedAt, archive.Fingerprint, archive.DirectoryID)
	if err != nil {
		return fmt.Errorf("inserting archive: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) FindArchiveByID(id string) (*model.Archive, error) {
	archive, err := s.findArchive("id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding archive by id: %w", err)
	}
	return archive, nil
}

func (s *SQLiteCatalog) FindArchiveByDirectoryID(directoryID string) (*model.Archive, error) {
	// Oldest first, so a duplicate left by an external writer does not hide
	// the original record.
	archive, err := s.findArchive("directory_id = ? ORDER BY created_at LIMIT 1", directoryID)
	if err != nil {
		return nil, fmt.Errorf("finding archive by directory: %w", err)
	}
	return archive, nil
}

func (s *SQLiteCatalog) FindArchivesByName(name string) ([]*model.Archive, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT "+archiveColumns+" FROM archives WHERE name = ? ORDER BY created_at", name)
	if err != nil {
		return nil, fmt.Errorf("finding archives by name: %w", err)
	}
	defer rows.Close()

	var archives []*model.Archive
	for rows.Next() {
		archive, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning archive: %w", err)
		}
		archives = append(archives, archive)
	}
	return archives, rows.Err()
}

func (s *SQLiteCatalog) FindArchiveByEngineID(repositoryID, engineArchiveID string) (*model.Archive, error) {
	archive, err := s.findArchive("repository_id = ? AND engine_archive_id = ?", repositoryID, engineArchiveID)
	if err != nil {
		return nil, fmt.Errorf("finding archive by engine id: %w", err)
	}
	return archive, nil
}

func (s *SQLiteCatalog) ListArchives() ([]*model.Archive, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT "+archiveColumns+" FROM archives ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	defer rows.Close()

	var archives []*model.Archive
	for rows.Next() {
		archive, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning archive: %w", err)
		}
		archives = append(archives, archive)
	}
	return archives, rows.Err()
}

func (s *SQLiteCatalog) UpdateArchive(archive *model.Archive) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE archives
		 SET repository_id = ?, engine_archive_id = ?, engine_archive_name = ?,
		     source_path = ?, created_at = ?, fingerprint = ?
		 WHERE id = ?`,
		archive.RepositoryID, archive.EngineArchiveID, archive.EngineArchiveName,
		archive.SourcePath, archive.CreatedAt, archive.Fingerprint, archive.ID)
	if err != nil {
		return fmt.Errorf("updating archive: %w", err)
	}
	return expectOneRow(res, "archive", archive.ID)
}

func (s *SQLiteCatalog) DeleteArchive(id string) error {
	if _, err := s.db.ExecContext(context.Background(), "DELETE FROM archives WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting archive: %w", err)
	}
	return nil
}

// Operation tracking

func (s *SQLiteCatalog) CreateOperation(operation string, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)",
		op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteCatalog) FinishOperation(id int64, status string) error {
	res, err := s.db.ExecContext(context.Background(),
		"UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return expectOneRow(res, "operation", fmt.Sprint(id))
}

func (s *SQLiteCatalog) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, operation, parameters, started_at, finished_at, status
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

func (s *SQLiteCatalog) MaxOperationID() (int64, error) {
	var id int64
	err := s.db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(id), 0) FROM operations").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting max operation id: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteCatalog) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteCatalog) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the catalog to destPath using
// VACUUM INTO. destPath must not exist or be empty.
func (s *SQLiteCatalog) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}

// Compile-time check that SQLiteCatalog implements pf.Catalog
var _ pf.Catalog = (*SQLiteCatalog)(nil)
