package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"root_directories", "directories", "archives", "operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckDBMigrationStatus(db)
		if !errors.Is(err, ErrNoSchema) {
			t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNoSchema", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}

		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
		}
	})

	t.Run("migrate up is idempotent", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("first MigrateUp() failed: %v", err)
		}
		if err := MigrateUp(db); err != nil {
			t.Fatalf("second MigrateUp() failed: %v", err)
		}
		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
		}
	})
}

func TestLatestVersion(t *testing.T) {
	latest, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if latest != 3 {
		t.Errorf("LatestVersion() = %d, want 3", latest)
	}
}

func TestSchema_RootDirectoryCascade(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	mustExec(t, db, "INSERT INTO root_directories (id, path, depth, created_at) VALUES ('root-1', '/srv', 1, datetime('now'))")
	mustExec(t, db, `INSERT INTO directories (id, path, fingerprint, root_directory_id, created_at, updated_at)
		VALUES ('dir-1', '/srv/a', 'abc', 'root-1', datetime('now'), datetime('now'))`)

	mustExec(t, db, "DELETE FROM root_directories WHERE id = 'root-1'")

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM directories").Scan(&count); err != nil {
		t.Fatalf("counting directories: %v", err)
	}
	if count != 0 {
		t.Errorf("directories after root delete = %d, want 0", count)
	}
}

func TestSchema_DirectoryRequiresRoot(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO directories (id, path, fingerprint, root_directory_id, created_at, updated_at)
		VALUES ('dir-1', '/srv/a', 'abc', 'no-such-root', datetime('now'), datetime('now'))`)
	if err == nil {
		t.Error("expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_ArchiveMayOutliveDirectory(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO archives
		(id, name, repository_id, engine_archive_id, engine_archive_name, source_path, created_at, fingerprint, directory_id)
		VALUES ('arc-1', 'srv-b', 'repo', 'snap', 'srv-b.x', '/srv/b', datetime('now'), 'abc', 'gone-dir')`)
	if err != nil {
		t.Errorf("archive referencing a missing directory was rejected: %v", err)
	}
}

func TestSchema_RootPathUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	mustExec(t, db, "INSERT INTO root_directories (id, path, depth, created_at) VALUES ('root-1', '/srv', 1, datetime('now'))")
	_, err := db.Exec("INSERT INTO root_directories (id, path, depth, created_at) VALUES ('root-2', '/srv', 0, datetime('now'))")
	if err == nil {
		t.Error("expected unique constraint violation for duplicate path, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database with foreign keys enabled.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	return db
}

func mustExec(t *testing.T, db *sql.DB, query string) {
	t.Helper()
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
