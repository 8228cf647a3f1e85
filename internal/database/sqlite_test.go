package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"permafrost/internal/model"
)

// newTestCatalog creates a new in-memory catalog with migrations applied.
func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()

	c, err := NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	if err := c.Migrate(); err != nil {
		c.Close()
		t.Fatalf("failed to migrate catalog: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
	})
	return c
}

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func createRoot(t *testing.T, c *SQLiteCatalog, id, path string, depth int) *model.RootDirectory {
	t.Helper()
	root := &model.RootDirectory{ID: id, Path: path, Depth: depth, CreatedAt: testTime}
	if err := c.CreateRootDirectory(root); err != nil {
		t.Fatalf("CreateRootDirectory() error = %v", err)
	}
	return root
}

func createDir(t *testing.T, c *SQLiteCatalog, id, path, rootID string) *model.Directory {
	t.Helper()
	dir := &model.Directory{
		ID:              id,
		Path:            path,
		Fingerprint:     "fp-" + id,
		RootDirectoryID: rootID,
		CreatedAt:       testTime,
		UpdatedAt:       testTime,
	}
	if err := c.CreateDirectory(dir); err != nil {
		t.Fatalf("CreateDirectory() error = %v", err)
	}
	return dir
}

func createArchive(t *testing.T, c *SQLiteCatalog, id, dirID string) *model.Archive {
	t.Helper()
	archive := &model.Archive{
		ID:                id,
		Name:              "srv-" + id,
		RepositoryID:      "repo-1",
		EngineArchiveID:   "snap-" + id,
		EngineArchiveName: "srv-" + id + ".2024-03-01T12:00:00.000000",
		SourcePath:        "/srv/" + id,
		CreatedAt:         testTime,
		Fingerprint:       "fp-" + dirID,
		DirectoryID:       sql.NullString{String: dirID, Valid: dirID != ""},
	}
	if err := c.CreateArchive(archive); err != nil {
		t.Fatalf("CreateArchive() error = %v", err)
	}
	return archive
}

func TestSQLiteCatalog_RootDirectories(t *testing.T) {
	t.Run("returns nil when root not found", func(t *testing.T) {
		c := newTestCatalog(t)

		root, err := c.FindRootDirectoryByPath("/nonexistent")
		if err != nil {
			t.Fatalf("FindRootDirectoryByPath() error = %v", err)
		}
		if root != nil {
			t.Errorf("FindRootDirectoryByPath() = %v, want nil", root)
		}

		root, err = c.FindRootDirectoryByID("missing")
		if err != nil {
			t.Fatalf("FindRootDirectoryByID() error = %v", err)
		}
		if root != nil {
			t.Errorf("FindRootDirectoryByID() = %v, want nil", root)
		}
	})

	t.Run("round trips fields", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 2)

		got, err := c.FindRootDirectoryByPath("/srv")
		if err != nil {
			t.Fatalf("FindRootDirectoryByPath() error = %v", err)
		}
		if got == nil {
			t.Fatal("FindRootDirectoryByPath() returned nil")
		}
		if got.ID != "root-1" || got.Depth != 2 {
			t.Errorf("got %+v, want id root-1 depth 2", got)
		}
		if !got.CreatedAt.Equal(testTime) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testTime)
		}
	})

	t.Run("duplicate path is rejected", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 1)

		err := c.CreateRootDirectory(&model.RootDirectory{ID: "root-2", Path: "/srv", CreatedAt: testTime})
		if err == nil {
			t.Error("CreateRootDirectory() with duplicate path succeeded")
		}
	})

	t.Run("list is ordered by path", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "b", "/srv/b", 1)
		createRoot(t, c, "a", "/srv/a", 1)

		roots, err := c.ListRootDirectories()
		if err != nil {
			t.Fatalf("ListRootDirectories() error = %v", err)
		}
		if len(roots) != 2 || roots[0].Path != "/srv/a" || roots[1].Path != "/srv/b" {
			t.Errorf("ListRootDirectories() = %v, want /srv/a then /srv/b", roots)
		}
	})

	t.Run("delete cascades to directories but not archives", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 1)
		createDir(t, c, "dir-1", "/srv/a", "root-1")
		createArchive(t, c, "arc-1", "dir-1")

		if err := c.DeleteRootDirectory("root-1"); err != nil {
			t.Fatalf("DeleteRootDirectory() error = %v", err)
		}

		dirs, err := c.ListDirectories()
		if err != nil {
			t.Fatalf("ListDirectories() error = %v", err)
		}
		if len(dirs) != 0 {
			t.Errorf("directories after root delete = %d, want 0", len(dirs))
		}

		archive, err := c.FindArchiveByID("arc-1")
		if err != nil {
			t.Fatalf("FindArchiveByID() error = %v", err)
		}
		if archive == nil {
			t.Error("archive was removed with its root")
		}
	})
}

func TestSQLiteCatalog_Directories(t *testing.T) {
	t.Run("returns nil when directory not found", func(t *testing.T) {
		c := newTestCatalog(t)

		dir, err := c.FindDirectoryByPath("/nonexistent/path")
		if err != nil {
			t.Fatalf("FindDirectoryByPath() error = %v", err)
		}
		if dir != nil {
			t.Errorf("FindDirectoryByPath() = %v, want nil", dir)
		}
	})

	t.Run("finds existing directory", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 1)
		created := createDir(t, c, "dir-1", "/srv/a", "root-1")

		found, err := c.FindDirectoryByPath("/srv/a")
		if err != nil {
			t.Fatalf("FindDirectoryByPath() error = %v", err)
		}
		if found == nil {
			t.Fatal("FindDirectoryByPath() returned nil, want directory")
		}
		if found.ID != created.ID || found.RootDirectoryID != "root-1" || found.Fingerprint != "fp-dir-1" {
			t.Errorf("found %+v, want %+v", found, created)
		}

		byID, err := c.FindDirectoryByID("dir-1")
		if err != nil {
			t.Fatalf("FindDirectoryByID() error = %v", err)
		}
		if byID == nil || byID.Path != "/srv/a" {
			t.Errorf("FindDirectoryByID() = %v, want /srv/a", byID)
		}
	})

	t.Run("requires existing root", func(t *testing.T) {
		c := newTestCatalog(t)

		err := c.CreateDirectory(&model.Directory{
			ID: "dir-1", Path: "/srv/a", RootDirectoryID: "missing",
			CreatedAt: testTime, UpdatedAt: testTime,
		})
		if err == nil {
			t.Error("CreateDirectory() with unknown root succeeded")
		}
	})

	t.Run("update fingerprint", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 1)
		createDir(t, c, "dir-1", "/srv/a", "root-1")

		if err := c.UpdateDirectoryFingerprint("dir-1", "new-fp"); err != nil {
			t.Fatalf("UpdateDirectoryFingerprint() error = %v", err)
		}

		dir, _ := c.FindDirectoryByID("dir-1")
		if dir.Fingerprint != "new-fp" {
			t.Errorf("Fingerprint = %q, want new-fp", dir.Fingerprint)
		}
		if !dir.UpdatedAt.After(testTime) {
			t.Errorf("UpdatedAt = %v, want after %v", dir.UpdatedAt, testTime)
		}
	})

	t.Run("update fingerprint of missing directory fails", func(t *testing.T) {
		c := newTestCatalog(t)

		if err := c.UpdateDirectoryFingerprint("missing", "fp"); err == nil {
			t.Error("UpdateDirectoryFingerprint() on missing directory succeeded")
		}
	})

	t.Run("delete", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 1)
		createDir(t, c, "dir-1", "/srv/a", "root-1")

		if err := c.DeleteDirectory("dir-1"); err != nil {
			t.Fatalf("DeleteDirectory() error = %v", err)
		}
		dir, err := c.FindDirectoryByID("dir-1")
		if err != nil {
			t.Fatalf("FindDirectoryByID() error = %v", err)
		}
		if dir != nil {
			t.Error("directory still present after delete")
		}
	})
}

func TestSQLiteCatalog_DirectoriesByArchiveState(t *testing.T) {
	c := newTestCatalog(t)
	createRoot(t, c, "root-1", "/srv", 1)
	createRoot(t, c, "root-2", "/home", 1)
	createDir(t, c, "dir-a", "/srv/a", "root-1")
	createDir(t, c, "dir-b", "/srv/b", "root-1")
	createDir(t, c, "dir-c", "/srv/c", "root-1")
	createDir(t, c, "dir-h", "/home/h", "root-2")
	createArchive(t, c, "arc-b", "dir-b")

	without, err := c.FindDirectoriesWithoutArchive("root-1")
	if err != nil {
		t.Fatalf("FindDirectoriesWithoutArchive() error = %v", err)
	}
	if len(without) != 2 || without[0].ID != "dir-a" || without[1].ID != "dir-c" {
		t.Errorf("FindDirectoriesWithoutArchive() = %v, want dir-a, dir-c", without)
	}

	with, err := c.FindDirectoriesWithArchive("root-1")
	if err != nil {
		t.Fatalf("FindDirectoriesWithArchive() error = %v", err)
	}
	if len(with) != 1 || with[0].ID != "dir-b" {
		t.Errorf("FindDirectoriesWithArchive() = %v, want dir-b", with)
	}
}

func TestSQLiteCatalog_Archives(t *testing.T) {
	t.Run("returns nil when archive not found", func(t *testing.T) {
		c := newTestCatalog(t)

		for name, find := range map[string]func() (*model.Archive, error){
			"by id":        func() (*model.Archive, error) { return c.FindArchiveByID("missing") },
			"by directory": func() (*model.Archive, error) { return c.FindArchiveByDirectoryID("missing") },
			"by engine id": func() (*model.Archive, error) { return c.FindArchiveByEngineID("repo-1", "missing") },
		} {
			archive, err := find()
			if err != nil {
				t.Fatalf("%s: error = %v", name, err)
			}
			if archive != nil {
				t.Errorf("%s: got %v, want nil", name, archive)
			}
		}
	})

	t.Run("round trips fields", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 1)
		createDir(t, c, "dir-1", "/srv/a", "root-1")
		want := createArchive(t, c, "arc-1", "dir-1")

		got, err := c.FindArchiveByEngineID("repo-1", "snap-arc-1")
		if err != nil {
			t.Fatalf("FindArchiveByEngineID() error = %v", err)
		}
		if got == nil {
			t.Fatal("FindArchiveByEngineID() returned nil")
		}
		if got.ID != want.ID || got.Name != want.Name || got.EngineArchiveName != want.EngineArchiveName ||
			got.SourcePath != want.SourcePath || got.Fingerprint != want.Fingerprint {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if got.DirectoryID != want.DirectoryID {
			t.Errorf("DirectoryID = %v, want %v", got.DirectoryID, want.DirectoryID)
		}

		byDir, err := c.FindArchiveByDirectoryID("dir-1")
		if err != nil {
			t.Fatalf("FindArchiveByDirectoryID() error = %v", err)
		}
		if byDir == nil || byDir.ID != "arc-1" {
			t.Errorf("FindArchiveByDirectoryID() = %v, want arc-1", byDir)
		}

		byName, err := c.FindArchivesByName("srv-arc-1")
		if err != nil {
			t.Fatalf("FindArchivesByName() error = %v", err)
		}
		if len(byName) != 1 || byName[0].ID != "arc-1" {
			t.Errorf("FindArchivesByName() = %v, want [arc-1]", byName)
		}
		if none, err := c.FindArchivesByName("srv-missing"); err != nil || len(none) != 0 {
			t.Errorf("FindArchivesByName(missing) = %v, %v; want empty", none, err)
		}
	})

	t.Run("archive without directory", func(t *testing.T) {
		c := newTestCatalog(t)
		createArchive(t, c, "arc-1", "")

		got, err := c.FindArchiveByID("arc-1")
		if err != nil {
			t.Fatalf("FindArchiveByID() error = %v", err)
		}
		if got.DirectoryID.Valid {
			t.Errorf("DirectoryID = %v, want NULL", got.DirectoryID)
		}
	})

	t.Run("update", func(t *testing.T) {
		c := newTestCatalog(t)
		createRoot(t, c, "root-1", "/srv", 1)
		createDir(t, c, "dir-1", "/srv/a", "root-1")
		archive := createArchive(t, c, "arc-1", "dir-1")

		archive.EngineArchiveID = "snap-2"
		archive.EngineArchiveName = "srv-arc-1.2024-03-02T12:00:00.000000"
		archive.Fingerprint = "fp-new"
		archive.CreatedAt = testTime.Add(24 * time.Hour)
		if err := c.UpdateArchive(archive); err != nil {
			t.Fatalf("UpdateArchive() error = %v", err)
		}

		got, _ := c.FindArchiveByID("arc-1")
		if got.EngineArchiveID != "snap-2" || got.Fingerprint != "fp-new" {
			t.Errorf("got %+v after update", got)
		}
		if !got.CreatedAt.Equal(archive.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, archive.CreatedAt)
		}
	})

	t.Run("update of missing archive fails", func(t *testing.T) {
		c := newTestCatalog(t)

		if err := c.UpdateArchive(&model.Archive{ID: "missing"}); err == nil {
			t.Error("UpdateArchive() on missing archive succeeded")
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		c := newTestCatalog(t)
		createArchive(t, c, "arc-1", "")
		createArchive(t, c, "arc-2", "")

		archives, err := c.ListArchives()
		if err != nil {
			t.Fatalf("ListArchives() error = %v", err)
		}
		if len(archives) != 2 {
			t.Fatalf("ListArchives() = %d archives, want 2", len(archives))
		}

		if err := c.DeleteArchive("arc-1"); err != nil {
			t.Fatalf("DeleteArchive() error = %v", err)
		}
		archives, _ = c.ListArchives()
		if len(archives) != 1 || archives[0].ID != "arc-2" {
			t.Errorf("ListArchives() after delete = %v, want arc-2", archives)
		}
	})
}

func TestSQLiteCatalog_Operations(t *testing.T) {
	t.Run("create and list operations", func(t *testing.T) {
		c := newTestCatalog(t)

		op1, err := c.CreateOperation("watch", "/srv")
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}
		if op1.ID == 0 {
			t.Error("operation ID should be non-zero")
		}
		if op1.Operation != "watch" || op1.Status != "running" {
			t.Errorf("got %+v, want watch/running", op1)
		}

		op2, err := c.CreateOperation("scan", "")
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}

		ops, err := c.ListOperations(10)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("got %d operations, want 2", len(ops))
		}

		// Newest first
		if ops[0].ID != op2.ID {
			t.Errorf("expected newest first: got ID %d, want %d", ops[0].ID, op2.ID)
		}
	})

	t.Run("finish operation sets status and time", func(t *testing.T) {
		c := newTestCatalog(t)

		op, _ := c.CreateOperation("scan", "")
		if err := c.FinishOperation(op.ID, "success"); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}

		ops, _ := c.ListOperations(1)
		if ops[0].Status != "success" {
			t.Errorf("Status = %q, want %q", ops[0].Status, "success")
		}
		if !ops[0].FinishedAt.Valid {
			t.Error("FinishedAt should be set")
		}
	})

	t.Run("max operation ID", func(t *testing.T) {
		c := newTestCatalog(t)

		maxID, err := c.MaxOperationID()
		if err != nil {
			t.Fatalf("MaxOperationID() error = %v", err)
		}
		if maxID != 0 {
			t.Errorf("MaxOperationID() = %d, want 0", maxID)
		}

		c.CreateOperation("op1", "")
		op2, _ := c.CreateOperation("op2", "")

		maxID, err = c.MaxOperationID()
		if err != nil {
			t.Fatalf("MaxOperationID() error = %v", err)
		}
		if maxID != op2.ID {
			t.Errorf("MaxOperationID() = %d, want %d", maxID, op2.ID)
		}
	})
}

func TestSQLiteCatalog_BackupTo(t *testing.T) {
	c := newTestCatalog(t)
	createRoot(t, c, "root-1", "/srv", 1)

	destPath := filepath.Join(t.TempDir(), "backup.db")
	if err := c.BackupTo(destPath); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	backup, err := NewSQLiteCatalog(destPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	if err := backup.CheckMigrations(); err != nil {
		t.Errorf("backup schema is not current: %v", err)
	}

	root, err := backup.FindRootDirectoryByPath("/srv")
	if err != nil {
		t.Fatalf("FindRootDirectoryByPath() error = %v", err)
	}
	if root == nil {
		t.Error("backup does not contain the root directory")
	}
}

func TestSQLiteCatalog_CheckMigrations(t *testing.T) {
	t.Run("fails on catalog without migrations applied", func(t *testing.T) {
		c, err := NewSQLiteCatalog(":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteCatalog() error = %v", err)
		}
		defer c.Close()

		if err := c.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})

	t.Run("passes after migrate", func(t *testing.T) {
		c := newTestCatalog(t)

		if err := c.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})
}
