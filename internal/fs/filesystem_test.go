package fs

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"permafrost/internal/pf"
)

func mkdirs(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		if err := os.MkdirAll(filepath.Join(root, rel), 0755); err != nil {
			t.Fatalf("creating %s: %v", rel, err)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestOSFilesystemManager_Resolve(t *testing.T) {
	m := NewOSFilesystemManager(nil)

	t.Run("resolves symlinks", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "target")
		mkdirs(t, dir, "target")
		link := filepath.Join(dir, "link")
		if err := os.Symlink(target, link); err != nil {
			t.Fatalf("creating symlink: %v", err)
		}

		want, err := filepath.EvalSymlinks(target)
		if err != nil {
			t.Fatalf("EvalSymlinks() error = %v", err)
		}

		got, err := m.Resolve(link)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got.String() != want {
			t.Errorf("Resolve() = %q, want %q", got.String(), want)
		}
		if !got.IsDir() {
			t.Error("IsDir() = false, want true")
		}
	})

	t.Run("relative path becomes absolute", func(t *testing.T) {
		got, err := m.Resolve(".")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !filepath.IsAbs(got.String()) {
			t.Errorf("Resolve(\".\") = %q, want absolute path", got.String())
		}
	})

	t.Run("regular file is not a directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file.txt")
		writeFile(t, file, "x")

		got, err := m.Resolve(file)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got.IsDir() {
			t.Error("IsDir() = true for a file")
		}
	})

	t.Run("missing path fails", func(t *testing.T) {
		_, err := m.Resolve(filepath.Join(t.TempDir(), "missing"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Resolve() error = %v, want ErrNotExist", err)
		}
	})
}

func TestOSFilesystemManager_IsDir(t *testing.T) {
	m := NewOSFilesystemManager(nil)
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	writeFile(t, file, "x")

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"directory", dir, true},
		{"file", file, false},
		{"missing", filepath.Join(dir, "missing"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.IsDir(tt.path)
			if err != nil {
				t.Fatalf("IsDir() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsDir(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestOSFilesystemManager_FindTrackedDirectories(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root,
		"b/y",
		"a/x",
		"a/w/deep",
		".hidden/z",
		"c",
		"node_modules/pkg",
	)
	writeFile(t, filepath.Join(root, "a", "file.txt"), "not a directory")
	if err := os.Symlink(filepath.Join(root, "b"), filepath.Join(root, "link")); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	m := NewOSFilesystemManager([]string{"node_modules"})

	tests := []struct {
		name  string
		depth int
		want  []string
	}{
		{"depth 0 tracks root", 0, []string{root}},
		{"depth 1", 1, []string{
			filepath.Join(root, "a"),
			filepath.Join(root, "b"),
			filepath.Join(root, "c"),
		}},
		{"depth 2", 2, []string{
			filepath.Join(root, "a", "w"),
			filepath.Join(root, "a", "x"),
			filepath.Join(root, "b", "y"),
		}},
		{"depth 3", 3, []string{
			filepath.Join(root, "a", "w", "deep"),
		}},
		{"deeper than tree", 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FindTrackedDirectories(root, tt.depth)
			if err != nil {
				t.Fatalf("FindTrackedDirectories() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindTrackedDirectories(%d) = %v, want %v", tt.depth, got, tt.want)
			}
		})
	}

	t.Run("ignore file in root", func(t *testing.T) {
		writeFile(t, filepath.Join(root, IgnoreFileName), "b\n")
		defer os.Remove(filepath.Join(root, IgnoreFileName))

		got, err := m.FindTrackedDirectories(root, 1)
		if err != nil {
			t.Fatalf("FindTrackedDirectories() error = %v", err)
		}
		want := []string{filepath.Join(root, "a"), filepath.Join(root, "c")}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("FindTrackedDirectories() = %v, want %v", got, want)
		}
	})

	t.Run("negative depth", func(t *testing.T) {
		if _, err := m.FindTrackedDirectories(root, -1); err == nil {
			t.Error("FindTrackedDirectories(-1) expected error")
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := m.FindTrackedDirectories(filepath.Join(root, "missing"), 1); err == nil {
			t.Error("FindTrackedDirectories() on missing root expected error")
		}
	})

	t.Run("depth 0 on missing root", func(t *testing.T) {
		_, err := m.FindTrackedDirectories(filepath.Join(root, "missing"), 0)
		if !errors.Is(err, pf.ErrNotADirectory) {
			t.Errorf("error = %v, want ErrNotADirectory", err)
		}
	})
}

func TestOSFilesystemManager_Fingerprint(t *testing.T) {
	m := NewOSFilesystemManager(nil)

	setup := func(t *testing.T) string {
		t.Helper()
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "one.txt"), "1")
		writeFile(t, filepath.Join(dir, "sub", "two.txt"), "2")
		return dir
	}

	fingerprint := func(t *testing.T, dir string) string {
		t.Helper()
		fp, err := m.Fingerprint(dir)
		if err != nil {
			t.Fatalf("Fingerprint() error = %v", err)
		}
		return fp
	}

	t.Run("stable without changes", func(t *testing.T) {
		dir := setup(t)
		first := fingerprint(t, dir)
		if len(first) != 64 {
			t.Errorf("fingerprint length = %d, want 64 hex chars", len(first))
		}
		if second := fingerprint(t, dir); second != first {
			t.Errorf("fingerprint changed without modification: %s != %s", second, first)
		}
	})

	t.Run("content change without mtime change is not detected", func(t *testing.T) {
		dir := setup(t)
		path := filepath.Join(dir, "one.txt")
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		before := fingerprint(t, dir)

		writeFile(t, path, "9")
		if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}

		if after := fingerprint(t, dir); after != before {
			t.Error("fingerprint should depend on mtime only, not content")
		}
	})

	changes := []struct {
		name   string
		modify func(t *testing.T, dir string)
	}{
		{"mtime change", func(t *testing.T, dir string) {
			later := time.Now().Add(time.Hour)
			if err := os.Chtimes(filepath.Join(dir, "sub", "two.txt"), later, later); err != nil {
				t.Fatalf("Chtimes() error = %v", err)
			}
		}},
		{"file added", func(t *testing.T, dir string) {
			writeFile(t, filepath.Join(dir, "three.txt"), "3")
		}},
		{"file removed", func(t *testing.T, dir string) {
			if err := os.Remove(filepath.Join(dir, "one.txt")); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
		}},
		{"symlink added", func(t *testing.T, dir string) {
			if err := os.Symlink("one.txt", filepath.Join(dir, "link")); err != nil {
				t.Fatalf("Symlink() error = %v", err)
			}
		}},
		{"file renamed", func(t *testing.T, dir string) {
			if err := os.Rename(filepath.Join(dir, "one.txt"), filepath.Join(dir, "uno.txt")); err != nil {
				t.Fatalf("Rename() error = %v", err)
			}
		}},
	}

	for _, tc := range changes {
		t.Run(tc.name+" changes fingerprint", func(t *testing.T) {
			dir := setup(t)
			before := fingerprint(t, dir)
			tc.modify(t, dir)
			if after := fingerprint(t, dir); after == before {
				t.Errorf("fingerprint unchanged after %s", tc.name)
			}
		})
	}

	t.Run("symlink retarget with same mtime changes fingerprint", func(t *testing.T) {
		dir := setup(t)
		link := filepath.Join(dir, "link")
		if err := os.Symlink("one.txt", link); err != nil {
			t.Fatalf("Symlink() error = %v", err)
		}
		info, err := os.Lstat(link)
		if err != nil {
			t.Fatalf("Lstat() error = %v", err)
		}
		before := fingerprint(t, dir)

		if err := os.Remove(link); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if err := os.Symlink(filepath.Join("sub", "two.txt"), link); err != nil {
			t.Fatalf("Symlink() error = %v", err)
		}
		ts := unix.NsecToTimespec(info.ModTime().UnixNano())
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, link, []unix.Timespec{ts, ts}, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			t.Fatalf("UtimesNanoAt() error = %v", err)
		}

		if after := fingerprint(t, dir); after == before {
			t.Error("fingerprint unchanged after symlink retarget")
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		a := fingerprint(t, t.TempDir())
		b := fingerprint(t, t.TempDir())
		if a != b {
			t.Errorf("empty directories differ: %s != %s", a, b)
		}
	})

	t.Run("missing directory fails", func(t *testing.T) {
		if _, err := m.Fingerprint(filepath.Join(t.TempDir(), "missing")); err == nil {
			t.Error("Fingerprint() on missing directory expected error")
		}
	})
}

func TestOSFilesystemManager_MkdirAll(t *testing.T) {
	m := NewOSFilesystemManager(nil)
	path := filepath.Join(t.TempDir(), "a", "b", "c")

	if err := m.MkdirAll(path); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	isDir, err := m.IsDir(path)
	if err != nil || !isDir {
		t.Errorf("IsDir() = %v, %v after MkdirAll", isDir, err)
	}
}
