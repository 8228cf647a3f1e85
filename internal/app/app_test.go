package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"permafrost/internal/config"
	"permafrost/internal/mirror"
	"permafrost/internal/pf"
)

const testHost = "test-host"

// testConfig returns a config using the memory engine, a sqlite catalog
// and a filesystem mirror, all below a fresh temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig(testHost, dir)
	cfg.Engine = config.EngineConfig{Type: "memory"}
	cfg.Mirrors = []config.MirrorConfig{
		{Type: "filesystem", Name: "usb", FSRoot: filepath.Join(dir, "mirror")},
	}
	return cfg
}

func openTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := newApp(cfg, pf.NewNopLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// makeTree creates directories below a new source root.
func makeTree(t *testing.T, cfg *config.Config, dirs ...string) string {
	t.Helper()
	src := filepath.Join(cfg.BaseDir, "src")
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(src, d), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(src, d, "data.txt"), []byte(d), 0644); err != nil {
			t.Fatal(err)
		}
	}
	canonical, err := filepath.EvalSymlinks(src)
	if err != nil {
		t.Fatal(err)
	}
	return canonical
}

func mirrorVersion(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	m, err := mirror.NewMirrorFromConfig(cfg.Mirrors[0])
	if err != nil {
		t.Fatalf("NewMirrorFromConfig() error = %v", err)
	}
	v, err := m.SnapshotVersion(testHost)
	if err != nil {
		t.Fatalf("SnapshotVersion() error = %v", err)
	}
	return v
}

func operations(t *testing.T, a *App) []string {
	t.Helper()
	ops, err := a.History(100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.Operation+":"+op.Status)
	}
	return names
}

func TestApp_Workflow(t *testing.T) {
	cfg := testConfig(t)
	src := makeTree(t, cfg, "a", "b")
	a := openTestApp(t, cfg)

	if err := a.Init("", ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(cfg.Repository.Location); err != nil {
		t.Errorf("repository directory not created: %v", err)
	}

	if _, err := a.Watch(src, 1); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	report, err := a.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if report.Created != 2 {
		t.Errorf("Created = %d, want 2", report.Created)
	}

	target, err := a.Target(TargetSpec{DirectoryPath: filepath.Join(src, "a")})
	if err != nil {
		t.Fatalf("Target() error = %v", err)
	}
	result, err := a.Create(target, LifecycleOptions{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	archive := result.Outcomes[0].Archive

	want := []string{"create:success", "scan:success", "watch:success", "init:success"}
	if got := operations(t, a); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("history = %v, want %v", got, want)
	}
	if v := mirrorVersion(t, cfg); v != 4 {
		t.Errorf("mirror version = %d, want 4", v)
	}

	t.Run("read-only and dry-run operations are not recorded", func(t *testing.T) {
		bTarget, err := a.Target(TargetSpec{DirectoryPath: filepath.Join(src, "b")})
		if err != nil {
			t.Fatalf("Target() error = %v", err)
		}
		if _, err := a.Create(bTarget, LifecycleOptions{DryRun: true}); err != nil {
			t.Fatalf("dry-run Create() error = %v", err)
		}
		if err := a.Check(archive.ID, LifecycleOptions{}); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if _, err := a.Status(); err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if n := len(operations(t, a)); n != 4 {
			t.Errorf("history length = %d, want 4", n)
		}
	})

	t.Run("failed operations are recorded as errors", func(t *testing.T) {
		if err := a.Delete("no-such-archive", LifecycleOptions{}); !errors.Is(err, pf.ErrArchiveMissing) {
			t.Fatalf("Delete() error = %v, want ErrArchiveMissing", err)
		}
		if got := operations(t, a)[0]; got != "delete:error" {
			t.Errorf("latest operation = %q, want delete:error", got)
		}
		if v := mirrorVersion(t, cfg); v != 5 {
			t.Errorf("mirror version = %d, want 5", v)
		}
	})

	t.Run("drift lists the unbacked directory", func(t *testing.T) {
		drift, err := a.Drift()
		if err != nil {
			t.Fatalf("Drift() error = %v", err)
		}
		if len(drift) != 1 || drift[0].Directory.Path != filepath.Join(src, "b") {
			t.Errorf("Drift() = %v, want only %s", drift, filepath.Join(src, "b"))
		}
	})

	t.Run("unwatch accepts a removed path", func(t *testing.T) {
		if err := os.RemoveAll(src); err != nil {
			t.Fatal(err)
		}
		if err := a.Unwatch(src); err != nil {
			t.Fatalf("Unwatch() error = %v", err)
		}
		roots, _ := a.RootDirectories()
		if len(roots) != 0 {
			t.Errorf("roots = %d, want 0", len(roots))
		}
	})
}

func TestApp_Target(t *testing.T) {
	cfg := testConfig(t)
	src := makeTree(t, cfg, "a")
	a := openTestApp(t, cfg)
	if _, err := a.Watch(src, 1); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	tests := []struct {
		name    string
		spec    TargetSpec
		wantErr error
		check   func(pf.Target) bool
	}{
		{"root path", TargetSpec{RootPath: src}, nil, func(tg pf.Target) bool { return tg.RootDirectoryID != "" }},
		{"archive id", TargetSpec{ArchiveID: "x"}, nil, func(tg pf.Target) bool { return tg.ArchiveID == "x" }},
		{"unscanned directory", TargetSpec{DirectoryPath: filepath.Join(src, "a")}, pf.ErrDirectoryNotFound, nil},
		{"unwatched root", TargetSpec{RootPath: "/nowhere"}, pf.ErrRootNotWatched, nil},
		{"empty", TargetSpec{}, pf.ErrInvalidTarget, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Target(tt.spec)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Target() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Target() error = %v", err)
			}
			if !tt.check(got) {
				t.Errorf("Target() = %+v", got)
			}
		})
	}
}

func TestApp_MirrorVersionCheck(t *testing.T) {
	cfg := testConfig(t)
	src := makeTree(t, cfg, "a")
	a := openTestApp(t, cfg)
	if _, err := a.Watch(src, 1); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if _, err := a.Scan(); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	a.Close()

	// A second host configuration pointing at the same mirror with an
	// empty catalog is behind.
	fresh := *cfg
	fresh.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(t.TempDir(), "db")}
	if _, err := newApp(&fresh, pf.NewNopLogger()); err == nil || !strings.Contains(err.Error(), "behind") {
		t.Fatalf("newApp() error = %v, want local catalog is behind", err)
	}

	version, err := RestoreCatalog(&fresh, "usb", "")
	if err != nil {
		t.Fatalf("RestoreCatalog() error = %v", err)
	}
	if version != 2 {
		t.Errorf("restored version = %d, want 2", version)
	}

	restored := openTestApp(t, &fresh)
	want := []string{"scan:success", "watch:success"}
	if got := operations(t, restored); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("restored history = %v, want %v", got, want)
	}
	roots, _ := restored.RootDirectories()
	if len(roots) != 1 || roots[0].Path != src {
		t.Errorf("restored roots = %v, want %s", roots, src)
	}
}

func TestApp_EncryptedSnapshots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	a := openTestApp(t, cfg)
	if err := a.Init("", "none"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	a.Close()

	m, _ := mirror.NewMirrorFromConfig(cfg.Mirrors[0])
	var buf bytes.Buffer
	if err := m.GetSnapshot(testHost, &buf); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("PFTEST")) {
		t.Error("mirrored snapshot is not encrypted")
	}

	restoreCfg := *cfg
	restoreCfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(t.TempDir(), "db")}
	if _, err := RestoreCatalog(&restoreCfg, "", "secret"); err != nil {
		t.Fatalf("RestoreCatalog() error = %v", err)
	}
	restored := openTestApp(t, &restoreCfg)
	if got := operations(t, restored); len(got) != 1 || got[0] != "init:success" {
		t.Errorf("restored history = %v, want [init:success]", got)
	}
}

func TestRestoreCatalog_Errors(t *testing.T) {
	t.Run("empty mirror", func(t *testing.T) {
		cfg := testConfig(t)
		if _, err := RestoreCatalog(cfg, "", ""); err == nil {
			t.Error("RestoreCatalog() expected error for empty mirror")
		}
	})

	t.Run("unknown mirror", func(t *testing.T) {
		cfg := testConfig(t)
		if _, err := RestoreCatalog(cfg, "nas", ""); err == nil {
			t.Error("RestoreCatalog() expected error for unknown mirror")
		}
	})

	t.Run("memory database", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database = config.DatabaseConfig{Type: "memory"}
		if _, err := RestoreCatalog(cfg, "", ""); err == nil {
			t.Error("RestoreCatalog() expected error for memory database")
		}
	})

	t.Run("existing catalog is kept as backup", func(t *testing.T) {
		cfg := testConfig(t)
		a := openTestApp(t, cfg)
		if err := a.Init("", "none"); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		a.Close()

		if _, err := RestoreCatalog(cfg, "usb", ""); err != nil {
			t.Fatalf("RestoreCatalog() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Database.DataDir, "catalog.db.bak")); err != nil {
			t.Errorf("backup of previous catalog missing: %v", err)
		}
	})
}

func TestSetupEncryption(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Encryption.Type = "none"
		if err := SetupEncryption(cfg, "pw"); err == nil {
			t.Error("SetupEncryption() expected error when encryption is disabled")
		}
	})

	t.Run("age without keys blocks mirroring", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Encryption.Type = "age"
		if _, err := newApp(cfg, pf.NewNopLogger()); err == nil || !strings.Contains(err.Error(), "keygen") {
			t.Fatalf("newApp() error = %v, want keygen hint", err)
		}

		if err := SetupEncryption(cfg, "correct horse"); err != nil {
			t.Fatalf("SetupEncryption() error = %v", err)
		}
		a := openTestApp(t, cfg)
		if err := a.Init("", "none"); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
	})
}

func TestApp_Serve(t *testing.T) {
	cfg := testConfig(t)
	a := openTestApp(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/status")
	if err != nil {
		cancel()
		t.Fatalf("GET /api/status error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("GET /api/status = %d %s, want 200 []", resp.StatusCode, body)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestNew_WritesLogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mirrors = nil
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Init("", "none"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "repository initialized") {
		t.Errorf("log file lacks init message:\n%s", data)
	}
}
