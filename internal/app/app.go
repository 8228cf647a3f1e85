package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"permafrost/internal/config"
	"permafrost/internal/database"
	"permafrost/internal/disk"
	"permafrost/internal/encryption"
	"permafrost/internal/engine"
	"permafrost/internal/fs"
	"permafrost/internal/mirror"
	"permafrost/internal/model"
	"permafrost/internal/pf"
	"permafrost/internal/server"
	"permafrost/internal/task"
)

// App is the application layer between the CLI or HTTP API and pf.Service.
// It constructs all dependencies from config, exposes operations that
// accept raw string paths, records mutating operations in the history and
// mirrors the catalog after each of them.
type App struct {
	cfg       *config.Config
	catalog   *database.SQLiteCatalog
	fsmgr     pf.FilesystemManager
	mirrors   []pf.Mirror
	encryptor pf.Encryptor
	service   *pf.Service
	logger    pf.Logger
	logFile   io.Closer

	publishMu sync.Mutex
}

// New creates a fully wired App from the given config.
// The caller must call Close when done.
func New(cfg *config.Config) (*App, error) {
	session := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, cfg.Log, session)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := newApp(cfg, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newApp(cfg *config.Config, logger pf.Logger) (*App, error) {
	mirrors, err := mirror.NewMirrorsFromConfig(cfg.Mirrors)
	if err != nil {
		return nil, fmt.Errorf("creating mirrors: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if len(mirrors) > 0 && enc != nil && !enc.IsConfigured() {
		return nil, fmt.Errorf("catalog encryption has no key pair: run `permafrost catalog keygen` first")
	}

	probe, err := disk.NewProbeFromConfig(cfg.Disk)
	if err != nil {
		return nil, fmt.Errorf("creating disk probe: %w", err)
	}

	var passphrase string
	if cfg.Engine.PassphraseEnv != "" {
		passphrase = os.Getenv(cfg.Engine.PassphraseEnv)
	}
	eng, err := engine.NewEngineFromConfig(cfg.Engine, passphrase, logger)
	if err != nil {
		return nil, fmt.Errorf("creating archive engine: %w", err)
	}

	catalog, err := openCatalog(cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := checkMirrorVersions(catalog, mirrors, cfg.HostID); err != nil {
		catalog.Close()
		return nil, err
	}

	fsmgr := fs.NewOSFilesystemManager(cfg.Filesystem.Ignore)
	svc := pf.NewService(catalog, eng, probe, fsmgr, logger, pf.RealClock{}, pf.UUIDGenerator{})

	return &App{
		cfg:       cfg,
		catalog:   catalog,
		fsmgr:     fsmgr,
		mirrors:   mirrors,
		encryptor: enc,
		service:   svc,
		logger:    logger,
	}, nil
}

// openCatalog opens the catalog and brings its schema up to date.
func openCatalog(cfg config.DatabaseConfig) (*database.SQLiteCatalog, error) {
	if cfg.Type == "sqlite" && cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	catalog, err := database.NewCatalogFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}
	if err := catalog.Migrate(); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}
	if err := catalog.CheckMigrations(); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("catalog schema out of date: %w", err)
	}
	return catalog, nil
}

// checkMirrorVersions refuses to run when a mirror holds a catalog newer
// than the local one, since writing to the local catalog would fork it.
func checkMirrorVersions(catalog pf.Catalog, mirrors []pf.Mirror, hostID string) error {
	localMax, err := catalog.MaxOperationID()
	if err != nil {
		return fmt.Errorf("checking local catalog version: %w", err)
	}
	for _, m := range mirrors {
		remote, err := m.SnapshotVersion(hostID)
		if err != nil {
			return fmt.Errorf("checking catalog version on mirror %s: %w", m.Name(), err)
		}
		if remote > localMax {
			return fmt.Errorf("local catalog is behind mirror %s (local=%d, mirror=%d): run `permafrost catalog restore` or re-initialize",
				m.Name(), localMax, remote)
		}
	}
	return nil
}

// Record runs fn as a recorded operation: the operation is written to the
// history before fn runs and finished with fn's outcome, then the catalog
// is published to the mirrors. It implements server.Recorder.
func (a *App) Record(operation string, parameters map[string]any, fn func() error) error {
	encoded, err := encodeParameters(parameters)
	if err != nil {
		return err
	}
	op, err := a.catalog.CreateOperation(operation, encoded)
	if err != nil {
		return fmt.Errorf("recording operation: %w", err)
	}

	runErr := fn()

	if err := a.catalog.FinishOperation(op.ID, operationStatus(runErr)); err != nil {
		return errors.Join(runErr, fmt.Errorf("finishing operation: %w", err))
	}
	if err := a.publish(); err != nil {
		a.logger.Error("publishing catalog failed", "operation", operation, "error", err)
		return errors.Join(runErr, err)
	}
	return runErr
}

// publish uploads a snapshot of the catalog to every mirror, versioned by
// the newest operation id it contains.
func (a *App) publish() error {
	if len(a.mirrors) == 0 {
		return nil
	}
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	version, err := a.catalog.MaxOperationID()
	if err != nil {
		return fmt.Errorf("reading catalog version: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "permafrost-catalog-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for catalog snapshot: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, database.CatalogFileName)
	if err := a.catalog.BackupTo(snapshot); err != nil {
		return err
	}

	upload := snapshot
	if a.encryptor != nil {
		upload = snapshot + ".age"
		if err := encryptFile(a.encryptor, snapshot, upload); err != nil {
			return err
		}
	}

	var errs []error
	for _, m := range a.mirrors {
		if err := putFile(m, a.cfg.HostID, upload, version); err != nil {
			errs = append(errs, fmt.Errorf("uploading catalog to mirror %s: %w", m.Name(), err))
			continue
		}
		a.logger.Debug("catalog published", "mirror", m.Name(), "version", version)
	}
	return errors.Join(errs...)
}

func encryptFile(enc pf.Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening catalog snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting catalog snapshot: %w", err)
	}
	return out.Close()
}

func putFile(m pf.Mirror, hostID, path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening catalog snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat catalog snapshot: %w", err)
	}
	return m.PutSnapshot(hostID, f, info.Size(), version)
}

// Service returns the underlying orchestrator.
func (a *App) Service() *pf.Service {
	return a.service
}

// Watch resolves rawPath and registers it as a root directory.
func (a *App) Watch(rawPath string, depth int) (*model.RootDirectory, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	var root *model.RootDirectory
	err = a.Record("watch", map[string]any{"path": p.String(), "depth": depth}, func() error {
		var err error
		root, err = a.service.Watch(p, depth)
		return err
	})
	return root, err
}

// Unwatch removes the root directory registered for rawPath. The path need
// not exist on disk anymore.
func (a *App) Unwatch(rawPath string) error {
	path, err := a.canonical(rawPath)
	if err != nil {
		return err
	}
	return a.Record("unwatch", map[string]any{"path": path}, func() error {
		return a.service.Unwatch(path)
	})
}

// canonical resolves rawPath when it exists and falls back to the
// absolute path otherwise.
func (a *App) canonical(rawPath string) (string, error) {
	if p, err := a.fsmgr.Resolve(rawPath); err == nil {
		return p.String(), nil
	}
	path, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return path, nil
}

// RootDirectories returns all watched roots.
func (a *App) RootDirectories() ([]*model.RootDirectory, error) {
	return a.service.RootDirectories()
}

// Scan synchronizes the catalog with the watched directories.
func (a *App) Scan() (*pf.ScanReport, error) {
	var report *pf.ScanReport
	err := a.Record("scan", nil, func() error {
		var err error
		report, err = a.service.Scan()
		return err
	})
	return report, err
}

// Status returns the backup state of every tracked directory.
func (a *App) Status() ([]*pf.DirectoryStatus, error) {
	return a.service.Status()
}

// Drift returns the directories that are unbacked or stale.
func (a *App) Drift() ([]*pf.DirectoryStatus, error) {
	return a.service.Drift()
}

// Init initializes a repository. Empty arguments fall back to the
// configured repository.
func (a *App) Init(location, encryptionMode string) error {
	location = a.location(location)
	encryptionMode = orDefault(encryptionMode, a.cfg.Repository.Encryption)
	return a.Record("init", map[string]any{"repository": location, "encryption": encryptionMode}, func() error {
		return a.service.Init(location, encryptionMode)
	})
}

// Repository returns the configured repository location.
func (a *App) Repository() string {
	return a.cfg.Repository.Location
}

func (a *App) location(location string) string {
	return orDefault(location, a.cfg.Repository.Location)
}

// List returns the snapshots of a repository matched against the catalog.
func (a *App) List(location string) (*pf.Listing, error) {
	return a.service.List(a.location(location))
}

// TargetSpec selects the directories of a lifecycle operation by path or
// archive id, as given on the command line.
type TargetSpec struct {
	DirectoryPath string
	ArchiveID     string
	RootPath      string
}

// Target resolves a TargetSpec to catalog ids.
func (a *App) Target(spec TargetSpec) (pf.Target, error) {
	switch {
	case spec.DirectoryPath != "":
		path, err := a.canonical(spec.DirectoryPath)
		if err != nil {
			return pf.Target{}, err
		}
		directory, err := a.catalog.FindDirectoryByPath(path)
		if err != nil {
			return pf.Target{}, fmt.Errorf("finding directory: %w", err)
		}
		if directory == nil {
			return pf.Target{}, fmt.Errorf("%w: %s is not tracked (run scan?)", pf.ErrDirectoryNotFound, path)
		}
		return pf.Target{DirectoryID: directory.ID}, nil
	case spec.RootPath != "":
		path, err := a.canonical(spec.RootPath)
		if err != nil {
			return pf.Target{}, err
		}
		root, err := a.catalog.FindRootDirectoryByPath(path)
		if err != nil {
			return pf.Target{}, fmt.Errorf("finding root directory: %w", err)
		}
		if root == nil {
			return pf.Target{}, fmt.Errorf("%w: %s", pf.ErrRootNotWatched, path)
		}
		return pf.Target{RootDirectoryID: root.ID}, nil
	case spec.ArchiveID != "":
		return pf.Target{ArchiveID: spec.ArchiveID}, nil
	default:
		return pf.Target{}, fmt.Errorf("%w: no directory, archive or root given", pf.ErrInvalidTarget)
	}
}

// LifecycleOptions are the settings shared by lifecycle operations. Empty
// fields fall back to the configured repository.
type LifecycleOptions struct {
	Repository  string
	Compression string
	DryRun      bool
	Repair      bool
}

func (a *App) complete(opts LifecycleOptions) LifecycleOptions {
	opts.Repository = a.location(opts.Repository)
	opts.Compression = orDefault(opts.Compression, a.cfg.Repository.Compression)
	return opts
}

// lifecycle runs a lifecycle operation, recorded unless it cannot change
// the catalog or the repository.
func (a *App) lifecycle(operation string, target string, opts LifecycleOptions, readOnly bool, fn func() error) error {
	if readOnly || opts.DryRun {
		return fn()
	}
	params := map[string]any{
		"target":     target,
		"repository": opts.Repository,
	}
	if opts.Repair {
		params["repair"] = true
	}
	return a.Record(operation, params, fn)
}

// Create takes the first snapshot of the target directories.
func (a *App) Create(target pf.Target, opts LifecycleOptions) (*pf.BatchResult, error) {
	opts = a.complete(opts)
	var result *pf.BatchResult
	err := a.lifecycle("create", target.String(), opts, false, func() error {
		var err error
		result, err = a.service.Create(target, opts.Repository, opts.Compression, opts.DryRun)
		return err
	})
	return result, err
}

// Update replaces the snapshot of the target directories.
func (a *App) Update(target pf.Target, opts LifecycleOptions) (*pf.BatchResult, error) {
	opts = a.complete(opts)
	var result *pf.BatchResult
	err := a.lifecycle("update", target.String(), opts, false, func() error {
		var err error
		result, err = a.service.Update(target, opts.Repository, opts.Compression, opts.DryRun)
		return err
	})
	return result, err
}

// Delete removes an archive and its snapshots.
func (a *App) Delete(archiveID string, opts LifecycleOptions) error {
	opts = a.complete(opts)
	return a.lifecycle("delete", "archive "+archiveID, opts, false, func() error {
		return a.service.Delete(archiveID, opts.Repository, opts.DryRun)
	})
}

// Extract restores an archive into its directory.
func (a *App) Extract(archiveID string, opts LifecycleOptions) error {
	opts = a.complete(opts)
	return a.lifecycle("extract", "archive "+archiveID, opts, false, func() error {
		return a.service.Extract(archiveID, opts.Repository, opts.DryRun)
	})
}

// Check verifies an archive. Only a repairing check is recorded.
func (a *App) Check(archiveID string, opts LifecycleOptions) error {
	opts = a.complete(opts)
	return a.lifecycle("check", "archive "+archiveID, opts, !opts.Repair, func() error {
		return a.service.Check(archiveID, opts.Repository, opts.Repair)
	})
}

// History returns the most recent operations.
func (a *App) History(limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(limit)
}

// Serve runs the HTTP API on ln until ctx is cancelled. Lifecycle requests
// run on a task queue bounded by the configured max_tasks; running tasks
// get until the shutdown timeout to finish.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	maxTasks := a.cfg.Server.MaxTasks
	if maxTasks < 1 {
		maxTasks = 1
	}
	queue := task.NewQueue(maxTasks, a.logger, pf.RealClock{}, pf.UUIDGenerator{})
	if a.cfg.Server.RetainedTasks > 0 {
		queue.SetRetained(a.cfg.Server.RetainedTasks)
	}
	defaults := server.Defaults{
		Repository:  a.cfg.Repository.Location,
		Encryption:  a.cfg.Repository.Encryption,
		Compression: a.cfg.Repository.Compression,
	}
	srv := server.NewServer(a.service, queue, a, defaults, a.logger)

	httpServer := &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	a.logger.Info("serving HTTP API", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		queue.Close(context.Background())
		return fmt.Errorf("serving HTTP API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := httpServer.Shutdown(shutdownCtx)
	queueErr := queue.Close(shutdownCtx)
	a.logger.Info("HTTP API stopped")
	return errors.Join(shutdownErr, queueErr)
}

const shutdownTimeout = 30 * time.Second

// Close closes the catalog and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.catalog.Close(); err != nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}

// SetupEncryption creates the age key pair for catalog snapshots,
// protected by passphrase.
func SetupEncryption(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("catalog encryption is disabled (encryption type %q)", cfg.Encryption.Type)
	}
	return enc.Setup(passphrase)
}

// RestoreCatalog replaces the local catalog with the latest snapshot held
// by the named mirror, or by the first mirror when name is empty. An
// existing catalog file is kept next to it with a ".bak" suffix. It returns
// the version of the restored snapshot.
func RestoreCatalog(cfg *config.Config, mirrorName, passphrase string) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite database, not %q", cfg.Database.Type)
	}
	m, err := findMirror(cfg.Mirrors, mirrorName)
	if err != nil {
		return 0, err
	}

	version, err := m.SnapshotVersion(cfg.HostID)
	if err != nil {
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("mirror %s holds no catalog snapshot for host %s", m.Name(), cfg.HostID)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
		return 0, fmt.Errorf("creating database directory: %w", err)
	}
	dest := filepath.Join(cfg.Database.DataDir, database.CatalogFileName)
	tmp, err := os.CreateTemp(cfg.Database.DataDir, ".restore-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := download(m, cfg.HostID, enc, passphrase, tmp); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("writing restored catalog: %w", err)
	}

	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, dest+".bak"); err != nil {
			return 0, fmt.Errorf("keeping previous catalog: %w", err)
		}
	}
	// WAL side files belong to the replaced database.
	os.Remove(dest + "-wal")
	os.Remove(dest + "-shm")
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("installing restored catalog: %w", err)
	}
	return version, nil
}

func findMirror(cfgs []config.MirrorConfig, name string) (pf.Mirror, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no mirrors configured")
	}
	for _, c := range cfgs {
		if name == "" || c.Name == name {
			return mirror.NewMirrorFromConfig(c)
		}
	}
	return nil, fmt.Errorf("no mirror named %q", name)
}

func download(m pf.Mirror, hostID string, enc pf.Encryptor, passphrase string, w io.Writer) error {
	if enc == nil {
		if err := m.GetSnapshot(hostID, w); err != nil {
			return fmt.Errorf("downloading catalog: %w", err)
		}
		return nil
	}

	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking catalog key: %w", err)
	}
	pr, pw := io.Pipe()
	defer pr.Close()
	go func() {
		pw.CloseWithError(m.GetSnapshot(hostID, pw))
	}()
	if err := dec.Decrypt(pr, w); err != nil {
		return fmt.Errorf("decrypting catalog: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var _ server.Recorder = (*App)(nil)
