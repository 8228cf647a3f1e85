package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"

	"permafrost/internal/execx"
	"permafrost/internal/pf"
)

// snapshotSuffix is appended by borg to every snapshot name at creation.
const snapshotSuffix = ".{utcnow:%Y-%m-%dT%H:%M:%S.%f}"

// BorgEngine implements pf.ArchiveEngine by running the borg command line
// tool. Calls against the same repository location are serialized, since
// borg holds an exclusive repository lock for every command.
type BorgEngine struct {
	binary     string
	passphrase string
	runner     execx.Runner
	logger     pf.Logger
	repoLocks  *kmutex.Kmutex
}

// NewBorgEngine creates an engine running binary through runner. When
// passphrase is non-empty it is passed to borg in BORG_PASSPHRASE.
func NewBorgEngine(binary, passphrase string, runner execx.Runner, logger pf.Logger) *BorgEngine {
	return &BorgEngine{
		binary:     binary,
		passphrase: passphrase,
		runner:     runner,
		logger:     logger,
		repoLocks:  kmutex.New(),
	}
}

// LookBorg verifies that binary is a working borg installation and returns
// its resolved path.
func LookBorg(binary string) (string, error) {
	tool, err := execx.LookTool(execx.ToolSpec{
		Program:   binary,
		CheckArgs: []string{"--version"},
		CheckText: "borg",
	})
	if err != nil {
		return "", err
	}
	return tool.Path, nil
}

// borgTime is a borg JSON timestamp. Borg prints naive timestamps; they
// are read as UTC.
type borgTime struct {
	time.Time
}

func (t *borgTime) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp is not a string: %s", data)
	}
	parsed, err := time.Parse(pf.SnapshotTimeFormat, s)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

type borgArchive struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Start borgTime `json:"start"`
}

type borgRepository struct {
	ID           string   `json:"id"`
	Location     string   `json:"location"`
	LastModified borgTime `json:"last_modified"`
}

type borgListOutput struct {
	Archives   []borgArchive  `json:"archives"`
	Repository borgRepository `json:"repository"`
}

type borgCreateOutput struct {
	Archive    borgArchive    `json:"archive"`
	Repository borgRepository `json:"repository"`
}

func (a borgArchive) snapshot() pf.Snapshot {
	return pf.Snapshot{ID: a.ID, Name: a.Name, Start: a.Start.Time}
}

func (r borgRepository) repository() pf.Repository {
	return pf.Repository{ID: r.ID, Location: r.Location, LastModified: r.LastModified.Time}
}

// parseListOutput decodes the output of `borg list --json`.
func parseListOutput(data []byte) (*pf.ListResult, error) {
	var out borgListOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding borg list output: %w", err)
	}

	result := &pf.ListResult{Repository: out.Repository.repository()}
	for _, a := range out.Archives {
		s := a.snapshot()
		result.Archives = append(result.Archives, &s)
	}
	return result, nil
}

// parseCreateOutput decodes the output of `borg create --json`.
func parseCreateOutput(data []byte) (*pf.CreateResult, error) {
	var out borgCreateOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding borg create output: %w", err)
	}
	if out.Archive.ID == "" {
		return nil, fmt.Errorf("borg create output has no archive id")
	}
	return &pf.CreateResult{
		Archive:    out.Archive.snapshot(),
		Repository: out.Repository.repository(),
	}, nil
}

// run executes one borg command while holding the repository lock.
func (e *BorgEngine) run(location string, inv execx.Invocation) ([]byte, error) {
	e.repoLocks.Lock(location)
	defer e.repoLocks.Unlock(location)

	inv.Program = e.binary
	if e.passphrase != "" {
		inv.Env = append(inv.Env, "BORG_PASSPHRASE="+e.passphrase)
	}

	e.logger.Debug("running borg", "command", inv.String(), "dir", inv.Dir)
	out, err := e.runner.Run(inv)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// globArchives selects every snapshot created under name.
func globArchives(name string) (string, error) {
	if name == "" {
		// An empty selector would make delete act on the whole repository.
		return "", fmt.Errorf("empty archive name")
	}
	return name + ".*", nil
}

func (e *BorgEngine) Init(location string, encryptionMode string) error {
	_, err := e.run(location, execx.Invocation{
		Args: []string{"init", "--encryption", encryptionMode, location},
		Env:  []string{"BORG_DISPLAY_PASSPHRASE=no"},
	})
	if err != nil {
		return fmt.Errorf("borg init: %w", err)
	}
	return nil
}

func (e *BorgEngine) List(location string) (*pf.ListResult, error) {
	out, err := e.run(location, execx.Invocation{
		Args: []string{"list", "--json", location},
	})
	if err != nil {
		return nil, fmt.Errorf("borg list: %w", err)
	}
	return parseListOutput(out)
}

// createArgs builds the arguments of `borg create`. The source is always
// "." relative to the source directory, so snapshots store relative paths.
func createArgs(location, name, compression string, dryRun bool) []string {
	args := []string{"create"}
	if dryRun {
		args = append(args, "--dry-run")
	} else {
		args = append(args, "--json")
	}
	args = append(args,
		"--compression", compression,
		"--noatime",
		"--noacls",
		"--nobsdflags",
		"--noxattrs",
		location+"::"+name+snapshotSuffix,
		".",
	)
	return args
}

func (e *BorgEngine) Create(location, name, sourcePath, compression string, dryRun bool) (*pf.CreateResult, error) {
	if name == "" || strings.Contains(name, ".") {
		return nil, fmt.Errorf("invalid archive name %q", name)
	}

	out, err := e.run(location, execx.Invocation{
		Args: createArgs(location, name, compression, dryRun),
		Dir:  sourcePath,
	})
	if err != nil {
		return nil, fmt.Errorf("borg create: %w", err)
	}
	if dryRun {
		return nil, nil
	}
	return parseCreateOutput(out)
}

func (e *BorgEngine) Delete(location, name string, dryRun bool) error {
	glob, err := globArchives(name)
	if err != nil {
		return err
	}

	args := []string{"delete"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "--glob-archives", glob, location)

	if _, err := e.run(location, execx.Invocation{Args: args}); err != nil {
		return fmt.Errorf("borg delete: %w", err)
	}
	return nil
}

func (e *BorgEngine) Prune(location, name string, keepLast int, dryRun bool) error {
	glob, err := globArchives(name)
	if err != nil {
		return err
	}
	if keepLast < 1 {
		return fmt.Errorf("keepLast must be at least 1, got %d", keepLast)
	}

	args := []string{"prune"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "--keep-last", strconv.Itoa(keepLast), "--glob-archives", glob, location)

	if _, err := e.run(location, execx.Invocation{Args: args}); err != nil {
		return fmt.Errorf("borg prune: %w", err)
	}
	return nil
}

// Rename renames a snapshot. Borg has no dry run for rename, so a dry run
// only logs the command.
func (e *BorgEngine) Rename(location, oldName, newName string, dryRun bool) error {
	args := []string{"rename", location + "::" + oldName, newName}
	if dryRun {
		e.logger.Info("dry run: snapshot not renamed", "old", oldName, "new", newName)
		return nil
	}
	if _, err := e.run(location, execx.Invocation{Args: args}); err != nil {
		return fmt.Errorf("borg rename: %w", err)
	}
	return nil
}

// Extract restores a snapshot with destPath as working directory. In a
// dry run destPath need not exist.
func (e *BorgEngine) Extract(location, snapshotName, destPath string, dryRun bool) error {
	inv := execx.Invocation{Args: []string{"extract"}}
	if dryRun {
		inv.Args = append(inv.Args, "--dry-run")
	} else {
		inv.Dir = destPath
	}
	inv.Args = append(inv.Args, location+"::"+snapshotName)

	if _, err := e.run(location, inv); err != nil {
		return fmt.Errorf("borg extract: %w", err)
	}
	return nil
}

func (e *BorgEngine) Check(location, snapshotName string, repair bool) error {
	inv := execx.Invocation{Args: []string{"check"}}
	if repair {
		inv.Args = append(inv.Args, "--repair")
		inv.Env = []string{"BORG_CHECK_I_KNOW_WHAT_I_AM_DOING=YES"}
	}
	inv.Args = append(inv.Args, location+"::"+snapshotName)

	if _, err := e.run(location, inv); err != nil {
		return fmt.Errorf("borg check: %w", err)
	}
	return nil
}

// Compile-time check that BorgEngine implements pf.ArchiveEngine
var _ pf.ArchiveEngine = (*BorgEngine)(nil)
