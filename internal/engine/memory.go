package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"permafrost/internal/pf"
)

// Call records one MemoryEngine operation.
type Call struct {
	Op       string
	Location string
	Name     string
	DryRun   bool
}

type memoryRepository struct {
	id           string
	encryption   string
	snapshots    []*pf.Snapshot
	lastModified time.Time
}

// MemoryEngine is an in-process pf.ArchiveEngine. Repositories and
// snapshots live only as long as the engine. Snapshot names follow the same
// "<name>.<timestamp>" scheme as borg. It records every call and can be
// told to fail an operation, which makes it the engine of choice in tests.
type MemoryEngine struct {
	mu       sync.Mutex
	clock    pf.Clock
	repos    map[string]*memoryRepository
	last     time.Time
	seq      int
	calls    []Call
	failures map[string][]error
}

// NewMemoryEngine creates an empty engine stamping snapshots with clock.
func NewMemoryEngine(clock pf.Clock) *MemoryEngine {
	return &MemoryEngine{
		clock:    clock,
		repos:    make(map[string]*memoryRepository),
		failures: make(map[string][]error),
	}
}

// FailNext makes the next call of op ("init", "list", "create", "delete",
// "prune", "rename", "extract" or "check") fail with err. Failures queue up.
func (e *MemoryEngine) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], err)
}

// Calls returns all recorded calls in order.
func (e *MemoryEngine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallCount returns the number of recorded calls of op, or of all
// operations when op is empty.
func (e *MemoryEngine) CallCount(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if op == "" || c.Op == op {
			n++
		}
	}
	return n
}

// Snapshots returns the names of all snapshots in location, oldest first.
func (e *MemoryEngine) Snapshots(location string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	repo, ok := e.repos[location]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(repo.snapshots))
	for _, s := range repo.snapshots {
		names = append(names, s.Name)
	}
	return names
}

// begin records a call and pops a queued failure. Callers hold e.mu.
func (e *MemoryEngine) begin(op, location, name string, dryRun bool) error {
	e.calls = append(e.calls, Call{Op: op, Location: location, Name: name, DryRun: dryRun})
	if queued := e.failures[op]; len(queued) > 0 {
		e.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (e *MemoryEngine) repository(location string) (*memoryRepository, error) {
	repo, ok := e.repos[location]
	if !ok {
		return nil, fmt.Errorf("repository %s does not exist", location)
	}
	return repo, nil
}

func (e *MemoryEngine) nextID() string {
	e.seq++
	return fmt.Sprintf("%064x", e.seq)
}

// tick returns a timestamp strictly after the previous one, so snapshots
// created under a stub clock still get distinct names.
func (e *MemoryEngine) tick() time.Time {
	now := e.clock.Now().UTC().Truncate(time.Microsecond)
	if !now.After(e.last) {
		now = e.last.Add(time.Microsecond)
	}
	e.last = now
	return now
}

func (e *MemoryEngine) Init(location string, encryptionMode string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("init", location, "", false); err != nil {
		return err
	}

	if _, ok := e.repos[location]; ok {
		return fmt.Errorf("repository %s already exists", location)
	}
	e.repos[location] = &memoryRepository{
		id:           e.nextID(),
		encryption:   encryptionMode,
		lastModified: e.tick(),
	}
	return nil
}

func (e *MemoryEngine) List(location string) (*pf.ListResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("list", location, "", false); err != nil {
		return nil, err
	}

	repo, err := e.repository(location)
	if err != nil {
		return nil, err
	}
	result := &pf.ListResult{Repository: e.describe(location, repo)}
	for _, s := range repo.snapshots {
		snapshot := *s
		result.Archives = append(result.Archives, &snapshot)
	}
	return result, nil
}

func (e *MemoryEngine) describe(location string, repo *memoryRepository) pf.Repository {
	return pf.Repository{ID: repo.id, Location: location, LastModified: repo.lastModified}
}

func (e *MemoryEngine) Create(location, name, sourcePath, compression string, dryRun bool) (*pf.CreateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("create", location, name, dryRun); err != nil {
		return nil, err
	}

	repo, err := e.repository(location)
	if err != nil {
		return nil, err
	}
	if name == "" || strings.Contains(name, ".") {
		return nil, fmt.Errorf("invalid archive name %q", name)
	}
	if dryRun {
		return nil, nil
	}

	start := e.tick()
	snapshot := &pf.Snapshot{
		ID:    e.nextID(),
		Name:  name + "." + start.Format(pf.SnapshotTimeFormat),
		Start: start,
	}
	repo.snapshots = append(repo.snapshots, snapshot)
	repo.lastModified = start

	return &pf.CreateResult{Archive: *snapshot, Repository: e.describe(location, repo)}, nil
}

// matching returns the snapshots stored under name.
func matching(repo *memoryRepository, name string) (matched, rest []*pf.Snapshot) {
	for _, s := range repo.snapshots {
		if strings.HasPrefix(s.Name, name+".") {
			matched = append(matched, s)
		} else {
			rest = append(rest, s)
		}
	}
	return matched, rest
}

func (e *MemoryEngine) Delete(location, name string, dryRun bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("delete", location, name, dryRun); err != nil {
		return err
	}

	repo, err := e.repository(location)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("empty archive name")
	}
	if dryRun {
		return nil
	}

	_, rest := matching(repo, name)
	repo.snapshots = rest
	repo.lastModified = e.tick()
	return nil
}

func (e *MemoryEngine) Prune(location, name string, keepLast int, dryRun bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("prune", location, name, dryRun); err != nil {
		return err
	}

	repo, err := e.repository(location)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("empty archive name")
	}
	if keepLast < 1 {
		return fmt.Errorf("keepLast must be at least 1, got %d", keepLast)
	}
	if dryRun {
		return nil
	}

	matched, _ := matching(repo, name)
	if len(matched) <= keepLast {
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Start.After(matched[j].Start) })
	kept := make(map[*pf.Snapshot]bool, keepLast)
	for _, s := range matched[:keepLast] {
		kept[s] = true
	}

	var remaining []*pf.Snapshot
	for _, s := range repo.snapshots {
		if !strings.HasPrefix(s.Name, name+".") || kept[s] {
			remaining = append(remaining, s)
		}
	}
	repo.snapshots = remaining
	repo.lastModified = e.tick()
	return nil
}

func (e *MemoryEngine) Rename(location, oldName, newName string, dryRun bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("rename", location, oldName, dryRun); err != nil {
		return err
	}

	repo, err := e.repository(location)
	if err != nil {
		return err
	}
	var target *pf.Snapshot
	for _, s := range repo.snapshots {
		if s.Name == newName {
			return fmt.Errorf("snapshot %s already exists", newName)
		}
		if s.Name == oldName {
			target = s
		}
	}
	if target == nil {
		return fmt.Errorf("snapshot %s does not exist", oldName)
	}
	if !dryRun {
		target.Name = newName
		repo.lastModified = e.tick()
	}
	return nil
}

func (e *MemoryEngine) findSnapshot(location, snapshotName string) error {
	repo, err := e.repository(location)
	if err != nil {
		return err
	}
	for _, s := range repo.snapshots {
		if s.Name == snapshotName {
			return nil
		}
	}
	return fmt.Errorf("snapshot %s does not exist", snapshotName)
}

// Extract only verifies that the snapshot exists; no files are written.
func (e *MemoryEngine) Extract(location, snapshotName, destPath string, dryRun bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("extract", location, snapshotName, dryRun); err != nil {
		return err
	}
	return e.findSnapshot(location, snapshotName)
}

func (e *MemoryEngine) Check(location, snapshotName string, repair bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin("check", location, snapshotName, false); err != nil {
		return err
	}
	return e.findSnapshot(location, snapshotName)
}

// Compile-time check that MemoryEngine implements pf.ArchiveEngine
var _ pf.ArchiveEngine = (*MemoryEngine)(nil)
