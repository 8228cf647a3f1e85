package testutil

import (
	"fmt"
	"sync"

	"permafrost/internal/pf"
)

// FakeProbe reports configured sizes. Volumes default to 100 GB with
// 50 GB free; directory sizes default to 1 MB.
type FakeProbe struct {
	mu      sync.Mutex
	spaces  map[string]pf.SpaceInfo
	sizes   map[string]int64
	failing map[string]error
	calls   int
}

func NewFakeProbe() *FakeProbe {
	return &FakeProbe{
		spaces:  make(map[string]pf.SpaceInfo),
		sizes:   make(map[string]int64),
		failing: make(map[string]error),
	}
}

// SetSpace sets the volume size reported for path.
func (p *FakeProbe) SetSpace(path string, totalMB, availMB int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spaces[path] = pf.SpaceInfo{TotalMB: totalMB, AvailMB: availMB}
}

// SetSize sets the recursive size reported for path.
func (p *FakeProbe) SetSize(path string, sizeMB int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes[path] = sizeMB
}

// Fail makes every probe of path fail with err.
func (p *FakeProbe) Fail(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[path] = err
}

// Calls returns the number of probes made.
func (p *FakeProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *FakeProbe) SpaceInfo(path string) (*pf.SpaceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.failing[path]; err != nil {
		return nil, fmt.Errorf("df %s: %w", path, err)
	}
	space, ok := p.spaces[path]
	if !ok {
		space = pf.SpaceInfo{TotalMB: 100_000, AvailMB: 50_000}
	}
	return &space, nil
}

func (p *FakeProbe) RecursiveSize(path string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.failing[path]; err != nil {
		return 0, fmt.Errorf("du %s: %w", path, err)
	}
	size, ok := p.sizes[path]
	if !ok {
		size = 1
	}
	return size, nil
}

var _ pf.DiskProbe = (*FakeProbe)(nil)
