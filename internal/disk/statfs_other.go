//go:build !(linux || darwin)

package disk

import (
	"errors"

	"permafrost/internal/pf"
)

var errStatfsUnsupported = errors.New("statfs probe is not supported on this platform, use the coreutils probe")

// StatfsProbe is unavailable on this platform; every call fails.
type StatfsProbe struct{}

func NewStatfsProbe() *StatfsProbe {
	return &StatfsProbe{}
}

func (p *StatfsProbe) SpaceInfo(path string) (*pf.SpaceInfo, error) {
	return nil, errStatfsUnsupported
}

func (p *StatfsProbe) RecursiveSize(path string) (int64, error) {
	return 0, errStatfsUnsupported
}

var _ pf.DiskProbe = (*StatfsProbe)(nil)
