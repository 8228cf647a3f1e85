package disk

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"permafrost/internal/execx"
	"permafrost/internal/pf"
)

var (
	dfLine = regexp.MustCompile(`(?P<size>[0-9]+)M\s+(?P<avail>[0-9]+)M`)
	duLine = regexp.MustCompile(`^(?P<size>[0-9]+)M`)
)

// CoreutilsProbe measures space by running GNU df and du. Both tools round
// up to whole megabytes.
type CoreutilsProbe struct {
	df     string
	du     string
	runner execx.Runner
}

// NewCoreutilsProbe creates a probe running the given df and du binaries.
func NewCoreutilsProbe(df, du string, runner execx.Runner) *CoreutilsProbe {
	return &CoreutilsProbe{df: df, du: du, runner: runner}
}

// LookCoreutils locates GNU df and du.
func LookCoreutils() (df, du string, err error) {
	dfTool, err := execx.LookTool(execx.ToolSpec{
		Program:   "df",
		CheckArgs: []string{"--version"},
		CheckText: "GNU coreutils",
	})
	if err != nil {
		return "", "", err
	}
	duTool, err := execx.LookTool(execx.ToolSpec{
		Program:   "du",
		CheckArgs: []string{"--version"},
		CheckText: "GNU coreutils",
	})
	if err != nil {
		return "", "", err
	}
	return dfTool.Path, duTool.Path, nil
}

func (p *CoreutilsProbe) SpaceInfo(path string) (*pf.SpaceInfo, error) {
	out, err := p.runner.Run(execx.Invocation{
		Program: p.df,
		Args:    []string{"-BM", "--output=size,avail", path},
	})
	if err != nil {
		return nil, fmt.Errorf("df: %w", err)
	}
	return parseDf(out)
}

func (p *CoreutilsProbe) RecursiveSize(path string) (int64, error) {
	out, err := p.runner.Run(execx.Invocation{
		Program: p.du,
		Args:    []string{"-BM", "-s", path},
	})
	if err != nil {
		return 0, fmt.Errorf("du: %w", err)
	}
	return parseDu(out)
}

// parseDf reads the first line after the header of
// `df -BM --output=size,avail`.
func parseDf(out []byte) (*pf.SpaceInfo, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return nil, fmt.Errorf("df printed nothing")
	}
	if !scanner.Scan() {
		return nil, fmt.Errorf("df printed no data line")
	}
	line := scanner.Text()

	m := dfLine.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("unexpected df output: %q", line)
	}
	size, err := strconv.ParseInt(m[dfLine.SubexpIndex("size")], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing df size: %w", err)
	}
	avail, err := strconv.ParseInt(m[dfLine.SubexpIndex("avail")], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing df avail: %w", err)
	}
	return &pf.SpaceInfo{TotalMB: size, AvailMB: avail}, nil
}

// parseDu reads the summary line of `du -BM -s`.
func parseDu(out []byte) (int64, error) {
	line, _, _ := bytes.Cut(out, []byte("\n"))

	m := duLine.FindSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("unexpected du output: %q", line)
	}
	size, err := strconv.ParseInt(string(m[duLine.SubexpIndex("size")]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing du size: %w", err)
	}
	return size, nil
}

// Compile-time check that CoreutilsProbe implements pf.DiskProbe
var _ pf.DiskProbe = (*CoreutilsProbe)(nil)
