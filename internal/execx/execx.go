// Package execx runs the external command line tools permafrost drives:
// the archive tool and, optionally, coreutils for disk probing.
//
// Every invocation runs with a forced C locale so that output parsing does
// not depend on the user's language settings.
package execx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// stderrTailLines bounds how much of a failed command's stderr is kept.
const stderrTailLines = 10

// ToolSpec tells LookTool how to find and verify an external tool.
type ToolSpec struct {
	Program   string
	CheckArgs []string
	CheckText string
}

// Tool is a located external program.
type Tool struct {
	Path string
}

// LookTool finds s.Program in PATH, runs it with s.CheckArgs and verifies
// that its output contains s.CheckText.
func LookTool(s ToolSpec) (*Tool, error) {
	path, err := exec.LookPath(s.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to find path of `%s`: %w", s.Program, err)
	}

	cmd := exec.Command(path, s.CheckArgs...)
	cmd.Env = Env()
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute `%s %s`: %w", path, strings.Join(s.CheckArgs, " "), err)
	}
	if !strings.Contains(string(out), s.CheckText) {
		return nil, fmt.Errorf("`%s %s` did not print `%s`", s.Program, strings.Join(s.CheckArgs, " "), s.CheckText)
	}
	return &Tool{Path: path}, nil
}

// Env returns the process environment with a C locale forced, followed by
// extra.
func Env(extra ...string) []string {
	env := append(os.Environ(),
		"LC_ALL=C.UTF-8",
		"LANG=C.UTF-8",
		"LANGUAGE=C.UTF-8",
	)
	return append(env, extra...)
}

// Invocation is a single run of an external program.
type Invocation struct {
	Program string
	Args    []string
	Dir     string   // working directory; empty means the current one
	Env     []string // added to the environment from Env()
}

// String renders the invocation for logs.
func (inv Invocation) String() string {
	return strings.TrimSpace(inv.Program + " " + strings.Join(inv.Args, " "))
}

// Runner executes invocations and returns their stdout.
type Runner interface {
	Run(inv Invocation) ([]byte, error)
}

// CommandError reports an external program that could not be started or
// exited with a non-zero status.
type CommandError struct {
	Program  string
	Args     []string
	ExitCode int    // -1 when the program did not run to completion
	Stderr   string // last lines of stderr
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Program, strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitCode)
	} else {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs invocations as subprocesses.
type ExecRunner struct{}

// Run executes inv and waits for it. Stdout is returned; stderr is kept for
// the error. A non-zero exit status is a *CommandError.
func (ExecRunner) Run(inv Invocation) ([]byte, error) {
	cmd := exec.Command(inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = Env(inv.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cerr := &CommandError{
			Program:  inv.Program,
			Args:     inv.Args,
			ExitCode: -1,
			Stderr:   tail(stderr.String(), stderrTailLines),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), cerr
	}
	return stdout.Bytes(), nil
}

// tail returns the last n non-empty lines of s joined by "; ".
func tail(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}
