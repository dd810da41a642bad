// Package execrunner runs external commands (primarily git and coding-agent
// CLIs) with context-aware cancellation, capturing combined output for
// error reporting while optionally teeing stdout/stderr to a file.
package execrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner is the minimal command-execution surface the rest of the system
// depends on. Real usage goes through CommandRunner; tests substitute
// FakeRunner.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// CommandRunner shells out via os/exec.CommandContext.
type CommandRunner struct{}

// NewCommandRunner returns the production Runner.
func NewCommandRunner() *CommandRunner { return &CommandRunner{} }

// Run executes name with args in dir (the process's working directory, or
// the current directory if empty), returning combined stdout+stderr. A
// non-zero exit is reported as an error that includes the captured output,
// since a bare exec.ExitError carries nothing useful on its own.
func (r *CommandRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(buf.String()))
	}
	return buf.String(), nil
}

// RunTee runs the command with stdout and stderr both written to out as the
// process produces them, for long-running invocations the caller wants to
// stream to a log file while it runs. Unlike Run it captures no output and
// returns only the command's error.
func (r *CommandRunner) RunTee(ctx context.Context, dir string, out *os.File, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// CommandCall records one invocation made against a FakeRunner, for
// assertions in tests.
type CommandCall struct {
	Dir  string
	Name string
	Args []string
}

// FakeRunner is a scripted Runner for tests: register expected calls with
// Script, then assert on what was actually called via Calls.
type FakeRunner struct {
	calls []CommandCall
	stubs map[string]string
	errs  map[string]error
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{stubs: make(map[string]string), errs: make(map[string]error)}
}

// Script registers the output FakeRunner.Run should return for the given
// name+args, regardless of directory.
func (f *FakeRunner) Script(name string, args []string, output string) {
	f.stubs[stubKey(name, args)] = output
}

// ScriptError registers an error FakeRunner.Run should return for the given
// name+args.
func (f *FakeRunner) ScriptError(name string, args []string, err error) {
	f.errs[stubKey(name, args)] = err
}

// Run records the call and returns whatever was scripted for it. An
// unscripted call is an error, not a panic, so a forgotten stub fails the
// test with a readable message.
func (f *FakeRunner) Run(_ context.Context, dir string, name string, args ...string) (string, error) {
	f.calls = append(f.calls, CommandCall{Dir: dir, Name: name, Args: append([]string(nil), args...)})
	key := stubKey(name, args)
	if err, ok := f.errs[key]; ok {
		return f.stubs[key], err
	}
	output, ok := f.stubs[key]
	if !ok {
		return "", fmt.Errorf("missing stub for command %s %s", name, strings.Join(args, " "))
	}
	return output, nil
}

// Calls returns every call made so far, in order.
func (f *FakeRunner) Calls() []CommandCall {
	return append([]CommandCall(nil), f.calls...)
}

func stubKey(name string, args []string) string {
	return fmt.Sprintf("%s\x00%s", name, strings.Join(args, "\x00"))
}
