package tools

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Invocation describes one external command: binary, arguments, working
// directory, and environment overlay applied on top of the inherited
// environment.
type Invocation struct {
	Name string
	Args []string
	Dir  string
	Env  map[string]string
}

// String renders the invocation for logs and error messages.
func (inv Invocation) String() string {
	parts := append([]string{inv.Name}, inv.Args...)
	return strings.Join(parts, " ")
}

// CommandRunner abstracts external tool execution so synchronization and
// patch logic can be exercised against a fake implementation.
type CommandRunner interface {
	// Run executes the invocation to completion and returns captured
	// stdout, stderr, the exit code, and any execution error.
	Run(inv Invocation) ([]byte, []byte, int32, error)

	// RunStreaming executes the invocation with output wired live to the
	// given writers. Used for long-running build tools whose progress
	// should reach the operator as it happens.
	RunStreaming(inv Invocation, stdout, stderr io.Writer) error
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// tools command-runner implementation backed by os/exec.
func (r ExecRunner) Run(inv Invocation) ([]byte, []byte, int32, error) {
	cmd := newCommand(inv)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

// tools streaming command-runner implementation for build tool output.
func (r ExecRunner) RunStreaming(inv Invocation, stdout, stderr io.Writer) error {
	cmd := newCommand(inv)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	return cmd.Run()
}

func newCommand(inv Invocation) *exec.Cmd {
	cmd := exec.Command(inv.Name, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = mergedEnv(inv.Env)
	}
	return cmd
}

// tools helper merging an overlay onto the inherited environment in
// deterministic key order.
func mergedEnv(overlay map[string]string) []string {
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}
