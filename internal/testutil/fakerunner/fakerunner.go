// Package fakerunner provides a scripted tools.CommandRunner for tests.
// It records every invocation and replays stubbed results so checkout
// synchronization and build sequencing can be verified without touching
// real repositories or build tools.
package fakerunner

import (
	"fmt"
	"io"
	"strings"

	"github.com/openuav/fwctl/internal/tools"
)

// Result is one scripted command outcome.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
	Err      error
}

type stub struct {
	prefix string
	result Result
}

// Runner records invocations in order and answers them from stubs.
// Unstubbed commands succeed with empty output.
type Runner struct {
	Commands []tools.Invocation
	stubs    []stub

	// OnCommand, when set, observes each invocation before its result
	// is resolved. Tests use it to mimic command side effects, such as
	// a clone creating its checkout directory.
	OnCommand func(tools.Invocation)
}

// StubPrefix scripts a result for every command whose rendered form
// starts with prefix. The longest matching prefix wins.
func (r *Runner) StubPrefix(prefix string, result Result) {
	r.stubs = append(r.stubs, stub{prefix: prefix, result: result})
}

// Run records the invocation and returns its scripted result.
func (r *Runner) Run(inv tools.Invocation) ([]byte, []byte, int32, error) {
	r.Commands = append(r.Commands, inv)
	if r.OnCommand != nil {
		r.OnCommand(inv)
	}
	res := r.lookup(inv)
	return res.Stdout, res.Stderr, res.ExitCode, res.resolveErr()
}

// RunStreaming records the invocation, writes any scripted output to the
// given writers, and returns the scripted error.
func (r *Runner) RunStreaming(inv tools.Invocation, stdout, stderr io.Writer) error {
	r.Commands = append(r.Commands, inv)
	if r.OnCommand != nil {
		r.OnCommand(inv)
	}
	res := r.lookup(inv)
	if stdout != nil && len(res.Stdout) > 0 {
		stdout.Write(res.Stdout)
	}
	if stderr != nil && len(res.Stderr) > 0 {
		stderr.Write(res.Stderr)
	}
	return res.resolveErr()
}

// CommandStrings returns every recorded invocation rendered as a single
// line, in execution order.
func (r *Runner) CommandStrings() []string {
	out := make([]string, 0, len(r.Commands))
	for _, inv := range r.Commands {
		out = append(out, inv.String())
	}
	return out
}

// CountPrefix reports how many recorded commands start with prefix.
func (r *Runner) CountPrefix(prefix string) int {
	n := 0
	for _, cmd := range r.CommandStrings() {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func (r *Runner) lookup(inv tools.Invocation) Result {
	rendered := inv.String()
	best := -1
	for i, s := range r.stubs {
		if !strings.HasPrefix(rendered, s.prefix) {
			continue
		}
		if best == -1 || len(s.prefix) > len(r.stubs[best].prefix) {
			best = i
		}
	}
	if best == -1 {
		return Result{}
	}
	return r.stubs[best].result
}

func (res Result) resolveErr() error {
	if res.Err != nil {
		return res.Err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit status %d", res.ExitCode)
	}
	return nil
}
