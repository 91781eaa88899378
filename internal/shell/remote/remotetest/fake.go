// Package remotetest provides a recording fake Runner for exercising
// components that execute remote commands, without a live connection.
package remotetest

import (
	"context"
	"sync"

	"github.com/dockhand/dockhand/internal/core/remotecmd"
	"github.com/dockhand/dockhand/internal/shell/remote"
)

// Call records one executed command.
type Call struct {
	Name   string
	Script string
	Stdin  []byte
}

// Response is a scripted outcome for a command name.
type Response struct {
	Result remote.Result
	Err    error
}

// FakeRunner implements remote.Runner. Unstubbed commands succeed with an
// empty Result. Stubbed responses for a name are consumed FIFO; the last one
// sticks, so a single stub answers repeated polls.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string][]Response
}

// NewFakeRunner returns an empty fake.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string][]Response)}
}

// Stub queues a response for the given command name.
func (f *FakeRunner) Stub(name string, res remote.Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[name] = append(f.responses[name], Response{Result: res, Err: err})
}

// StubExit queues an exit-code-only response.
func (f *FakeRunner) StubExit(name string, exitCode int) {
	f.Stub(name, remote.Result{ExitCode: exitCode}, nil)
}

// StubStdout queues a successful response with the given stdout.
func (f *FakeRunner) StubStdout(name, stdout string) {
	f.Stub(name, remote.Result{Stdout: stdout}, nil)
}

func (f *FakeRunner) Run(ctx context.Context, cmd remotecmd.Command) (remote.Result, error) {
	return f.RunInput(ctx, cmd, nil)
}

func (f *FakeRunner) RunInput(_ context.Context, cmd remotecmd.Command, stdin []byte) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Name: cmd.Name, Script: cmd.Script, Stdin: stdin})

	queue := f.responses[cmd.Name]
	if len(queue) == 0 {
		return remote.Result{}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		f.responses[cmd.Name] = queue[1:]
	}
	return next.Result, next.Err
}

// Calls returns every recorded call in order.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallNames returns the executed command names in order.
func (f *FakeRunner) CallNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.Name)
	}
	return names
}

// CallCount returns how many commands ran.
func (f *FakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ScriptFor returns the script of the first call with the given name, or "".
func (f *FakeRunner) ScriptFor(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Name == name {
			return c.Script
		}
	}
	return ""
}

// StdinFor returns the stdin of the first call with the given name.
func (f *FakeRunner) StdinFor(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Name == name {
			return c.Stdin
		}
	}
	return nil
}
