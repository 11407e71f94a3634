// Package transporttest provides an in-memory transport.Executor for tests.
package transporttest

import (
	"context"
	"io/fs"
	"path"
	"sync"

	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

// Call records one executor invocation.
type Call struct {
	Host    string
	Op      string // run, put or get
	Command transport.Command
	Path    string
}

// Handler scripts the outcome of a command.
type Handler func(host string, cmd transport.Command) (transport.Result, error)

// Fake is a scripted executor with a per-host in-memory filesystem.
// Unscripted commands succeed with empty output.
type Fake struct {
	mu       sync.Mutex
	files    map[string]map[string][]byte
	handlers map[string]Handler
	down     map[string]error
	calls    []Call
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		files:    make(map[string]map[string][]byte),
		handlers: make(map[string]Handler),
		down:     make(map[string]error),
	}
}

// On scripts every command whose program (or its base name) matches.
func (f *Fake) On(program string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[program] = h
}

// Fail makes every operation against host return a transport error.
func (f *Fake) Fail(host string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[host] = err
}

// SetFile seeds a file on host.
func (f *Fake) SetFile(host, remotePath string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setFileLocked(host, remotePath, data)
}

func (f *Fake) setFileLocked(host, remotePath string, data []byte) {
	if f.files[host] == nil {
		f.files[host] = make(map[string][]byte)
	}
	f.files[host][remotePath] = append([]byte(nil), data...)
}

// File returns a file previously written to host.
func (f *Fake) File(host, remotePath string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[host][remotePath]
	return data, ok
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the commands run on host in order.
func (f *Fake) Commands(host string) []transport.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.Command
	for _, c := range f.calls {
		if c.Host == host && c.Op == "run" {
			out = append(out, c.Command)
		}
	}
	return out
}

// Count returns how many times program ran on host. An empty host counts all hosts.
func (f *Fake) Count(host, program string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op != "run" || (host != "" && c.Host != host) {
			continue
		}
		if c.Command.Program == program || path.Base(c.Command.Program) == program {
			n++
		}
	}
	return n
}

// Run implements transport.Executor.
func (f *Fake) Run(ctx context.Context, host string, cmd transport.Command) (transport.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Host: host, Op: "run", Command: cmd})
	if err := f.down[host]; err != nil {
		f.mu.Unlock()
		return transport.Result{}, &cluster.TransportError{Host: host, Op: "run", Err: err}
	}
	h, ok := f.handlers[cmd.Program]
	if !ok {
		h, ok = f.handlers[path.Base(cmd.Program)]
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return transport.Result{}, &cluster.TransportError{Host: host, Op: "run", Err: err}
	}
	if !ok {
		return transport.Result{}, nil
	}
	return h(host, cmd)
}

// Put implements transport.Executor.
func (f *Fake) Put(ctx context.Context, host string, data []byte, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Host: host, Op: "put", Path: remotePath})
	if err := f.down[host]; err != nil {
		return &cluster.TransportError{Host: host, Op: "put " + remotePath, Err: err}
	}
	f.setFileLocked(host, remotePath, data)
	return nil
}

// Get implements transport.Executor.
func (f *Fake) Get(ctx context.Context, host string, remotePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Host: host, Op: "get", Path: remotePath})
	if err := f.down[host]; err != nil {
		return nil, &cluster.TransportError{Host: host, Op: "get " + remotePath, Err: err}
	}
	data, ok := f.files[host][remotePath]
	if !ok {
		return nil, &cluster.TransportError{Host: host, Op: "get " + remotePath, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

// Output is a handler that always succeeds with the given stdout.
func Output(stdout string) Handler {
	return func(string, transport.Command) (transport.Result, error) {
		return transport.Result{Stdout: stdout}, nil
	}
}

// Exit is a handler that always exits with code.
func Exit(code int) Handler {
	return func(string, transport.Command) (transport.Result, error) {
		return transport.Result{ExitCode: code}, nil
	}
}
