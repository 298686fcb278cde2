package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/runtimes"
)

// chunkReader returns one chunk per Read, splitting only when p is too small.
type chunkReader struct {
	mu     sync.Mutex
	chunks []string
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	for len(r.chunks) > 0 && r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *chunkReader) remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.chunks {
		n += len(c)
	}
	return n
}

// fakeSandbox is the state fakeRuntime keeps per created container.
type fakeSandbox struct {
	spec    SandboxSpec
	started bool
	logs    io.ReadCloser
}

// fakeRuntime is an in-memory ContainerRuntime.
type fakeRuntime struct {
	mu sync.Mutex

	// output builds the log stream of each container from its spec.
	output   func(spec SandboxSpec) io.ReadCloser
	exitCode int

	createErr error
	startErr  error
	logsErr   error
	waitErr   error

	nextID    int
	sandboxes map[string]*fakeSandbox
	created   []SandboxSpec
	removed   []string
}

func newFakeRuntime(chunks ...string) *fakeRuntime {
	return &fakeRuntime{
		output: func(SandboxSpec) io.ReadCloser {
			return &chunkReader{chunks: append([]string(nil), chunks...)}
		},
		sandboxes: make(map[string]*fakeSandbox),
	}
}

func (f *fakeRuntime) Create(_ context.Context, spec SandboxSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("c%d", f.nextID)
	f.sandboxes[id] = &fakeSandbox{spec: spec}
	f.created = append(f.created, spec)
	return id, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	sb, ok := f.sandboxes[id]
	if !ok {
		return errors.New("no such container")
	}
	sb.started = true
	sb.logs = f.output(sb.spec)
	return nil
}

func (f *fakeRuntime) Logs(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	sb, ok := f.sandboxes[id]
	if !ok {
		return nil, errors.New("no such container")
	}
	return sb.logs, nil
}

func (f *fakeRuntime) Wait(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return -1, f.waitErr
	}
	if _, ok := f.sandboxes[id]; !ok {
		return -1, errors.New("no such container")
	}
	return f.exitCode, nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sandboxes, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sandboxes)
}

func (f *fakeRuntime) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeRuntime) createdSpecs() []SandboxSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SandboxSpec(nil), f.created...)
}

func testRegistry() *runtimes.Registry {
	return runtimes.FromMap(map[string]config.Runtime{
		"python": {
			Image:        "python:3.11-slim",
			Command:      []string{"python", "main.py"},
			CodeFilename: "main.py",
		},
		"python-canvas": {
			Image:        "livecode-python-canvas",
			Command:      []string{"python", "/opt/startup.py"},
			CodeFilename: "main.py",
		},
	})
}

func testConfig(root string) *Config {
	return &Config{
		TimeoutSec:    10,
		MemoryMB:      100,
		CPUQuota:      10000,
		CPUPeriod:     100000,
		WorkspaceRoot: root,
		MaxLineLength: DefaultMaxLineLength,
		Sentinel:      DefaultSentinel,
		MessageBuffer: 4,
	}
}
