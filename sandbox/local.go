package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const localWaitDelay = 2 * time.Second

// LocalRuntime implements ContainerRuntime by running the command as a
// plain host process inside the workspace (for development only). The
// image, resource ceilings and network settings of the spec are ignored.
type LocalRuntime struct {
	logger *zap.Logger

	mu    sync.Mutex
	procs map[string]*localProcess
}

type localProcess struct {
	cmd     *exec.Cmd
	out     *io.PipeReader
	started bool
	done    chan struct{}
	err     error
}

// NewLocalRuntime creates a LocalRuntime.
func NewLocalRuntime(logger *zap.Logger) *LocalRuntime {
	logger = logger.With(zap.String("backend", "local"))
	logger.Warn("local backend runs untrusted code on the host without isolation")
	return &LocalRuntime{
		logger: logger,
		procs:  make(map[string]*localProcess),
	}
}

// Create implements ContainerRuntime.
func (l *LocalRuntime) Create(_ context.Context, spec SandboxSpec) (string, error) {
	if len(spec.Cmd) == 0 {
		return "", errors.New("local backend requires an explicit command")
	}

	//nolint:gosec // Running user code is the point of this backend
	cmd := exec.Command(spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Dir = spec.WorkspacePath
	cmd.Env = append([]string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + spec.WorkspacePath,
	}, spec.Env...)

	pr, pw := io.Pipe()
	// Same writer for both: exec hands the child a single pipe.
	cmd.Stdout = pw
	cmd.Stderr = pw
	// Grandchildren may keep the pipe open after the process exits.
	cmd.WaitDelay = localWaitDelay

	id := uuid.NewString()
	l.mu.Lock()
	l.procs[id] = &localProcess{cmd: cmd, out: pr, done: make(chan struct{})}
	l.mu.Unlock()

	return id, nil
}

func (l *LocalRuntime) process(id string) (*localProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[id]
	if !ok {
		return nil, fmt.Errorf("no such process: %s", id)
	}
	return p, nil
}

// Start implements ContainerRuntime.
func (l *LocalRuntime) Start(_ context.Context, id string) error {
	p, err := l.process(id)
	if err != nil {
		return err
	}

	pw := p.cmd.Stdout.(*io.PipeWriter)
	if err := p.cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}
	p.started = true

	go func() {
		p.err = p.cmd.Wait()
		pw.Close()
		close(p.done)
	}()

	return nil
}

// Logs implements ContainerRuntime. Closing the returned reader does not
// break the process's pipe: its remaining output is discarded, as a
// container's log driver would keep consuming it.
func (l *LocalRuntime) Logs(_ context.Context, id string) (io.ReadCloser, error) {
	p, err := l.process(id)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	go pumpOutput(p.out, pw)
	return pr, nil
}

// pumpOutput copies src to dst until src ends. Once dst's reader is
// closed the rest of src goes to io.Discard.
func pumpOutput(src io.Reader, dst *io.PipeWriter) {
	buf := make([]byte, 32<<10)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				_, _ = io.Copy(io.Discard, src)
				return
			}
		}
		if err != nil {
			dst.CloseWithError(err)
			return
		}
	}
}

// Wait implements ContainerRuntime.
func (l *LocalRuntime) Wait(ctx context.Context, id string) (int, error) {
	p, err := l.process(id)
	if err != nil {
		return -1, err
	}
	if !p.started {
		return -1, fmt.Errorf("process %s was never started", id)
	}

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.done:
	}

	if p.err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		return exitCode(exitErr), nil
	}
	return -1, p.err
}

// exitCode reports a signal death as 128+signal, the way container
// engines do.
func exitCode(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return err.ExitCode()
}

// Remove implements ContainerRuntime.
func (l *LocalRuntime) Remove(ctx context.Context, id string) error {
	l.mu.Lock()
	p, ok := l.procs[id]
	delete(l.procs, id)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	p.out.Close()
	if !p.started {
		return nil
	}

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.cmd.Process.Pid, err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
