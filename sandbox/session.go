package sandbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/livecode/runtimes"
)

// TeardownTimeout bounds container and workspace removal.
const TeardownTimeout = 30 * time.Second

// State is the lifecycle position of a Session.
type State int32

const (
	StateCreated State = iota
	StateStaged
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStaged:
		return "staged"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session runs one request from staging to teardown. It is single use.
type Session struct {
	id       string
	req      Request
	spec     runtimes.Spec
	preparer *WorkspacePreparer
	launcher *Launcher
	runtime  ContainerRuntime
	demux    *Demuxer
	buffer   int
	logger   *zap.Logger

	started   atomic.Bool
	state     atomic.Int32
	workspace string
	handle    Handle
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("session state", zap.Stringer("state", st))
}

// Start stages the workspace and launches the sandbox. Staging and launch
// failures are returned here and leave nothing behind. On success the
// returned channel yields the session's messages, ending with exactly one
// ExitStatus, and is closed once the sandbox and workspace are removed.
//
// The caller must either drain the channel or cancel ctx.
func (s *Session) Start(ctx context.Context) (<-chan Message, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrSessionUsed
	}

	workspace, err := s.preparer.Prepare(s.req, s.spec)
	if err != nil {
		s.setState(StateTerminated)
		return nil, fmt.Errorf("%w: %w", ErrStaging, err)
	}
	s.workspace = workspace
	s.setState(StateStaged)

	sandboxSpec := s.launcher.BuildSpec(s.spec, s.req, workspace)
	handle, err := s.launcher.Launch(ctx, sandboxSpec)
	if err != nil {
		s.preparer.Cleanup(workspace)
		s.setState(StateTerminated)
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	s.handle = handle
	s.setState(StateRunning)

	out := make(chan Message, s.buffer)
	go s.run(ctx, out)
	return out, nil
}

func (s *Session) run(ctx context.Context, out chan<- Message) {
	defer close(out)
	defer s.teardown(ctx)

	started := time.Now()
	s.setState(StateDraining)
	stats := s.drain(ctx, out)

	code := -1
	if ctx.Err() == nil {
		var err error
		code, err = s.runtime.Wait(ctx, s.handle.ID)
		if err != nil {
			s.logger.Error("failed to obtain exit status", zap.Error(err))
			code = -1
		}
	}

	s.send(ctx, out, ExitStatus{Code: code})

	s.logger.Info("session finished",
		zap.Int("exit_status", code),
		zap.Int("lines", stats.Lines),
		zap.Int("controls", stats.Controls),
		zap.Int("dropped", stats.Dropped),
		zap.Bool("truncated", stats.Truncated),
		zap.Bool("cancelled", ctx.Err() != nil),
		zap.Duration("duration", time.Since(started)))
}

func (s *Session) drain(ctx context.Context, out chan<- Message) DrainStats {
	logs, err := s.runtime.Logs(ctx, s.handle.ID)
	if err != nil {
		s.logger.Error("failed to follow sandbox output", zap.Error(err))
		return DrainStats{}
	}
	// Unblocks a pending read when the caller goes away.
	stop := context.AfterFunc(ctx, func() { logs.Close() })
	defer stop()
	defer logs.Close()

	stats, err := s.demux.Drain(logs, func(m Message) bool {
		return s.send(ctx, out, m)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("sandbox output ended with error", zap.Error(err))
	}
	return stats
}

func (s *Session) send(ctx context.Context, out chan<- Message, m Message) bool {
	select {
	case out <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

// teardown runs on every path out of Running, including cancellation.
func (s *Session) teardown(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), TeardownTimeout)
	defer cancel()

	if err := s.runtime.Remove(ctx, s.handle.ID); err != nil {
		s.logger.Error("failed to remove sandbox", zap.String("container", s.handle.ID), zap.Error(err))
	}
	s.preparer.Cleanup(s.workspace)
	s.setState(StateTerminated)
}

func newSessionID() string {
	return uuid.NewString()[:8]
}
