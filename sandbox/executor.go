package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/livecode/runtimes"
)

// RuntimeLookup resolves runtime names; *runtimes.Registry implements it.
type RuntimeLookup interface {
	Lookup(name string) (runtimes.Spec, error)
}

// Config holds the platform-wide execution settings.
type Config struct {
	TimeoutSec     int
	MemoryMB       int
	CPUQuota       int64
	CPUPeriod      int64
	NetworkEnabled bool
	WorkspaceRoot  string
	MaxLineLength  int
	Sentinel       string
	MessageBuffer  int
}

// Executor creates and starts sessions. It holds no per-session state and
// is safe for concurrent use.
type Executor struct {
	logger  *zap.Logger
	config  *Config
	lookup  RuntimeLookup
	runtime ContainerRuntime
	fs      FileSystem
}

// ExecutorOption defines a functional option for Executor
type ExecutorOption func(*Executor)

// WithFileSystem sets the FileSystem used for workspaces
func WithFileSystem(fs FileSystem) ExecutorOption {
	return func(e *Executor) {
		e.fs = fs
	}
}

// NewExecutorWithRuntime creates an Executor on an explicit container runtime.
func NewExecutorWithRuntime(logger *zap.Logger, config *Config, lookup RuntimeLookup, runtime ContainerRuntime, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger:  logger,
		config:  config,
		lookup:  lookup,
		runtime: runtime,
		fs:      &RealFileSystem{}, // Default implementation
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewSession resolves the runtime of req and returns an unstarted session.
func (e *Executor) NewSession(req Request) (*Session, error) {
	spec, err := e.lookup.Lookup(req.Runtime)
	if err != nil {
		return nil, err
	}

	id := newSessionID()
	logger := e.logger.With(zap.String("session", id), zap.String("runtime", spec.Name))

	return &Session{
		id:       id,
		req:      req,
		spec:     spec,
		preparer: NewWorkspacePreparer(logger, e.fs, e.config.WorkspaceRoot),
		launcher: NewLauncher(logger, e.runtime, e.config),
		runtime:  e.runtime,
		demux:    NewDemuxer(logger, e.config.Sentinel, e.config.MaxLineLength),
		buffer:   e.config.MessageBuffer,
		logger:   logger,
	}, nil
}

// Execute runs req in a fresh session. Unknown runtimes, staging failures
// and launch failures are returned as errors; otherwise every outcome,
// including a crashing program, is reported on the channel, which ends with
// exactly one ExitStatus.
func (e *Executor) Execute(ctx context.Context, req Request) (<-chan Message, error) {
	session, err := e.NewSession(req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve runtime: %w", err)
	}
	session.logger.Info("executing code",
		zap.Int("code_len", len(req.Code)),
		zap.Int("files", len(req.Files)))
	return session.Start(ctx)
}
