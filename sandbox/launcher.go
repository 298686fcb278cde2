package sandbox

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/livecode/runtimes"
)

// ContainerWorkdir is where the workspace is mounted inside the sandbox.
const ContainerWorkdir = "/app"

// LabelManaged marks containers created by this service.
const LabelManaged = "io.livecode.managed"

// BaselineEnv is applied before any runtime or request variables.
var BaselineEnv = []string{
	"PYTHONUNBUFFERED=1",
	"PYTHONDONTWRITEBYTECODE=1",
}

// SandboxSpec is everything the container runtime needs to launch one sandbox.
type SandboxSpec struct {
	Name            string
	Image           string
	Cmd             []string
	Env             []string
	WorkspacePath   string
	WorkingDir      string
	MemoryBytes     int64
	CPUQuota        int64
	CPUPeriod       int64
	NetworkDisabled bool
	Labels          map[string]string
}

// Handle refers to a launched sandbox. The session that obtained it must
// remove it exactly once.
type Handle struct {
	ID   string
	Name string
}

// Launcher turns a request into a SandboxSpec and starts it.
type Launcher struct {
	runtime ContainerRuntime
	config  *Config
	logger  *zap.Logger
}

// NewLauncher creates a Launcher using the ceilings in config.
func NewLauncher(logger *zap.Logger, runtime ContainerRuntime, config *Config) *Launcher {
	return &Launcher{runtime: runtime, config: config, logger: logger}
}

// BuildSpec derives the sandbox spec for req running under spec with the
// workspace at workspace.
func (l *Launcher) BuildSpec(spec runtimes.Spec, req Request, workspace string) SandboxSpec {
	cmd := req.Command
	if len(cmd) == 0 {
		cmd = spec.Command
	}
	cmd = slices.Clone(cmd)

	if l.config.TimeoutSec > 0 {
		if len(cmd) > 0 {
			cmd = append([]string{"timeout", strconv.Itoa(l.config.TimeoutSec)}, cmd...)
		} else {
			l.logger.Warn("runtime relies on the image command, wall-clock timeout not applied",
				zap.String("runtime", spec.Name))
		}
	}

	env := slices.Clone(BaselineEnv)
	env = append(env, spec.Env...)
	for _, key := range slices.Sorted(maps.Keys(req.Env)) {
		env = append(env, key+"="+req.Env[key])
	}

	return SandboxSpec{
		Name:            "livecode-" + uuid.NewString(),
		Image:           spec.Image,
		Cmd:             cmd,
		Env:             env,
		WorkspacePath:   workspace,
		WorkingDir:      ContainerWorkdir,
		MemoryBytes:     int64(l.config.MemoryMB) * 1024 * 1024,
		CPUQuota:        l.config.CPUQuota,
		CPUPeriod:       l.config.CPUPeriod,
		NetworkDisabled: !l.config.NetworkEnabled,
		Labels: map[string]string{
			LabelManaged:          "true",
			"io.livecode.runtime": spec.Name,
		},
	}
}

// Launch creates and starts the sandbox. When start fails the created
// container is removed here, so a failed launch never yields a handle.
func (l *Launcher) Launch(ctx context.Context, ss SandboxSpec) (Handle, error) {
	id, err := l.runtime.Create(ctx, ss)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create sandbox: %w", err)
	}

	if err := l.runtime.Start(ctx, id); err != nil {
		if rmErr := l.runtime.Remove(context.WithoutCancel(ctx), id); rmErr != nil {
			l.logger.Error("failed to remove sandbox after start failure",
				zap.String("container", id), zap.Error(rmErr))
		}
		return Handle{}, fmt.Errorf("failed to start sandbox: %w", err)
	}

	l.logger.Debug("sandbox started",
		zap.String("container", id),
		zap.String("name", ss.Name),
		zap.String("image", ss.Image),
		zap.Strings("cmd", ss.Cmd))

	return Handle{ID: id, Name: ss.Name}, nil
}
