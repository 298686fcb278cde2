package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/runtimes"
)

// NewExecutor creates an executor on the backend selected by the configuration
func NewExecutor(logger *zap.Logger, cfg *config.Config, registry *runtimes.Registry) (*Executor, error) {
	executorConfig := ConfigFromApp(cfg)

	runtime, err := NewRuntime(logger, cfg)
	if err != nil {
		return nil, err
	}

	return NewExecutorWithRuntime(logger, executorConfig, registry, runtime), nil
}

// NewRuntime creates the ContainerRuntime named by sandbox.backend.
func NewRuntime(logger *zap.Logger, cfg *config.Config) (ContainerRuntime, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerRuntime(logger, DockerRuntimeConfig{
			Host:       cfg.Sandbox.DockerHost,
			PullImages: cfg.Sandbox.PullImages,
		})
	case "podman":
		return NewDockerRuntime(logger, DockerRuntimeConfig{
			Host:       cfg.Sandbox.PodmanSocket,
			PullImages: cfg.Sandbox.PullImages,
		})
	case "local":
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled")
		}
		return NewLocalRuntime(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// ConfigFromApp extracts the execution settings from the application config.
func ConfigFromApp(cfg *config.Config) *Config {
	return &Config{
		TimeoutSec:     cfg.Sandbox.TimeoutSec,
		MemoryMB:       cfg.Sandbox.MemoryMB,
		CPUQuota:       cfg.Sandbox.CPUQuota,
		CPUPeriod:      cfg.Sandbox.CPUPeriod,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		WorkspaceRoot:  cfg.Sandbox.WorkspaceRoot,
		MaxLineLength:  cfg.Sandbox.MaxLineLength,
		Sentinel:       cfg.Sandbox.Sentinel,
		MessageBuffer:  cfg.Sandbox.MessageBuffer,
	}
}
