package livecode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/runtimes"
	"github.com/isdmx/livecode/sandbox"
)

// catRuntime is an in-memory sandbox.ContainerRuntime that understands a
// single command, cat. Files are read from the workspace and $VARS are
// expanded from the sandbox environment; EXIT_STATUS sets the exit code.
type catRuntime struct {
	mu      sync.Mutex
	nextID  int
	specs   map[string]sandbox.SandboxSpec
	created []sandbox.SandboxSpec
}

func newCatRuntime() *catRuntime {
	return &catRuntime{specs: make(map[string]sandbox.SandboxSpec)}
}

func (c *catRuntime) spec(id string) (sandbox.SandboxSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	spec, ok := c.specs[id]
	if !ok {
		return spec, errors.New("no such container")
	}
	return spec, nil
}

func (c *catRuntime) Create(_ context.Context, spec sandbox.SandboxSpec) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := fmt.Sprintf("cat-%d", c.nextID)
	c.specs[id] = spec
	c.created = append(c.created, spec)
	return id, nil
}

func (c *catRuntime) Start(_ context.Context, id string) error {
	_, err := c.spec(id)
	return err
}

func (c *catRuntime) Logs(_ context.Context, id string) (io.ReadCloser, error) {
	spec, err := c.spec(id)
	if err != nil {
		return nil, err
	}

	cmd := spec.Cmd
	if len(cmd) > 2 && cmd[0] == "timeout" {
		cmd = cmd[2:]
	}
	if len(cmd) == 0 || cmd[0] != "cat" {
		return io.NopCloser(strings.NewReader(fmt.Sprintf("%v: command not found\n", cmd))), nil
	}

	env := envMap(spec.Env)
	var out strings.Builder
	for _, name := range cmd[1:] {
		data, err := os.ReadFile(filepath.Join(spec.WorkspacePath, name))
		if err != nil {
			fmt.Fprintf(&out, "cat: %s: No such file or directory\n", name)
			continue
		}
		out.WriteString(os.Expand(string(data), func(key string) string { return env[key] }))
	}
	return io.NopCloser(strings.NewReader(out.String())), nil
}

func (c *catRuntime) Wait(_ context.Context, id string) (int, error) {
	spec, err := c.spec(id)
	if err != nil {
		return -1, err
	}
	if v, ok := envMap(spec.Env)["EXIT_STATUS"]; ok {
		return strconv.Atoi(v)
	}
	return 0, nil
}

func (c *catRuntime) Remove(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.specs, id)
	return nil
}

func (c *catRuntime) live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.specs)
}

func (c *catRuntime) lastSpec() sandbox.SandboxSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.created) == 0 {
		return sandbox.SandboxSpec{}
	}
	return c.created[len(c.created)-1]
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Transport: "livecode", HTTPPort: 0},
		Sandbox: config.SandboxConfig{
			Backend:       "docker",
			TimeoutSec:    10,
			MemoryMB:      100,
			CPUQuota:      10000,
			CPUPeriod:     100000,
			WorkspaceRoot: t.TempDir(),
			MaxLineLength: sandbox.DefaultMaxLineLength,
			Sentinel:      sandbox.DefaultSentinel,
			MessageBuffer: 8,
		},
		Logging: config.LoggingConfig{Mode: "development", Level: "debug"},
	}
}

func testRegistry() *runtimes.Registry {
	return runtimes.FromMap(map[string]config.Runtime{
		"cat": {
			Image:        "busybox",
			Command:      []string{"cat", "main.txt"},
			CodeFilename: "main.txt",
		},
	})
}

// newTestServer wires a Server to the real executor on top of catRuntime.
func newTestServer(t *testing.T) (*Server, *catRuntime) {
	t.Helper()
	cfg := testAppConfig(t)
	logger := zaptest.NewLogger(t)
	rt := newCatRuntime()
	registry := testRegistry()
	executor := sandbox.NewExecutorWithRuntime(logger, sandbox.ConfigFromApp(cfg), registry, rt)
	return New(cfg, logger, executor, registry), rt
}
