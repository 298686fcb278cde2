package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
)

// Errors reported by Executor.Execute before any message is produced.
var (
	ErrStaging         = errors.New("workspace staging failed")
	ErrLaunch          = errors.New("sandbox launch failed")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrSessionUsed     = errors.New("session already started")
)

// SandboxExecutor is what the transports depend on.
type SandboxExecutor interface {
	Execute(ctx context.Context, req Request) (<-chan Message, error)
}

// ContainerRuntime is the container service a session drives.
// Implementations must be safe for concurrent use by independent sessions.
type ContainerRuntime interface {
	// Create registers a sandbox for spec without starting it and returns its ID.
	Create(ctx context.Context, spec SandboxSpec) (string, error)
	Start(ctx context.Context, id string) error
	// Logs follows the combined stdout/stderr of the sandbox until it exits.
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	// Wait blocks until the sandbox is no longer running and returns its exit code.
	Wait(ctx context.Context, id string) (int, error)
	// Remove deletes the sandbox, killing it if needed. Removing an unknown ID is not an error.
	Remove(ctx context.Context, id string) error
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	Chmod(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants. The container user is not necessarily the
// owner of the workspace, so everything is world readable.
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)
