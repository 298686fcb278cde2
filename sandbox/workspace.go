package sandbox

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/isdmx/livecode/runtimes"
)

// WorkspacePreparer stages the files of a request into a fresh host directory.
type WorkspacePreparer struct {
	fs     FileSystem
	root   string
	logger *zap.Logger
}

// NewWorkspacePreparer creates workspaces under root (the system temp
// directory when empty).
func NewWorkspacePreparer(logger *zap.Logger, fs FileSystem, root string) *WorkspacePreparer {
	return &WorkspacePreparer{fs: fs, root: root, logger: logger}
}

// CodeFilename resolves the filename the code is written under.
func CodeFilename(req Request, spec runtimes.Spec) string {
	if req.CodeFilename != "" {
		return req.CodeFilename
	}
	return spec.CodeFilename
}

// Prepare creates a uniquely named directory holding the seed archive, the
// code and the auxiliary files, in that order. On error nothing is left
// behind.
func (p *WorkspacePreparer) Prepare(req Request, spec runtimes.Spec) (string, error) {
	dir, err := p.fs.MkdirTemp(p.root, "livecode-*")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	if err := p.populate(dir, req, spec); err != nil {
		p.Cleanup(dir)
		return "", err
	}

	p.logger.Debug("workspace prepared",
		zap.String("path", dir),
		zap.Int("files", len(req.Files)),
		zap.Bool("archive", len(req.Archive) > 0))

	return dir, nil
}

func (p *WorkspacePreparer) populate(dir string, req Request, spec runtimes.Spec) error {
	// MkdirTemp creates 0700; the container user may not be the owner.
	if err := p.fs.Chmod(dir, DirPermission); err != nil {
		return fmt.Errorf("failed to set workspace permissions: %w", err)
	}

	if len(req.Archive) > 0 {
		if err := ExtractTarToDir(p.fs, req.Archive, dir); err != nil {
			return fmt.Errorf("failed to extract archive: %w", err)
		}
	}

	if err := p.writeFile(dir, CodeFilename(req, spec), req.Code); err != nil {
		return fmt.Errorf("failed to write code: %w", err)
	}

	for _, f := range req.Files {
		if err := p.writeFile(dir, f.Filename, f.Contents); err != nil {
			return fmt.Errorf("failed to write file %q: %w", f.Filename, err)
		}
	}

	return nil
}

func (p *WorkspacePreparer) writeFile(dir, name, contents string) error {
	path, err := workspacePath(dir, name)
	if err != nil {
		return err
	}
	if parent := filepath.Dir(path); parent != dir {
		if err := p.fs.MkdirAll(parent, DirPermission); err != nil {
			return err
		}
	}
	return p.fs.WriteFile(path, []byte(contents), FilePermission)
}

// Cleanup removes a workspace. Failures are logged, not returned.
func (p *WorkspacePreparer) Cleanup(dir string) {
	if dir == "" {
		return
	}
	if err := p.fs.RemoveAll(dir); err != nil {
		p.logger.Error("failed to remove workspace", zap.String("path", dir), zap.Error(err))
	}
}
