package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

// MaxArchiveEntrySize bounds a single file unpacked from a seed archive.
const MaxArchiveEntrySize = 64 << 20

// ExtractTarToDir extracts tar.gz data to the destination directory safely
func ExtractTarToDir(fs FileSystem, tarData []byte, destDir string) error {
	gzipReader, err := gzip.NewReader(bytes.NewReader(tarData))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar: %w", err)
		}

		if filepath.IsAbs(header.Name) {
			return fmt.Errorf("absolute path not allowed in tar: %s", header.Name)
		}

		filePath, err := workspacePath(destDir, header.Name)
		if err != nil {
			return fmt.Errorf("unsafe relative path in tar: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(filePath, DirPermission); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if header.Size > MaxArchiveEntrySize {
				return fmt.Errorf("file too large in tar: %s (%d bytes)", header.Name, header.Size)
			}

			if err := fs.MkdirAll(filepath.Dir(filePath), DirPermission); err != nil {
				return fmt.Errorf("failed to create parent directories: %w", err)
			}

			fileContent := make([]byte, header.Size)
			if _, err := io.ReadFull(tarReader, fileContent); err != nil {
				return fmt.Errorf("failed to read file content: %w", err)
			}

			if err := fs.WriteFile(filePath, fileContent, FilePermission); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
		default:
			return fmt.Errorf("unsupported file type in tar: %c", header.Typeflag)
		}
	}

	return nil
}

// workspacePath joins a caller-supplied relative name onto root, refusing
// names that would land outside of it.
func workspacePath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return filepath.Join(root, clean), nil
}
