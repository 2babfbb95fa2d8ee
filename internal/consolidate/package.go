package consolidate

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Package zips dir into "<dir>_<random hex>.zip" next to it and returns the archive path.
func Package(dir string) (string, error) {
	dir = filepath.Clean(dir)
	name := fmt.Sprintf("%s_%s.zip", filepath.Base(dir), strings.ReplaceAll(uuid.New().String(), "-", ""))
	out := filepath.Join(filepath.Dir(dir), name)

	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	err = writeZip(f, dir)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return "", fmt.Errorf("package %s: %w", dir, err)
	}
	return out, nil
}

func writeZip(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

// Cleanup removes the per-period working folder once its archive was delivered.
func Cleanup(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cleanup %s: %w", dir, err)
	}
	return nil
}

// Packager adapts the package functions to the orchestrator.
type Packager struct{}

func (Packager) Consolidate(dir, fy string) (string, error) { return Combine(dir, fy) }
func (Packager) Package(dir string) (string, error)         { return Package(dir) }
func (Packager) Cleanup(dir string) error                   { return Cleanup(dir) }
