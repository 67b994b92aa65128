// Package storage confines file operations to a base directory. Prepared
// rotation folders are named by dashboard input, so every path is
// canonicalised and checked against the base before it touches the disk.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesBase is returned when a path would resolve outside the sandbox.
var ErrEscapesBase = errors.New("path escapes sandbox")

// Sandbox resolves relative paths against one base directory and rejects
// anything that climbs out of it.
type Sandbox struct {
	base string
}

// NewSandbox roots a sandbox at dir, creating the directory when missing.
func NewSandbox(dir string) (*Sandbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Sandbox{base: abs}, nil
}

// BaseDir returns the absolute sandbox root.
func (s *Sandbox) BaseDir() string { return s.base }

// Resolve turns a relative path into an absolute path inside the sandbox.
// Absolute inputs and paths whose canonical form leaves the base are
// rejected with ErrEscapesBase.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrEscapesBase, rel)
	}
	abs, err := filepath.Abs(filepath.Join(s.base, filepath.Clean(rel)))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rel, err)
	}
	if abs != s.base && !strings.HasPrefix(abs, s.base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesBase, rel)
	}
	return abs, nil
}

// Exists reports whether the path exists inside the sandbox.
func (s *Sandbox) Exists(rel string) (bool, error) {
	path, err := s.Resolve(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", rel, err)
	}
	return true, nil
}

// MkdirAll creates the directory and any missing parents.
func (s *Sandbox) MkdirAll(rel string) error {
	path, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", rel, err)
	}
	return nil
}

// ReadFile reads a file inside the sandbox.
func (s *Sandbox) ReadFile(rel string) ([]byte, error) {
	path, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return data, nil
}

// RemoveAll deletes the path and everything under it. The base directory
// itself is never removable.
func (s *Sandbox) RemoveAll(rel string) error {
	path, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if path == s.base {
		return errors.New("refusing to remove sandbox base")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	return nil
}

// List returns the directory entries at the path. An empty rel lists the
// base directory.
func (s *Sandbox) List(rel string) ([]os.DirEntry, error) {
	path, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", rel, err)
	}
	return entries, nil
}
