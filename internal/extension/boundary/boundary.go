// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package boundary isolates the content of one extension container and
// resolves names through the boundaries of its dependencies.
package boundary

import (
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/samber/oops"

	"github.com/holomush/extd/internal/extension/manifest"
)

// Error codes.
const (
	CodeOpenFailed = "BOUNDARY_OPEN_FAILED"
	CodeClosed     = "BOUNDARY_CLOSED"
	CodeNotFound   = "BOUNDARY_NOT_FOUND"
)

// Boundary owns the content archive of one container. Name lookups check
// the boundary's own entries before falling through to its dependencies in
// resolution order; the first match wins.
type Boundary struct {
	name string
	path string
	deps []*Boundary

	mu      sync.RWMutex
	file    *os.File
	entries map[string]*zip.File
	closed  bool
}

// Open indexes the content archive of the container at containerPath using
// the offsets from h. Boundaries in deps are consulted, in order, for names
// the container does not hold. Open does not take ownership of deps.
func Open(name, containerPath string, h manifest.Header, deps []*Boundary) (*Boundary, error) {
	f, err := os.Open(containerPath) //nolint:gosec // path comes from the configured extension directory
	if err != nil {
		return nil, oops.Code(CodeOpenFailed).
			With("extension", name).
			With("path", containerPath).
			Wrapf(err, "failed to open container")
	}

	b := &Boundary{
		name:    name,
		path:    containerPath,
		deps:    slices.Clone(deps),
		file:    f,
		entries: make(map[string]*zip.File),
	}

	if h.ContentLength > 0 {
		section := io.NewSectionReader(f, h.ContentOffset(), h.ContentLength)
		zr, err := zip.NewReader(section, h.ContentLength)
		if err != nil {
			_ = f.Close()
			return nil, oops.Code(CodeOpenFailed).
				With("extension", name).
				With("path", containerPath).
				Wrapf(err, "invalid content archive")
		}
		for _, zf := range zr.File {
			if zf.FileInfo().IsDir() {
				continue
			}
			b.entries[path.Clean(zf.Name)] = zf
		}
	}

	return b, nil
}

// Name returns the name the boundary was opened with.
func (b *Boundary) Name() string { return b.name }

// Path returns the container path.
func (b *Boundary) Path() string { return b.path }

// Dependencies returns the dependency boundaries in resolution order.
func (b *Boundary) Dependencies() []*Boundary { return slices.Clone(b.deps) }

// Owns reports whether the boundary itself holds name.
func (b *Boundary) Owns(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	_, ok := b.entries[path.Clean(name)]
	return ok
}

// Resolve returns the boundary that provides name: the boundary itself if
// it holds the entry, otherwise the first dependency that resolves it,
// searched depth first. Closed boundaries resolve nothing.
func (b *Boundary) Resolve(name string) (*Boundary, bool) {
	return b.resolve(path.Clean(name), make(map[*Boundary]struct{}))
}

func (b *Boundary) resolve(name string, visited map[*Boundary]struct{}) (*Boundary, bool) {
	if _, seen := visited[b]; seen {
		return nil, false
	}
	visited[b] = struct{}{}

	if b.Owns(name) {
		return b, true
	}
	for _, dep := range b.deps {
		if owner, ok := dep.resolve(name, visited); ok {
			return owner, true
		}
	}
	return nil, false
}

// ReadFile resolves name and returns its content together with the
// boundary that provided it.
func (b *Boundary) ReadFile(name string) ([]byte, *Boundary, error) {
	if b.isClosed() {
		return nil, nil, oops.Code(CodeClosed).With("extension", b.name).Errorf("boundary is closed")
	}

	owner, ok := b.Resolve(name)
	if !ok {
		return nil, nil, oops.Code(CodeNotFound).
			With("extension", b.name).
			With("name", name).
			Wrapf(fs.ErrNotExist, "cannot resolve %q", name)
	}

	data, err := owner.readOwn(path.Clean(name))
	if err != nil {
		return nil, nil, err
	}
	return data, owner, nil
}

func (b *Boundary) readOwn(name string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, oops.Code(CodeClosed).With("extension", b.name).Errorf("boundary is closed")
	}
	zf, ok := b.entries[name]
	if !ok {
		return nil, oops.Code(CodeNotFound).With("extension", b.name).With("name", name).Wrap(fs.ErrNotExist)
	}

	rc, err := zf.Open()
	if err != nil {
		return nil, oops.With("extension", b.name).With("name", name).Wrapf(err, "failed to open entry")
	}
	defer rc.Close() //nolint:errcheck // read-only entry

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, oops.With("extension", b.name).With("name", name).Wrapf(err, "failed to read entry")
	}
	return data, nil
}

// List returns the sorted names of the boundary's own entries that start
// with prefix.
func (b *Boundary) List(prefix string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	var names []string
	for name := range b.entries {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (b *Boundary) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close releases the container file. Dependency boundaries are left open.
// Calling Close more than once is a no-op.
func (b *Boundary) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.entries = nil
	if err := b.file.Close(); err != nil {
		return oops.With("extension", b.name).With("path", b.path).Wrapf(err, "failed to close container")
	}
	return nil
}
