// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/holomush/extd/internal/extension/boundary"
	"github.com/holomush/extd/internal/extension/manifest"
)

// dep declares a dependency in a test manifest.
type dep struct {
	id       string
	rng      string
	optional bool
}

func required(id string) dep { return dep{id: id, rng: "[1.0.0"} }
func optional(id string) dep { return dep{id: id, rng: "[1.0.0", optional: true} }

func manifestYAML(id, ver string, deps ...dep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "format-version: 1\nidentifier: %s\nversion: %s\ndisplay-name: %s\n", id, ver, id)
	b.WriteString("authors:\n  - name: Test Author\n")
	if len(deps) > 0 {
		b.WriteString("dependencies:\n  extensions:\n")
		for _, d := range deps {
			fmt.Fprintf(&b, "    - identifier: %s\n      version-range: %q\n      optional: %t\n", d.id, d.rng, d.optional)
		}
	}
	return b.String()
}

// writeContainerFile writes a container for id into dir and returns its path.
func writeContainerFile(t *testing.T, dir, id, ver string, files fstest.MapFS, deps ...dep) string {
	t.Helper()
	var content []byte
	if len(files) > 0 {
		var err error
		content, err = boundary.Archive(files)
		require.NoError(t, err)
	}
	var buf bytes.Buffer
	_, err := manifest.WriteContainer(&buf, []byte(manifestYAML(id, ver, deps...)), content)
	require.NoError(t, err)

	path := filepath.Join(dir, id+manifest.FileSuffix)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

// load writes and loads an extension with a fake context factory.
func load(t *testing.T, f *fakeFactory, id string, deps ...dep) *Extension {
	t.Helper()
	path := writeContainerFile(t, t.TempDir(), id, "1.0.0", nil, deps...)
	ext, err := Load(path, f, nil)
	require.NoError(t, err)
	t.Cleanup(ext.Close)
	return ext
}

// fakeFactory creates fakeContexts and records every call made on them.
type fakeFactory struct {
	mu       sync.Mutex
	calls    []string
	contexts []*fakeContext
	// failOn maps "identifier:method" to the error that method returns.
	failOn map[string]error
	newErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{failOn: make(map[string]error)}
}

func (f *fakeFactory) fail(identifier, method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[identifier+":"+method] = err
}

func (f *fakeFactory) NewContext(parent AppContext, b *boundary.Boundary) (AppContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	c := &fakeContext{factory: f, name: b.Name(), parent: parent, singletons: map[string]any{}}
	f.contexts = append(f.contexts, c)
	return c, nil
}

func (f *fakeFactory) record(name, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+":"+method)
	return f.failOn[name+":"+method]
}

func (f *fakeFactory) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeContext struct {
	factory    *fakeFactory
	name       string
	parent     AppContext
	singletons map[string]any
	scanned    []string
	closed     int
}

func (c *fakeContext) RegisterSingleton(name string, value any) error {
	c.singletons[name] = value
	return c.factory.record(c.name, "register")
}

func (c *fakeContext) Scan(namespace string) error {
	c.scanned = append(c.scanned, namespace)
	return c.factory.record(c.name, "scan")
}

func (c *fakeContext) Refresh() error { return c.factory.record(c.name, "refresh") }
func (c *fakeContext) Start() error   { return c.factory.record(c.name, "start") }

func (c *fakeContext) Close() error {
	c.closed++
	return c.factory.record(c.name, "close")
}

var errBoom = errors.New("boom")

func removeFile(path string) error { return os.Remove(path) }
