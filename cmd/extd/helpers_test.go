// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloManifest = `format-version: 1
identifier: org.example.hello
version: 1.2.0
display-name: Hello
flags: [ci-build]
authors:
  - name: Test Author
`

const helloComponent = `
return {
  start = function() logger.info("hello started", { build = build.version }) end,
}
`

// writeSource lays out a manifest and a content directory under dir.
func writeSource(t *testing.T, dir, manifestYAML string, files map[string]string) (string, string) {
	t.Helper()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifestYAML), 0o600))

	content := filepath.Join(dir, "content")
	for name, body := range files {
		path := filepath.Join(content, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	return manifestPath, content
}

// packHello builds the hello container into extDir.
func packHello(t *testing.T, extDir string) string {
	t.Helper()
	manifestPath, content := writeSource(t, t.TempDir(), helloManifest, map[string]string{
		"org/example/hello/main.lua": helloComponent,
	})
	out, err := pack(manifestPath, content, filepath.Join(extDir, "hello.bec"))
	require.NoError(t, err)
	return out
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	configFile = ""
	cmd := NewRootCmd(testBuild)
	var out, errOut syncBuffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
