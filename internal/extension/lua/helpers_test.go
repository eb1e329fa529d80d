// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/holomush/extd/internal/extension/boundary"
	"github.com/holomush/extd/internal/extension/manifest"
)

// newBoundary packs sources into a container and opens its boundary.
func newBoundary(t *testing.T, identifier string, sources map[string]string, deps ...*boundary.Boundary) *boundary.Boundary {
	t.Helper()

	files := fstest.MapFS{}
	for name, src := range sources {
		files[name] = &fstest.MapFile{Data: []byte(src)}
	}
	var content []byte
	if len(files) > 0 {
		var err error
		content, err = boundary.Archive(files)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	h, err := manifest.WriteContainer(&buf,
		[]byte("format-version: 1\nidentifier: "+identifier+"\nversion: 1.0.0\n"), content)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), identifier+manifest.FileSuffix)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	b, err := boundary.Open(identifier, path, h, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// captureLogger returns a JSON logger and a function decoding its messages.
func captureLogger(t *testing.T) (*slog.Logger, func() []map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() []map[string]any {
		var entries []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &entry))
			entries = append(entries, entry)
		}
		return entries
	}
}

// messages returns the msg fields of entries whose msg starts with prefix.
func messages(entries []map[string]any, prefix string) []string {
	var out []string
	for _, e := range entries {
		if msg, _ := e["msg"].(string); strings.HasPrefix(msg, prefix) {
			out = append(out, msg)
		}
	}
	return out
}
