// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package journal

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory keeps entries in process.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Append implements Writer.
func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, normalize(e, m.now))
	return nil
}

// List implements Writer.
func (m *Memory) List(_ context.Context, extension string, limit int) ([]Entry, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if extension != "" && !strings.EqualFold(m.entries[i].Extension, extension) {
			continue
		}
		out = append(out, m.entries[i])
	}
	return out, nil
}

// Close implements Writer.
func (m *Memory) Close() error { return nil }
