// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package event

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Handler receives an event. Handlers of pre events may call Deny.
type Handler func(ctx context.Context, e *Event)

// Filter selects the events a subscription receives. Zero fields match
// everything.
type Filter struct {
	Kinds []Kind
	Stage Stage
	// Extension is a glob over dotted extension identifiers, for example
	// "org.example.*" or "org.**".
	Extension string
	// Priority orders handlers; lower values run first. Handlers with equal
	// priority run in subscription order.
	Priority int
}

type subscription struct {
	id      uint64
	filter  Filter
	pattern glob.Glob
	handler Handler
}

func (s *subscription) matches(e *Event) bool {
	if len(s.filter.Kinds) > 0 && !slices.Contains(s.filter.Kinds, e.Kind) {
		return false
	}
	if s.filter.Stage != 0 && s.filter.Stage != e.Stage {
		return false
	}
	if s.pattern != nil && !s.pattern.Match(e.Extension) {
		return false
	}
	return true
}

// Bus delivers events synchronously to matching subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates an event bus. A nil logger uses slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler for events matching filter and returns a
// function that removes the subscription.
func (b *Bus) Subscribe(filter Filter, handler Handler) (func(), error) {
	if handler == nil {
		return nil, oops.Code("EVENT_SUBSCRIBE_FAILED").Errorf("handler is nil")
	}

	sub := &subscription{filter: filter, handler: handler}
	if filter.Extension != "" {
		g, err := glob.Compile(filter.Extension, '.')
		if err != nil {
			return nil, oops.Code("EVENT_SUBSCRIBE_FAILED").
				With("pattern", filter.Extension).
				Wrapf(err, "invalid extension pattern")
		}
		sub.pattern = g
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	idx, _ := slices.BinarySearchFunc(b.subs, sub, func(a, t *subscription) int {
		if a.filter.Priority != t.filter.Priority {
			if a.filter.Priority < t.filter.Priority {
				return -1
			}
			return 1
		}
		if a.id < t.id {
			return -1
		}
		return 1
	})
	b.subs = slices.Insert(b.subs, idx, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s.id == id })
}

// Post delivers e to every matching subscriber in order and returns the
// final state. Post events always report a zero state.
//
// A panicking handler is logged and skipped; delivery continues with the
// next handler.
func (b *Bus) Post(ctx context.Context, e *Event) State {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	b.logger.DebugContext(ctx, "posting event",
		"event_id", e.ID.String(),
		"kind", e.Kind.String(),
		"stage", e.Stage.String(),
		"extension", e.Extension)

	for _, sub := range subs {
		if !sub.matches(e) {
			continue
		}
		b.deliver(ctx, sub, e)
	}

	if e.Stage != StagePre {
		return 0
	}
	return e.state
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panicked",
				"event_id", e.ID.String(),
				"kind", e.Kind.String(),
				"stage", e.Stage.String(),
				"extension", e.Extension,
				"panic", r)
		}
	}()
	sub.handler(ctx, e)
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
