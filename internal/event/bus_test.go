// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package event_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/extd/internal/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_PreEventDefaultsToProceed(t *testing.T) {
	bus := event.NewBus(nil)

	state := bus.Post(context.Background(), event.Pre(event.KindLoad, "org.example.core", "1.0.0", ""))

	assert.True(t, state.Proceed())
	assert.Equal(t, event.DefaultState, state)
}

func TestBus_SubscriberCanVeto(t *testing.T) {
	bus := event.NewBus(nil)
	_, err := bus.Subscribe(event.Filter{Kinds: []event.Kind{event.KindRegistration}}, func(_ context.Context, e *event.Event) {
		e.Deny()
	})
	require.NoError(t, err)

	state := bus.Post(context.Background(), event.Pre(event.KindRegistration, "org.example.core", "1.0.0", ""))
	assert.False(t, state.Proceed())

	state = bus.Post(context.Background(), event.Pre(event.KindLoad, "org.example.core", "1.0.0", ""))
	assert.True(t, state.Proceed(), "filter limits the veto to registration events")
}

func TestBus_PostEventHasNoState(t *testing.T) {
	bus := event.NewBus(nil)
	called := false
	_, err := bus.Subscribe(event.Filter{}, func(_ context.Context, e *event.Event) {
		called = true
		e.Deny()
	})
	require.NoError(t, err)

	state := bus.Post(context.Background(), event.Post(event.KindRun, "org.example.core", "1.0.0", ""))
	assert.True(t, called)
	assert.Equal(t, event.State(0), state)
}

func TestBus_DeliveryOrder(t *testing.T) {
	bus := event.NewBus(nil)
	var order []string
	record := func(name string) event.Handler {
		return func(context.Context, *event.Event) { order = append(order, name) }
	}

	_, err := bus.Subscribe(event.Filter{Priority: 10}, record("late"))
	require.NoError(t, err)
	_, err = bus.Subscribe(event.Filter{}, record("first"))
	require.NoError(t, err)
	_, err = bus.Subscribe(event.Filter{}, record("second"))
	require.NoError(t, err)
	_, err = bus.Subscribe(event.Filter{Priority: -5}, record("early"))
	require.NoError(t, err)

	bus.Post(context.Background(), event.Post(event.KindResolve, "a", "1.0.0", ""))
	assert.Equal(t, []string{"early", "first", "second", "late"}, order)
}

func TestBus_LaterHandlerSeesEarlierDecision(t *testing.T) {
	bus := event.NewBus(nil)
	_, err := bus.Subscribe(event.Filter{}, func(_ context.Context, e *event.Event) { e.Deny() })
	require.NoError(t, err)
	_, err = bus.Subscribe(event.Filter{}, func(_ context.Context, e *event.Event) {
		assert.False(t, e.State().Proceed())
		e.Allow()
	})
	require.NoError(t, err)

	state := bus.Post(context.Background(), event.Pre(event.KindRun, "a", "1.0.0", ""))
	assert.True(t, state.Proceed())
}

func TestBus_ExtensionGlobFilter(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		ext     string
		want    bool
	}{
		{name: "exact", pattern: "org.example.core", ext: "org.example.core", want: true},
		{name: "single segment", pattern: "org.example.*", ext: "org.example.core", want: true},
		{name: "single segment does not cross dots", pattern: "org.*", ext: "org.example.core", want: false},
		{name: "super wildcard", pattern: "org.**", ext: "org.example.core", want: true},
		{name: "other namespace", pattern: "com.*.*", ext: "org.example.core", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := event.NewBus(nil)
			got := false
			_, err := bus.Subscribe(event.Filter{Extension: tt.pattern}, func(context.Context, *event.Event) { got = true })
			require.NoError(t, err)

			bus.Post(context.Background(), event.Post(event.KindLoad, tt.ext, "1.0.0", ""))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBus_StageFilter(t *testing.T) {
	bus := event.NewBus(nil)
	var stages []event.Stage
	_, err := bus.Subscribe(event.Filter{Stage: event.StagePost}, func(_ context.Context, e *event.Event) {
		stages = append(stages, e.Stage)
	})
	require.NoError(t, err)

	bus.Post(context.Background(), event.Pre(event.KindLoad, "a", "1.0.0", ""))
	bus.Post(context.Background(), event.Post(event.KindLoad, "a", "1.0.0", ""))
	assert.Equal(t, []event.Stage{event.StagePost}, stages)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := event.NewBus(nil)
	calls := 0
	unsubscribe, err := bus.Subscribe(event.Filter{}, func(context.Context, *event.Event) { calls++ })
	require.NoError(t, err)
	require.Equal(t, 1, bus.Len())

	bus.Post(context.Background(), event.Post(event.KindLoad, "a", "1.0.0", ""))
	unsubscribe()
	unsubscribe()
	bus.Post(context.Background(), event.Post(event.KindLoad, "a", "1.0.0", ""))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Len())
}

func TestBus_PanickingHandlerIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	bus := event.NewBus(slog.New(slog.NewJSONHandler(&buf, nil)))

	reached := false
	_, err := bus.Subscribe(event.Filter{}, func(context.Context, *event.Event) { panic("boom") })
	require.NoError(t, err)
	_, err = bus.Subscribe(event.Filter{}, func(context.Context, *event.Event) { reached = true })
	require.NoError(t, err)

	state := bus.Post(context.Background(), event.Pre(event.KindLoad, "a", "1.0.0", ""))

	assert.True(t, reached)
	assert.True(t, state.Proceed())
	assert.Contains(t, buf.String(), "event handler panicked")
}

func TestBus_SubscribeRejectsNilHandler(t *testing.T) {
	bus := event.NewBus(nil)

	_, err := bus.Subscribe(event.Filter{}, nil)
	require.Error(t, err)
	assert.Equal(t, 0, bus.Len())
}

func TestEvent_IDsAreUnique(t *testing.T) {
	a := event.Pre(event.KindLoad, "a", "1.0.0", "")
	b := event.Pre(event.KindLoad, "a", "1.0.0", "")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Negative(t, a.ID.Compare(b.ID))

	parsed, err := event.ParseULID(a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, a.ID, parsed)

	_, err = event.ParseULID("not-a-ulid")
	assert.Error(t, err)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "registration", event.KindRegistration.String())
	assert.Equal(t, "resolve", event.KindResolve.String())
	assert.Equal(t, "load", event.KindLoad.String())
	assert.Equal(t, "run", event.KindRun.String())
	assert.Equal(t, "shutdown", event.KindShutdown.String())
	assert.Equal(t, "removal", event.KindRemoval.String())
	assert.Equal(t, "unknown", event.Kind(0).String())
}
