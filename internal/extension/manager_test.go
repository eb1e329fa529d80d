// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/extd/internal/event"
	"github.com/holomush/extd/internal/journal"
	"github.com/holomush/extd/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects every posted event as "kind/stage/extension".
type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func record(t *testing.T, bus *event.Bus) *recorder {
	t.Helper()
	r := &recorder{}
	unsubscribe, err := bus.Subscribe(event.Filter{}, func(_ context.Context, e *event.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	require.NoError(t, err)
	t.Cleanup(unsubscribe)
	return r
}

func (r *recorder) names(kind event.Kind, stage event.Stage) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == kind && e.Stage == stage {
			out = append(out, e.Extension)
		}
	}
	return out
}

func (r *recorder) find(kind event.Kind, stage event.Stage, extension string) *event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind && e.Stage == stage && e.Extension == extension {
			return e
		}
	}
	return nil
}

type managerFixture struct {
	dir     string
	factory *fakeFactory
	journal *journal.Memory
	manager *Manager
	events  *recorder
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	fx := &managerFixture{
		dir:     t.TempDir(),
		factory: newFakeFactory(),
		journal: journal.NewMemory(),
	}
	fx.manager = NewManager(fx.dir, fx.factory, WithJournal(fx.journal))
	fx.events = record(t, fx.manager.Bus())
	t.Cleanup(func() { fx.manager.Stop(context.Background()) })
	return fx
}

func (fx *managerFixture) add(t *testing.T, id string, deps ...dep) string {
	t.Helper()
	return writeContainerFile(t, fx.dir, id, "1.0.0", nil, deps...)
}

func (fx *managerFixture) phase(t *testing.T, id string) Phase {
	t.Helper()
	ext, ok := fx.manager.Lookup(id)
	require.True(t, ok, "extension %s not registered", id)
	return ext.Phase()
}

func TestManager_DiscoverCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "extensions")
	m := NewManager(dir, newFakeFactory())

	require.NoError(t, m.Discover(context.Background()))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Empty(t, m.Extensions())
}

func TestManager_DiscoverRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	err := NewManager(path, newFakeFactory()).Discover(context.Background())
	errutil.AssertErrorCode(t, err, CodeDiscovery)
}

func TestManager_DiscoverRegistersContainers(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "org.example.beta")
	fx.add(t, "org.example.alpha")
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, "broken"+".bec"), []byte("garbage"), 0o600))

	before := testutil.ToFloat64(DiscoveryFailures)
	require.NoError(t, fx.manager.Discover(context.Background()))

	assert.Equal(t, []string{"org.example.alpha", "org.example.beta"}, identifiers(fx.manager.Extensions()))
	assert.Equal(t, before+1, testutil.ToFloat64(DiscoveryFailures))
	assert.Equal(t, []string{"org.example.alpha", "org.example.beta"},
		fx.events.names(event.KindRegistration, event.StagePost))

	require.NoError(t, fx.manager.Discover(context.Background()))
	assert.Len(t, fx.manager.Extensions(), 2, "discovery is idempotent per path")
}

func TestManager_RegistrationVeto(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "org.example.alpha")
	fx.add(t, "org.example.beta")

	unsubscribe, err := fx.manager.Bus().Subscribe(
		event.Filter{Kinds: []event.Kind{event.KindRegistration}, Extension: "org.example.beta"},
		func(_ context.Context, e *event.Event) { e.Deny() })
	require.NoError(t, err)

	require.NoError(t, fx.manager.Discover(context.Background()))
	assert.Equal(t, []string{"org.example.alpha"}, identifiers(fx.manager.Extensions()))
	assert.Nil(t, fx.events.find(event.KindRegistration, event.StagePost, "org.example.beta"))

	unsubscribe()
	require.NoError(t, fx.manager.Discover(context.Background()))
	assert.Equal(t, []string{"org.example.alpha", "org.example.beta"}, identifiers(fx.manager.Extensions()),
		"a vetoed path is not remembered")
}

func TestManager_DuplicateIdentifier(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "org.example.alpha")
	other := writeContainerFile(t, t.TempDir(), "org.example.alpha", "2.0.0", nil)

	require.NoError(t, fx.manager.Discover(context.Background()))
	_, err := fx.manager.DiscoverPath(context.Background(), other)
	errutil.AssertErrorCode(t, err, CodeDuplicate)
	assert.Len(t, fx.manager.Extensions(), 1)
}

func TestManager_DiscoverPath(t *testing.T) {
	fx := newManagerFixture(t)
	path := fx.add(t, "org.example.alpha")

	ext, err := fx.manager.DiscoverPath(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, ext)

	again, err := fx.manager.DiscoverPath(context.Background(), path)
	require.NoError(t, err)
	assert.Same(t, ext, again)

	_, err = fx.manager.DiscoverPath(context.Background(), filepath.Join(fx.dir, "missing.bec"))
	assert.Error(t, err)
}

func TestManager_InitializeOrdersByDependency(t *testing.T) {
	tests := []struct {
		name string
		deps map[string][]dep
		want []string
	}{
		{
			name: "a needs b, c needs a",
			deps: map[string][]dep{"a": {required("b")}, "b": nil, "c": {required("a")}},
			want: []string{"b", "a", "c"},
		},
		{
			// Registration is lexical, the reverse of the dependency order.
			name: "chain against registration order",
			deps: map[string][]dep{"a": {required("b")}, "b": {required("c")}, "c": nil},
			want: []string{"c", "b", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newManagerFixture(t)
			for id, deps := range tt.deps {
				fx.add(t, id, deps...)
			}

			ctx := context.Background()
			require.NoError(t, fx.manager.Discover(ctx))
			fx.manager.Initialize(ctx)

			for id := range tt.deps {
				assert.Equal(t, PhaseRunning, fx.phase(t, id), id)
			}
			for _, kind := range []event.Kind{event.KindResolve, event.KindLoad, event.KindRun} {
				assert.Equal(t, tt.want, fx.events.names(kind, event.StagePost), kind.String())
			}
		})
	}
}

func TestManager_WiresFirstMatchingExtension(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a", required("b"))
	fx.add(t, "b")

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)

	a, _ := fx.manager.Lookup("a")
	b, _ := fx.manager.Lookup("b")
	assert.Equal(t, []*Extension{b}, a.Dependencies())
	assert.Same(t, b.Boundary(), a.Boundary().Dependencies()[0])
}

func TestManager_StartFailureIsIsolated(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a", required("b"))
	fx.add(t, "b")
	fx.add(t, "bad")
	fx.factory.fail("bad", "refresh", errBoom)

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)

	assert.Equal(t, PhaseRunning, fx.phase(t, "a"))
	assert.Equal(t, PhaseRunning, fx.phase(t, "b"))
	assert.Equal(t, PhaseRegistered, fx.phase(t, "bad"))
	assert.Nil(t, fx.events.find(event.KindRun, event.StagePost, "bad"))

	entries, err := fx.journal.List(ctx, "bad", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "run", entries[0].Phase)
	assert.Equal(t, journal.OutcomeFailed, entries[0].Outcome)
	assert.Contains(t, entries[0].Error, "boom")
}

func TestManager_UnresolvedDependencyStaysRegistered(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a", required("missing"))
	fx.add(t, "b")

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)

	assert.Equal(t, PhaseRegistered, fx.phase(t, "a"))
	assert.Equal(t, PhaseRunning, fx.phase(t, "b"))
}

func TestManager_FailedDependencyCascades(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a", required("b"))
	fx.add(t, "b")
	fx.add(t, "c", optional("b"))
	fx.add(t, "d")
	fx.factory.fail("b", "start", errBoom)

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)

	assert.Equal(t, PhaseRegistered, fx.phase(t, "b"))
	assert.Equal(t, PhaseRegistered, fx.phase(t, "a"), "a required b to be running")
	assert.Equal(t, PhaseRegistered, fx.phase(t, "c"), "loaded dependencies must run, optional or not")
	assert.Equal(t, PhaseRunning, fx.phase(t, "d"))
}

func TestManager_OptionalDependencyDroppedWhenNotLoaded(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a", optional("b"))
	fx.add(t, "b", required("missing"))

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)

	a, _ := fx.manager.Lookup("a")
	assert.Equal(t, PhaseRunning, a.Phase())
	assert.Empty(t, a.Dependencies())
}

func TestManager_VetoedTransitionKeepsPhase(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a")
	fx.add(t, "b")

	_, err := fx.manager.Bus().Subscribe(
		event.Filter{Kinds: []event.Kind{event.KindLoad}, Stage: event.StagePre, Extension: "a"},
		func(_ context.Context, e *event.Event) { e.Deny() })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)

	assert.Equal(t, PhaseResolved, fx.phase(t, "a"))
	assert.Equal(t, PhaseRunning, fx.phase(t, "b"))

	entries, err := fx.journal.List(ctx, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomeVetoed, entries[0].Outcome)
}

func TestManager_ShutdownPostsEventsWhenCloseFails(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a", required("b"))
	fx.add(t, "b")
	fx.factory.fail("a", "close", errBoom)

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)
	fx.manager.Shutdown(ctx)

	assert.Equal(t, PhaseRegistered, fx.phase(t, "a"))
	assert.Equal(t, PhaseRegistered, fx.phase(t, "b"))
	assert.Equal(t, []string{"a", "b"}, fx.events.names(event.KindShutdown, event.StagePre))
	assert.Equal(t, []string{"a", "b"}, fx.events.names(event.KindShutdown, event.StagePost))

	post := fx.events.find(event.KindShutdown, event.StagePost, "a")
	require.NotNil(t, post)
	assert.ErrorIs(t, post.Err, errBoom)
}

func TestManager_ShutdownClosesDependentsFirst(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a", required("m"))
	fx.add(t, "m", required("z"))
	fx.add(t, "z")

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)
	require.Equal(t, []string{"z", "m", "a"}, fx.events.names(event.KindRun, event.StagePost))

	fx.manager.Shutdown(ctx)

	var closes []string
	for _, call := range fx.factory.callLog() {
		if name, ok := strings.CutSuffix(call, ":close"); ok {
			closes = append(closes, name)
		}
	}
	assert.Equal(t, []string{"a", "m", "z"}, closes)
	assert.Equal(t, []string{"a", "m", "z"}, fx.events.names(event.KindShutdown, event.StagePost))
}

func TestManager_ClearRegistry(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a")
	fx.add(t, "b")

	_, err := fx.manager.Bus().Subscribe(
		event.Filter{Kinds: []event.Kind{event.KindRun}, Stage: event.StagePre, Extension: "b"},
		func(_ context.Context, e *event.Event) { e.Deny() })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	fx.manager.Initialize(ctx)
	b, _ := fx.manager.Lookup("b")
	require.Equal(t, PhaseLoaded, b.Phase())

	fx.manager.Shutdown(ctx)
	fx.manager.ClearRegistry(ctx)

	assert.Empty(t, fx.manager.Extensions())
	assert.Equal(t, []string{"a", "b"}, fx.events.names(event.KindRemoval, event.StagePre))
	assert.Equal(t, []string{"a", "b"}, fx.events.names(event.KindRemoval, event.StagePost))
	assert.Equal(t, PhaseRegistered, b.Phase(), "loaded extensions are released")
	assert.Nil(t, b.Boundary())

	require.NoError(t, fx.manager.Discover(ctx))
	assert.Len(t, fx.manager.Extensions(), 2, "seen paths are forgotten")
}

func TestManager_StartStop(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a")

	ctx := context.Background()
	assert.False(t, fx.manager.Ready())
	require.NoError(t, fx.manager.Start(ctx))
	assert.True(t, fx.manager.Ready())
	assert.Equal(t, PhaseRunning, fx.phase(t, "a"))

	fx.manager.Stop(ctx)
	assert.False(t, fx.manager.Ready())
	assert.Empty(t, fx.manager.Extensions())
	assert.Equal(t, 1, fx.factory.contexts[0].closed)
}

func TestManager_RootContextIsParent(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFactory()
	root := &fakeContext{factory: f, name: "root", singletons: map[string]any{}}
	m := NewManager(dir, f, WithRootContext(root))
	writeContainerFile(t, dir, "a", "1.0.0", nil)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(ctx)

	require.Len(t, f.contexts, 1)
	assert.Same(t, root, f.contexts[0].parent)
}

func TestManager_SnapshotIsStable(t *testing.T) {
	fx := newManagerFixture(t)
	fx.add(t, "a")
	ctx := context.Background()
	require.NoError(t, fx.manager.Discover(ctx))
	snapshot := fx.manager.Extensions()

	_, err := fx.manager.DiscoverPath(ctx, fx.add(t, "b"))
	require.NoError(t, err)

	assert.Len(t, snapshot, 1)
	assert.Len(t, fx.manager.Extensions(), 2)
}

func TestManager_ConcurrentReadersDuringDiscovery(t *testing.T) {
	fx := newManagerFixture(t)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		fx.add(t, id)
	}

	ctx := context.Background()
	done := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				exts := fx.manager.Extensions()
				ids := identifiers(exts)
				// Registration appends, so every snapshot is a prefix.
				assert.True(t, slices.IsSorted(ids))
			}
		}()
	}

	require.NoError(t, fx.manager.Discover(ctx))
	close(done)
	wg.Wait()
	assert.Len(t, fx.manager.Extensions(), 6)
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterMetrics(reg)

	fx := newManagerFixture(t)
	fx.add(t, "a")
	ctx := context.Background()
	before := testutil.ToFloat64(Transitions.WithLabelValues("run", "succeeded"))

	require.NoError(t, fx.manager.Start(ctx))
	assert.Equal(t, before+1, testutil.ToFloat64(Transitions.WithLabelValues("run", "succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ExtensionsByPhase.WithLabelValues("RUNNING")))

	count, err := testutil.GatherAndCount(reg, "extd_extension_step_duration_seconds")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 3)
}
