// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/extd/internal/event"
	"github.com/holomush/extd/internal/extension/manifest"
	"github.com/holomush/extd/internal/journal"
	"github.com/holomush/extd/pkg/errutil"
)

// DefaultDir is the discovery directory used when none is configured.
const DefaultDir = "extensions"

const tracerName = "github.com/holomush/extd/internal/extension"

// Manager owns the extension population and drives it through discovery
// and the lifecycle pipeline.
type Manager struct {
	dir      string
	contexts ContextFactory
	root     AppContext
	bus      *event.Bus
	journal  journal.Writer
	logger   *slog.Logger
	tracer   trace.Tracer

	// mu guards seen and writes to population.
	mu         sync.Mutex
	seen       map[string]struct{}
	population atomic.Pointer[[]*Extension]

	// batch serializes lifecycle batches.
	batch sync.Mutex
	ready atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBus sets the event bus lifecycle events are posted to.
func WithBus(bus *event.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithRootContext sets the parent of every extension context.
func WithRootContext(root AppContext) ManagerOption {
	return func(m *Manager) { m.root = root }
}

// WithJournal sets where transition outcomes are recorded.
func WithJournal(w journal.Writer) ManagerOption {
	return func(m *Manager) { m.journal = w }
}

// WithLogger sets the manager logger. Extension loggers derive from it.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithTracer sets the tracer used for batch step spans.
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager creates a manager that discovers containers in dir.
func NewManager(dir string, contexts ContextFactory, opts ...ManagerOption) *Manager {
	if dir == "" {
		dir = DefaultDir
	}
	m := &Manager{
		dir:      dir,
		contexts: contexts,
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.bus == nil {
		m.bus = event.NewBus(m.logger)
	}
	if m.journal == nil {
		m.journal = journal.Discard
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	m.population.Store(&[]*Extension{})
	return m
}

// Dir returns the discovery directory.
func (m *Manager) Dir() string { return m.dir }

// Bus returns the event bus lifecycle events are posted to.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Ready reports whether Start completed and Stop has not begun.
func (m *Manager) Ready() bool { return m.ready.Load() }

// Extensions returns a snapshot of the population in registration order.
func (m *Manager) Extensions() []*Extension {
	return slices.Clone(*m.population.Load())
}

// Lookup finds a registered extension by identifier, ignoring case.
func (m *Manager) Lookup(identifier string) (*Extension, bool) {
	for _, ext := range *m.population.Load() {
		if strings.EqualFold(ext.Manifest().Identifier, identifier) {
			return ext, true
		}
	}
	return nil, false
}

// Start discovers containers and runs the lifecycle pipeline.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Discover(ctx); err != nil {
		return err
	}
	m.Initialize(ctx)
	m.ready.Store(true)
	return nil
}

// Stop shuts down running extensions and clears the registry.
func (m *Manager) Stop(ctx context.Context) {
	m.ready.Store(false)
	m.Shutdown(ctx)
	m.ClearRegistry(ctx)
}

// Discover registers every unseen container in the discovery directory,
// creating the directory if it does not exist. Containers that fail to
// decode are logged and skipped.
func (m *Manager) Discover(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "extension.discover",
		trace.WithAttributes(attribute.String("extension.dir", m.dir)))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(m.dir, 0o750); err != nil {
			span.SetStatus(codes.Error, "create directory")
			return oops.Code(CodeDiscovery).With("dir", m.dir).Wrap(err)
		}
		m.logger.Info("created an empty extension directory", "dir", m.dir)
		return nil
	case err != nil:
		span.SetStatus(codes.Error, "stat directory")
		return oops.Code(CodeDiscovery).With("dir", m.dir).Wrap(err)
	case !info.IsDir():
		span.SetStatus(codes.Error, "not a directory")
		return oops.Code(CodeDiscovery).With("dir", m.dir).Errorf("extension path %s is not a directory", m.dir)
	}

	paths, err := filepath.Glob(filepath.Join(m.dir, "*"+manifest.FileSuffix))
	if err != nil {
		return oops.Code(CodeDiscovery).With("dir", m.dir).Wrap(err)
	}
	var registered int
	for _, path := range paths {
		ext, err := m.discover(ctx, path)
		if err == nil && ext != nil {
			registered++
		}
	}
	span.SetAttributes(
		attribute.Int("extension.containers", len(paths)),
		attribute.Int("extension.registered", registered))
	recordPhases(*m.population.Load())
	return nil
}

// DiscoverPath registers a single container. It returns the extension
// already registered from path if there is one, and nil if registration
// was vetoed.
func (m *Manager) DiscoverPath(ctx context.Context, path string) (*Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ext, err := m.discover(ctx, path)
	recordPhases(*m.population.Load())
	return ext, err
}

// discover registers the container at path. Callers hold m.mu.
func (m *Manager) discover(ctx context.Context, path string) (*Extension, error) {
	key := canonicalPath(path)
	if _, ok := m.seen[key]; ok {
		for _, ext := range *m.population.Load() {
			if canonicalPath(ext.Path()) == key {
				return ext, nil
			}
		}
		return nil, nil
	}

	ext, err := Load(path, m.contexts, m.logger)
	if err != nil {
		DiscoveryFailures.Inc()
		errutil.LogWarn(m.logger.With("path", path), "failed to decode extension container", err)
		return nil, err
	}

	mf := ext.Manifest()
	if existing, ok := m.Lookup(mf.Identifier); ok {
		DiscoveryFailures.Inc()
		err := oops.Code(CodeDuplicate).
			With("extension", mf.Identifier).
			With("path", path).
			With("registered", existing.Path()).
			Errorf("extension %s is already registered from %s", mf.Identifier, existing.Path())
		errutil.LogWarn(m.logger, "skipping duplicate extension", err)
		return nil, err
	}

	pre := event.Pre(event.KindRegistration, mf.Identifier, mf.Version.String(), path)
	if !m.bus.Post(ctx, pre).Proceed() {
		ext.Logger().Info("extension registration vetoed", "path", path)
		m.record(ctx, ext, event.KindRegistration, journal.OutcomeVetoed, nil)
		return nil, nil
	}

	m.seen[key] = struct{}{}
	next := append(slices.Clone(*m.population.Load()), ext)
	m.population.Store(&next)
	ext.Logger().Info("extension registered", "version", mf.Version.String(), "path", path)
	m.record(ctx, ext, event.KindRegistration, journal.OutcomeSucceeded, nil)

	m.bus.Post(ctx, event.Post(event.KindRegistration, mf.Identifier, mf.Version.String(), path))
	return ext, nil
}

func canonicalPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// step is one forward transition of the batch pipeline.
type step struct {
	kind event.Kind
	from Phase
	// closeOnFailure releases whatever a failed transition left behind.
	closeOnFailure bool
	apply          func(*Extension) error
}

// Initialize resolves, loads and starts every extension that is ready for
// the next phase. One extension's failure never stops the batch.
func (m *Manager) Initialize(ctx context.Context) {
	m.batch.Lock()
	defer m.batch.Unlock()

	steps := []step{
		{kind: event.KindResolve, from: PhaseRegistered, apply: func(ext *Extension) error {
			m.wire(ext)
			return ext.Resolve()
		}},
		{kind: event.KindLoad, from: PhaseResolved, closeOnFailure: true, apply: func(ext *Extension) error {
			return ext.Initialize()
		}},
		{kind: event.KindRun, from: PhaseLoaded, closeOnFailure: true, apply: func(ext *Extension) error {
			return ext.Start(m.root)
		}},
	}
	for _, s := range steps {
		m.runStep(ctx, s)
	}
	recordPhases(*m.population.Load())
}

func (m *Manager) runStep(ctx context.Context, s step) {
	name := s.kind.String()
	ctx, span := m.tracer.Start(ctx, "extension."+name)
	defer span.End()
	started := time.Now()
	defer func() { RecordStepDuration(name, time.Since(started)) }()

	batch := Sort(m.inPhase(s.from))
	span.SetAttributes(attribute.Int("extension.count", len(batch)))

	var failed int
	for _, ext := range batch {
		mf := ext.Manifest()
		pre := event.Pre(s.kind, mf.Identifier, mf.Version.String(), ext.Path())
		if !m.bus.Post(ctx, pre).Proceed() {
			ext.Logger().Info("extension transition vetoed", "transition", name)
			m.record(ctx, ext, s.kind, journal.OutcomeVetoed, nil)
			continue
		}

		if err := s.apply(ext); err != nil {
			failed++
			errutil.LogWarn(ext.Logger().With("transition", name), "extension transition failed", err)
			if s.closeOnFailure {
				ext.Close()
			}
			m.record(ctx, ext, s.kind, journal.OutcomeFailed, err)
			continue
		}

		m.record(ctx, ext, s.kind, journal.OutcomeSucceeded, nil)
		m.bus.Post(ctx, event.Post(s.kind, mf.Identifier, mf.Version.String(), ext.Path()))
	}

	span.SetAttributes(attribute.Int("extension.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d extension(s) failed to %s", failed, name))
	}
}

// wire connects each declared dependency of ext to the first other
// registered extension that satisfies it.
func (m *Manager) wire(ext *Extension) {
	population := *m.population.Load()
	deps := ext.Manifest().ExtensionDependencies
	for i := range deps {
		d := deps[i]
		for _, other := range population {
			if other == ext || !d.Matches(other.Manifest()) {
				continue
			}
			if err := ext.WireDependency(other, &d); err != nil {
				errutil.LogWarn(ext.Logger(), "failed to wire dependency", err)
			}
			break
		}
	}
}

func (m *Manager) inPhase(p Phase) []*Extension {
	var out []*Extension
	for _, ext := range *m.population.Load() {
		if ext.Phase() == p {
			out = append(out, ext)
		}
	}
	return out
}

// Shutdown closes every running extension in reverse dependency order, so
// dependents stop while the modules they use are still reachable. Shutdown
// events are posted around each close whatever its outcome; vetoes are not
// honoured.
func (m *Manager) Shutdown(ctx context.Context) {
	m.batch.Lock()
	defer m.batch.Unlock()

	name := event.KindShutdown.String()
	ctx, span := m.tracer.Start(ctx, "extension."+name)
	defer span.End()
	started := time.Now()
	defer func() { RecordStepDuration(name, time.Since(started)) }()

	batch := Sort(m.inPhase(PhaseRunning))
	slices.Reverse(batch)
	span.SetAttributes(attribute.Int("extension.count", len(batch)))

	for _, ext := range batch {
		mf := ext.Manifest()
		m.bus.Post(ctx, event.Pre(event.KindShutdown, mf.Identifier, mf.Version.String(), ext.Path()))

		err := ext.release()
		outcome := journal.OutcomeSucceeded
		if err != nil {
			outcome = journal.OutcomeFailed
		}
		m.record(ctx, ext, event.KindShutdown, outcome, err)

		post := event.Post(event.KindShutdown, mf.Identifier, mf.Version.String(), ext.Path())
		post.Err = err
		m.bus.Post(ctx, post)
	}
	recordPhases(*m.population.Load())
}

// ClearRegistry posts removal events for every known extension and forgets
// all of them along with every seen container path. Extensions that still
// hold resources are closed first.
func (m *Manager) ClearRegistry(ctx context.Context) {
	m.batch.Lock()
	defer m.batch.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	exts := *m.population.Load()
	for _, ext := range exts {
		mf := ext.Manifest()
		m.bus.Post(ctx, event.Pre(event.KindRemoval, mf.Identifier, mf.Version.String(), ext.Path()))
		if ext.Phase() != PhaseRegistered || ext.Boundary() != nil {
			ext.Close()
		}
	}

	m.population.Store(&[]*Extension{})
	clear(m.seen)

	for _, ext := range exts {
		mf := ext.Manifest()
		m.record(ctx, ext, event.KindRemoval, journal.OutcomeSucceeded, nil)
		m.bus.Post(ctx, event.Post(event.KindRemoval, mf.Identifier, mf.Version.String(), ext.Path()))
	}
	recordPhases(nil)
}

// record updates the transition counter and appends a journal entry.
// Journal failures are logged.
func (m *Manager) record(ctx context.Context, ext *Extension, kind event.Kind, outcome journal.Outcome, cause error) {
	RecordTransition(kind.String(), string(outcome))

	entry := journal.Entry{
		Extension: ext.Manifest().Identifier,
		Version:   ext.Manifest().Version.String(),
		Phase:     kind.String(),
		Outcome:   outcome,
		Digest:    ext.Container().DigestString(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := m.journal.Append(ctx, entry); err != nil {
		errutil.LogWarn(m.logger, "failed to append journal entry", err)
	}
}
