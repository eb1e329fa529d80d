// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package extension drives extension containers through their lifecycle.
//
// An Extension advances REGISTERED → RESOLVED → LOADED → RUNNING one phase
// at a time under the control of a Manager. Each loaded extension owns a
// module boundary over its container; each running extension owns an
// application context created inside that boundary.
package extension

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/extd/internal/extension/boundary"
	"github.com/holomush/extd/internal/extension/manifest"
	"github.com/holomush/extd/pkg/errutil"
)

// LoggerSingleton is the name under which every extension context receives
// its logger.
const LoggerSingleton = "logger"

// Extension is one decoded container and its lifecycle state.
type Extension struct {
	container *manifest.Container
	logger    *slog.Logger
	contexts  ContextFactory

	mu       sync.RWMutex
	phase    Phase
	deps     []*Extension
	sources  map[*Extension]manifest.ExtensionDependency
	boundary *boundary.Boundary
	appCtx   AppContext
}

// New creates a REGISTERED extension for a decoded container.
func New(c *manifest.Container, contexts ContextFactory, logger *slog.Logger) *Extension {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extension{
		container: c,
		logger:    logger.With("extension", c.Manifest.DisplayName),
		contexts:  contexts,
		sources:   make(map[*Extension]manifest.ExtensionDependency),
	}
}

// Load decodes the container at path.
func Load(path string, contexts ContextFactory, logger *slog.Logger) (*Extension, error) {
	c, err := manifest.ReadContainer(path)
	if err != nil {
		return nil, err
	}
	return New(c, contexts, logger), nil
}

// Manifest returns the decoded manifest.
func (e *Extension) Manifest() *manifest.Manifest { return e.container.Manifest }

// Container returns the decoded container.
func (e *Extension) Container() *manifest.Container { return e.container }

// Path returns the container file path.
func (e *Extension) Path() string { return e.container.Path }

// Logger returns the extension's logger.
func (e *Extension) Logger() *slog.Logger { return e.logger }

// Phase returns the current lifecycle phase.
func (e *Extension) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Dependencies returns the wired dependencies in resolution order.
func (e *Extension) Dependencies() []*Extension {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.deps)
}

// Boundary returns the module boundary, or nil before LOADED.
func (e *Extension) Boundary() *boundary.Boundary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.boundary
}

// Context returns the application context, or nil before RUNNING.
func (e *Extension) Context() AppContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.appCtx
}

func (e *Extension) String() string { return e.Manifest().String() }

// WireDependency records other as a dependency. via names the declared
// dependency that selected other; nil marks other as required. Wiring is
// only possible while REGISTERED and is idempotent per dependency.
func (e *Extension) WireDependency(other *Extension, via *manifest.ExtensionDependency) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseRegistered {
		return phaseError(e.Manifest(), "wire dependency into", e.phase, PhaseRegistered)
	}
	if other == nil || other == e {
		return oops.Code(CodeWiring).With("extension", e.Manifest().Identifier).
			Errorf("extension %s cannot depend on itself or nothing", e)
	}
	if slices.Contains(e.deps, other) {
		return nil
	}
	e.deps = append(e.deps, other)
	if via != nil {
		e.sources[other] = *via
	}
	return nil
}

// Resolve checks that every required extension dependency is satisfied by
// a wired dependency. Service dependencies are always satisfied.
func (e *Extension) Resolve() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.Manifest()
	if e.phase != PhaseRegistered {
		return phaseError(m, "resolve", e.phase, PhaseRegistered)
	}

	var unresolved []manifest.ExtensionDependency
	for _, d := range m.ExtensionDependencies {
		if d.Optional {
			continue
		}
		satisfied := slices.ContainsFunc(e.deps, func(other *Extension) bool {
			return d.Matches(other.Manifest())
		})
		if !satisfied {
			unresolved = append(unresolved, d)
		}
	}
	if len(unresolved) > 0 {
		return &ResolverError{Manifest: m, Dependencies: unresolved}
	}

	e.phase = PhaseResolved
	return nil
}

// Initialize opens the module boundary. Optional dependencies that did not
// load are dropped; a required one that did not load fails the transition.
// It is a no-op once a boundary exists.
func (e *Extension) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.Manifest()
	if e.boundary != nil {
		return nil
	}
	if e.phase != PhaseResolved {
		return phaseError(m, "initialize", e.phase, PhaseResolved)
	}

	kept := e.deps[:0:0]
	var unready []*manifest.Manifest
	for _, dep := range e.deps {
		if dep.Phase() >= PhaseLoaded {
			kept = append(kept, dep)
			continue
		}
		if src, ok := e.sources[dep]; ok && src.Optional {
			e.logger.Info("dropping optional dependency that did not load",
				"dependency", dep.Manifest().String(),
				"phase", dep.Phase().String())
			delete(e.sources, dep)
			continue
		}
		kept = append(kept, dep)
		unready = append(unready, dep.Manifest())
	}
	e.deps = kept
	if len(unready) > 0 {
		return &ResolverError{Manifest: m, Extensions: unready}
	}

	deps := make([]*boundary.Boundary, 0, len(e.deps))
	for _, dep := range e.deps {
		if b := dep.Boundary(); b != nil {
			deps = append(deps, b)
		}
	}
	b, err := boundary.Open(m.Identifier, e.container.Path, e.container.Header, deps)
	if err != nil {
		return containerError(m, "open module boundary", err)
	}

	e.boundary = b
	e.phase = PhaseLoaded
	return nil
}

// Start creates the application context as a child of parent, registers the
// extension logger, scans the extension namespace and refreshes and starts
// the context. A failed start leaves the extension LOADED with no context.
func (e *Extension) Start(parent AppContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.Manifest()
	if e.phase == PhaseRunning {
		return nil
	}
	if e.phase != PhaseLoaded {
		return phaseError(m, "start", e.phase, PhaseLoaded)
	}

	var unready []*manifest.Manifest
	for _, dep := range e.deps {
		if dep.Phase() != PhaseRunning {
			unready = append(unready, dep.Manifest())
		}
	}
	if len(unready) > 0 {
		return &ResolverError{Manifest: m, Extensions: unready}
	}

	ctx, err := e.contexts.NewContext(parent, e.boundary)
	if err != nil {
		return containerError(m, "create application context", err)
	}
	if err := e.startContext(ctx); err != nil {
		if closeErr := ctx.Close(); closeErr != nil {
			errutil.LogWarn(e.logger, "failed to discard partial application context", closeErr)
		}
		return containerError(m, "start application context", err)
	}

	e.appCtx = ctx
	e.phase = PhaseRunning
	return nil
}

func (e *Extension) startContext(ctx AppContext) error {
	if err := ctx.RegisterSingleton(LoggerSingleton, e.logger); err != nil {
		return err
	}
	if err := ctx.Scan(e.Manifest().Identifier); err != nil {
		return err
	}
	if err := ctx.Refresh(); err != nil {
		return err
	}
	return ctx.Start()
}

// Close releases the application context and module boundary, clears the
// wired dependencies and returns the extension to REGISTERED. Failures are
// logged, not returned; the extension is reset regardless. Close is safe to
// call in any phase and more than once.
func (e *Extension) Close() {
	_ = e.release() //nolint:errcheck // release logs its own failures
}

// release does the work of Close and reports the joined teardown failures
// so the manager can journal the outcome.
func (e *Extension) release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.appCtx != nil {
		if err := e.appCtx.Close(); err != nil {
			errutil.LogWarn(e.logger, "failed to close application context", err)
			errs = append(errs, err)
		}
		e.appCtx = nil
	}
	if e.boundary != nil {
		if err := e.boundary.Close(); err != nil {
			errutil.LogWarn(e.logger, "failed to close module boundary", err)
			errs = append(errs, err)
		}
		e.boundary = nil
	}

	e.deps = nil
	clear(e.sources)
	e.phase = PhaseRegistered
	return errors.Join(errs...)
}
