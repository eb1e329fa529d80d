// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"errors"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/extd/internal/extension"
	"github.com/holomush/extd/internal/extension/boundary"
	"github.com/holomush/extd/pkg/errutil"
)

// Error codes.
const (
	CodeContextState  = "CONTEXT_STATE"
	CodeRefreshFailed = "CONTEXT_REFRESH_FAILED"
	CodeStartFailed   = "CONTEXT_START_FAILED"
)

// Compile-time interface checks.
var (
	_ extension.AppContext     = (*Context)(nil)
	_ extension.ContextFactory = (*Factory)(nil)
)

type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRefreshed
	lifecycleRunning
	lifecycleClosed
)

// singletonSource is implemented by contexts that can serve as a parent.
type singletonSource interface {
	Singleton(name string) (any, bool)
}

// component is one Lua file found under a scanned namespace.
type component struct {
	name  string
	hooks *lua.LTable
}

func (c *component) hook(name string) lua.LValue {
	if c.hooks == nil {
		return lua.LNil
	}
	return c.hooks.RawGetString(name)
}

// Context runs the Lua components of one extension. Components are the
// *.lua entries directly under a scanned namespace path; each chunk may
// return a table with optional start and stop functions.
type Context struct {
	name     string
	parent   extension.AppContext
	boundary *boundary.Boundary
	states   *StateFactory
	logger   *slog.Logger

	mu         sync.Mutex
	phase      lifecycle
	names      []string
	singletons map[string]any
	namespaces []string
	state      *lua.LState
	components []*component
	started    int
	modules    map[string]lua.LValue
}

// Factory creates Lua contexts.
type Factory struct {
	states *StateFactory
	logger *slog.Logger
}

// NewFactory creates a context factory. A nil logger uses slog.Default.
func NewFactory(states *StateFactory, logger *slog.Logger) *Factory {
	if states == nil {
		states = NewStateFactory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{states: states, logger: logger}
}

// NewContext creates a context whose modules resolve through b and whose
// singleton lookups fall back to parent.
func (f *Factory) NewContext(parent extension.AppContext, b *boundary.Boundary) (extension.AppContext, error) {
	if b == nil {
		return nil, oops.Code(CodeContextState).Errorf("context requires a module boundary")
	}
	return f.newContext(b.Name(), parent, b), nil
}

// NewRoot creates a context without a boundary. It holds host-wide
// singletons and serves as the parent of extension contexts.
func (f *Factory) NewRoot() *Context {
	return f.newContext("root", nil, nil)
}

func (f *Factory) newContext(name string, parent extension.AppContext, b *boundary.Boundary) *Context {
	return &Context{
		name:       name,
		parent:     parent,
		boundary:   b,
		states:     f.states,
		logger:     f.logger.With("context", name),
		singletons: make(map[string]any),
		modules:    make(map[string]lua.LValue),
	}
}

// Name returns the context name.
func (c *Context) Name() string { return c.name }

// RegisterSingleton exposes value as the Lua global name. Registration is
// only possible before Refresh.
func (c *Context) RegisterSingleton(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != lifecycleNew {
		return oops.Code(CodeContextState).With("context", c.name).With("singleton", name).
			Errorf("cannot register singleton after refresh")
	}
	if name == "" {
		return oops.Code(CodeContextState).With("context", c.name).Errorf("singleton name is empty")
	}
	if _, exists := c.singletons[name]; !exists {
		c.names = append(c.names, name)
	}
	c.singletons[name] = value
	return nil
}

// Singleton returns the singleton registered under name in this context or
// its ancestors.
func (c *Context) Singleton(name string) (any, bool) {
	c.mu.Lock()
	v, ok := c.singletons[name]
	parent := c.parent
	c.mu.Unlock()

	if ok {
		return v, true
	}
	if src, isSource := parent.(singletonSource); isSource {
		return src.Singleton(name)
	}
	return nil, false
}

// Scan adds a dotted namespace whose components are loaded on Refresh.
func (c *Context) Scan(namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != lifecycleNew {
		return oops.Code(CodeContextState).With("context", c.name).With("namespace", namespace).
			Errorf("cannot scan after refresh")
	}
	if !slices.Contains(c.namespaces, namespace) {
		c.namespaces = append(c.namespaces, namespace)
	}
	return nil
}

// Refresh creates the Lua state and executes every component. On failure
// the state is discarded and the context can be refreshed again.
func (c *Context) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != lifecycleNew {
		return oops.Code(CodeContextState).With("context", c.name).Errorf("context already refreshed")
	}

	L, err := c.states.NewState()
	if err != nil {
		return oops.Code(CodeRefreshFailed).With("context", c.name).Wrap(err)
	}

	c.installGlobals(L)

	components, err := c.loadComponents(L)
	if err != nil {
		L.Close()
		clear(c.modules)
		return err
	}

	c.state = L
	c.components = components
	c.phase = lifecycleRefreshed
	c.logger.Debug("context refreshed", "components", len(components))
	return nil
}

func (c *Context) installGlobals(L *lua.LState) {
	seen := make(map[string]struct{})
	for ctx := extension.AppContext(c); ctx != nil; {
		lc, ok := ctx.(*Context)
		if !ok {
			break
		}
		// Lock order is child before parent; c.mu is already held.
		if lc != c {
			lc.mu.Lock()
		}
		for _, name := range lc.names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			L.SetGlobal(name, toLua(L, lc.singletons[name]))
		}
		next := lc.parent
		if lc != c {
			lc.mu.Unlock()
		}
		ctx = next
	}

	L.SetGlobal("require", L.NewFunction(c.luaRequire))
}

// luaRequire loads a dotted module name through the module boundary.
func (c *Context) luaRequire(L *lua.LState) int {
	name := L.CheckString(1)
	if v, ok := c.modules[name]; ok {
		L.Push(v)
		return 1
	}

	if c.boundary == nil {
		L.RaiseError("module %q not found: context has no module boundary", name)
		return 0
	}

	file := strings.ReplaceAll(name, ".", "/") + ".lua"
	src, owner, err := c.boundary.ReadFile(file)
	if err != nil {
		L.RaiseError("module %q not found: %s", name, err.Error())
		return 0
	}

	fn, err := L.Load(strings.NewReader(string(src)), owner.Name()+":"+file)
	if err != nil {
		L.RaiseError("module %q failed to compile: %s", name, err.Error())
		return 0
	}
	L.Push(fn)
	L.Call(0, 1)
	v := L.Get(-1)
	if v == lua.LNil {
		v = lua.LTrue
		L.Pop(1)
		L.Push(v)
	}
	c.modules[name] = v
	return 1
}

func (c *Context) loadComponents(L *lua.LState) ([]*component, error) {
	if c.boundary == nil {
		return nil, nil
	}

	var components []*component
	for _, ns := range c.namespaces {
		prefix := strings.ReplaceAll(ns, ".", "/") + "/"
		for _, entry := range c.boundary.List(prefix) {
			if path.Ext(entry) != ".lua" || strings.Contains(strings.TrimPrefix(entry, prefix), "/") {
				continue
			}
			comp, err := c.loadComponent(L, entry)
			if err != nil {
				return nil, err
			}
			components = append(components, comp)
		}
	}
	return components, nil
}

func (c *Context) loadComponent(L *lua.LState, entry string) (*component, error) {
	src, _, err := c.boundary.ReadFile(entry)
	if err != nil {
		return nil, oops.Code(CodeRefreshFailed).With("context", c.name).With("component", entry).Wrap(err)
	}

	fn, err := L.Load(strings.NewReader(string(src)), c.name+":"+entry)
	if err != nil {
		return nil, oops.Code(CodeRefreshFailed).With("context", c.name).With("component", entry).
			Wrapf(err, "syntax error")
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return nil, oops.Code(CodeRefreshFailed).With("context", c.name).With("component", entry).
			Wrapf(err, "component failed to initialize")
	}
	ret := L.Get(-1)
	L.Pop(1)

	comp := &component{name: entry}
	switch v := ret.(type) {
	case *lua.LTable:
		comp.hooks = v
	default:
		if ret != lua.LNil {
			return nil, oops.Code(CodeRefreshFailed).With("context", c.name).With("component", entry).
				Errorf("component returned %s, expected table or nil", ret.Type().String())
		}
	}
	return comp, nil
}

// Start calls each component's start hook in load order. If a hook fails,
// the components started so far are stopped in reverse order and the error
// is returned. Starting a running context is a no-op.
func (c *Context) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case lifecycleRunning:
		return nil
	case lifecycleRefreshed:
	default:
		return oops.Code(CodeContextState).With("context", c.name).Errorf("context must be refreshed before start")
	}

	for i, comp := range c.components {
		if err := c.callHook(comp, "start"); err != nil {
			c.started = i
			_ = c.stopStarted()
			return oops.Code(CodeStartFailed).With("context", c.name).With("component", comp.name).Wrap(err)
		}
	}
	c.started = len(c.components)
	c.phase = lifecycleRunning
	return nil
}

func (c *Context) callHook(comp *component, name string) error {
	fn := comp.hook(name)
	if fn == lua.LNil {
		return nil
	}
	if fn.Type() != lua.LTFunction {
		return oops.With("hook", name).Errorf("hook is a %s, not a function", fn.Type().String())
	}
	if err := c.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return oops.With("hook", name).Wrap(err)
	}
	return nil
}

// stopStarted calls stop hooks of started components in reverse order and
// returns their failures.
func (c *Context) stopStarted() error {
	var errs []error
	for i := c.started - 1; i >= 0; i-- {
		comp := c.components[i]
		if err := c.callHook(comp, "stop"); err != nil {
			errutil.LogWarn(c.logger, "component stop failed", err)
			errs = append(errs, oops.With("component", comp.name).Wrap(err))
		}
	}
	c.started = 0
	return errors.Join(errs...)
}

// Close stops started components in reverse order and closes the Lua state.
// Closing an already closed context is a no-op.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == lifecycleClosed {
		return nil
	}

	var err error
	if c.state != nil {
		err = c.stopStarted()
		c.state.Close()
		c.state = nil
	}
	c.components = nil
	clear(c.modules)
	c.phase = lifecycleClosed

	if err != nil {
		return oops.With("context", c.name).Wrapf(err, "context closed with errors")
	}
	return nil
}

// Components returns the loaded component names in load order.
func (c *Context) Components() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.components))
	for _, comp := range c.components {
		names = append(names, comp.name)
	}
	return names
}

// Call invokes a global Lua function in a running context and returns its
// first result converted to a Go value.
func (c *Context) Call(function string, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != lifecycleRunning {
		return nil, oops.Code(CodeContextState).With("context", c.name).Errorf("context is not running")
	}
	fn := c.state.GetGlobal(function)
	if fn.Type() != lua.LTFunction {
		return nil, oops.Code(CodeContextState).With("context", c.name).With("function", function).
			Errorf("function not defined")
	}

	largs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		largs = append(largs, toLua(c.state, a))
	}
	if err := c.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, oops.With("context", c.name).With("function", function).Wrap(err)
	}
	ret := c.state.Get(-1)
	c.state.Pop(1)
	return fromLua(ret), nil
}
