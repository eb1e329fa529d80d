// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs extension components in sandboxed Lua states.
package lua

import (
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// library is a Lua standard library the sandbox opens.
type library struct {
	name string
	fn   lua.LGFunction
}

// sandboxLibraries are safe to expose to extension code.
// os, io, debug and package stay closed; module loading goes through the
// host's require.
func sandboxLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
}

// blockedGlobals would give components filesystem access or arbitrary
// bytecode loading.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load", "module", "require"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries     []library
	callStackSize int
	registrySize  int
}

// StateOption configures a StateFactory.
type StateOption func(*StateFactory)

// WithCallStackSize limits the Lua call stack depth.
func WithCallStackSize(n int) StateOption {
	return func(f *StateFactory) { f.callStackSize = n }
}

// WithRegistrySize limits the Lua registry size.
func WithRegistrySize(n int) StateOption {
	return func(f *StateFactory) { f.registrySize = n }
}

// NewStateFactory creates a state factory.
func NewStateFactory(opts ...StateOption) *StateFactory {
	f := &StateFactory{
		libraries:     sandboxLibraries(),
		callStackSize: lua.CallStackSize,
		registrySize:  lua.RegistrySize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState creates a fresh state with only the sandbox libraries loaded.
func (f *StateFactory) NewState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: f.callStackSize,
		RegistrySize:  f.registrySize,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.With("library", lib.name).Wrapf(err, "failed to open library")
		}
	}

	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L, nil
}
