// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a singleton into a Lua value. Loggers become a table of
// level functions; structs and other composite values are converted through
// their JSON form.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case *slog.Logger:
		return loggerTable(L, val)
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, val[k]))
		}
		return t
	case fmt.Stringer:
		return lua.LString(val.String())
	}

	data, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	return toLua(L, generic)
}

// fromLua converts a Lua value into a Go value suitable for slog attributes.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		m := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = fromLua(item)
		})
		return m
	default:
		if v == lua.LNil {
			return nil
		}
		return v.String()
	}
}

// loggerTable exposes logger as logger.debug/info/warn/error(msg, fields).
func loggerTable(L *lua.LState, logger *slog.Logger) *lua.LTable {
	t := L.NewTable()
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, level := range levels {
		L.SetField(t, name, L.NewFunction(func(L *lua.LState) int {
			msg := L.CheckString(1)
			var attrs []any
			if fields, ok := L.Get(2).(*lua.LTable); ok {
				fields.ForEach(func(k, v lua.LValue) {
					attrs = append(attrs, k.String(), fromLua(v))
				})
			}
			ctx := L.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger.Log(ctx, level, msg, attrs...)
			return 0
		}))
	}
	return t
}
