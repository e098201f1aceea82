// Package program runs Lua scripts that generate command files. A script
// defines a program() function and calls the emit API (freq, wait, stop,
// cycle, mod, raw); the collected lines feed the regular compiler, so a
// script can never produce steps the text format cannot.
package program

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Runtime executes one generator script in a sandboxed Lua state.
type Runtime struct {
	lines []string
	logs  []string
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// IsProgram checks if a file is a Lua generator script.
func IsProgram(path string) bool {
	return filepath.Ext(path) == ".lua"
}

// ExecuteFile runs the script at path and returns the generated command
// text.
func (r *Runtime) ExecuteFile(path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return r.Execute(string(src))
}

// Execute runs the script source and returns the generated command text.
func (r *Runtime) Execute(src string) (string, error) {
	r.lines = nil
	r.logs = nil

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()

	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(src); err != nil {
		return "", fmt.Errorf("failed to load script: %w", err)
	}

	program := L.GetGlobal("program")
	if program == lua.LNil {
		return "", fmt.Errorf("script must define a 'program' function")
	}

	L.Push(program)
	if err := L.PCall(0, 0, nil); err != nil {
		return "", fmt.Errorf("program execution failed: %w", err)
	}

	return strings.Join(r.lines, "\n"), nil
}

// openSafeLibs loads only the safe standard libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove filesystem and code-loading base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("freq", L.NewFunction(r.luaFreq))
	L.SetGlobal("wait", L.NewFunction(r.luaWait))
	L.SetGlobal("stop", L.NewFunction(r.luaStop))
	L.SetGlobal("cycle", L.NewFunction(r.luaCycle))
	L.SetGlobal("mod", L.NewFunction(r.luaMod))
	L.SetGlobal("raw", L.NewFunction(r.luaRaw))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaFreq implements freq(hz, options?) and freq({hz1, hz2, ...}, options?).
func (r *Runtime) luaFreq(L *lua.LState) int {
	var cell string
	switch v := L.CheckAny(1).(type) {
	case lua.LNumber:
		cell = formatNumber(float64(v))
	case *lua.LTable:
		var parts []string
		v.ForEach(func(_, item lua.LValue) {
			n, ok := item.(lua.LNumber)
			if !ok {
				L.RaiseError("freq list elements must be numbers")
			}
			parts = append(parts, formatNumber(float64(n)))
		})
		if len(parts) == 0 {
			L.RaiseError("freq list must not be empty")
		}
		cell = "[" + strings.Join(parts, ",") + "]"
	default:
		L.RaiseError("freq expects a number or a table of numbers")
		return 0
	}

	line := "freq," + cell
	if opts := L.OptTable(2, nil); opts != nil {
		line += "," + r.optionsJSON(L, opts)
	}
	r.lines = append(r.lines, line)
	return 0
}

func (r *Runtime) luaWait(L *lua.LState) int {
	seconds := float64(L.CheckNumber(1))
	r.lines = append(r.lines, "wait,"+formatNumber(seconds))
	return 0
}

func (r *Runtime) luaStop(L *lua.LState) int {
	r.lines = append(r.lines, "stop")
	return 0
}

// luaCycle implements cycle(items, params?). Items are numbers or tables
// {start=, end_=, step=} (end_ avoids Lua's keyword; "end" as a string key
// also works). Params: on, off, pause_hz, adaptive.
func (r *Runtime) luaCycle(L *lua.LState) int {
	items := L.CheckTable(1)

	var parts []string
	items.ForEach(func(_, item lua.LValue) {
		switch v := item.(type) {
		case lua.LNumber:
			parts = append(parts, formatNumber(float64(v)))
		case *lua.LTable:
			obj := map[string]any{}
			v.ForEach(func(k, val lua.LValue) {
				key := strings.TrimSuffix(lua.LVAsString(k), "_")
				obj[key] = luaToGo(val)
			})
			data, err := json.Marshal(obj)
			if err != nil {
				L.RaiseError("cycle range: %v", err)
			}
			parts = append(parts, string(data))
		default:
			L.RaiseError("cycle items must be numbers or range tables")
		}
	})
	if len(parts) == 0 {
		L.RaiseError("cycle list must not be empty")
	}

	line := "cycle,[" + strings.Join(parts, ",") + "]"
	if params := L.OptTable(2, nil); params != nil {
		params.ForEach(func(k, v lua.LValue) {
			key := strings.ReplaceAll(lua.LVAsString(k), "_", "-")
			line += "," + key + "=" + lua.LVAsString(v)
		})
	}
	r.lines = append(r.lines, line)
	return 0
}

// luaMod implements mod(params?) with keys start, end_, time, update,
// direction, adaptive, repeat.
func (r *Runtime) luaMod(L *lua.LState) int {
	line := "mod"
	if params := L.OptTable(1, nil); params != nil {
		// Deterministic cell order regardless of Lua table iteration.
		kv := map[string]string{}
		var keys []string
		params.ForEach(func(k, v lua.LValue) {
			key := strings.ReplaceAll(strings.TrimSuffix(lua.LVAsString(k), "_"), "_", "-")
			kv[key] = lua.LVAsString(v)
			keys = append(keys, key)
		})
		sort.Strings(keys)
		for _, k := range keys {
			line += "," + k + "=" + kv[k]
		}
	}
	r.lines = append(r.lines, line)
	return 0
}

func (r *Runtime) luaRaw(L *lua.LState) int {
	r.lines = append(r.lines, L.CheckString(1))
	return 0
}

func (r *Runtime) luaLog(L *lua.LState) int {
	r.logs = append(r.logs, L.CheckString(1))
	return 0
}

func (r *Runtime) optionsJSON(L *lua.LState, tbl *lua.LTable) string {
	obj := map[string]any{}
	tbl.ForEach(func(k, v lua.LValue) {
		obj[lua.LVAsString(k)] = luaToGo(v)
	})
	data, err := json.Marshal(obj)
	if err != nil {
		L.RaiseError("options: %v", err)
	}
	return string(data)
}

// luaToGo converts a Lua value to a Go value
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// Array part first; fall back to a map when there are string keys.
		m := map[string]any{}
		var arr []any
		isArray := true
		val.ForEach(func(k, item lua.LValue) {
			if _, ok := k.(lua.LNumber); ok && isArray {
				arr = append(arr, luaToGo(item))
				return
			}
			isArray = false
			m[lua.LVAsString(k)] = luaToGo(item)
		})
		if isArray {
			return arr
		}
		for i, item := range arr {
			m[strconv.Itoa(i+1)] = item
		}
		return m
	default:
		return nil
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Logs returns messages collected via log() during execution.
func (r *Runtime) Logs() []string {
	return r.logs
}
