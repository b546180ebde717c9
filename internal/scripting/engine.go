package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM holding the afterlife tuning hooks.
// Calls arrive from many partitions, so every VM access holds mu.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, sub := range []string{"core", "ghost"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Has reports whether a global Lua function is defined.
func (e *Engine) Has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// call invokes a global function with one return value. The second result
// is false when the function is missing or errors.
func (e *Engine) call(name string, args ...lua.LValue) (lua.LValue, bool) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return lua.LNil, false
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return lua.LNil, false
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return result, true
}

// SelectResurrectionCost calls Lua select_resurrection_cost(weights), which
// returns a 1-based index into the cost pool. The result is 0-based; false
// means the hook is absent or returned something out of range.
func (e *Engine) SelectResurrectionCost(weights []int) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.vm.NewTable()
	for _, w := range weights {
		t.Append(lua.LNumber(w))
	}
	result, ok := e.call("select_resurrection_cost", t)
	if !ok {
		return 0, false
	}
	n, isNum := result.(lua.LNumber)
	idx := int(n) - 1
	if !isNum || idx < 0 || idx >= len(weights) {
		e.log.Warn("select_resurrection_cost 回傳無效索引", zap.String("value", result.String()))
		return 0, false
	}
	return idx, true
}

// GhostDuration calls Lua ghost_duration_ms(kingdom, base_ms). A missing
// hook or a non-positive result keeps base.
func (e *Engine) GhostDuration(kingdom string, base time.Duration) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, ok := e.call("ghost_duration_ms", lua.LString(kingdom), lua.LNumber(base.Milliseconds()))
	if !ok {
		return base
	}
	ms := int64(lua.LVAsNumber(result))
	if ms <= 0 {
		return base
	}
	return time.Duration(ms) * time.Millisecond
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
