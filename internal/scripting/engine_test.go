package scripting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	sub := filepath.Join(dir, "ghost")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHooksAbsent(t *testing.T) {
	e, err := NewEngine(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, ok := e.SelectResurrectionCost([]int{1, 2}); ok {
		t.Error("missing hook reported a pick")
	}
	if d := e.GhostDuration("north", 30*time.Minute); d != 30*time.Minute {
		t.Errorf("GhostDuration = %v", d)
	}
	if e.Has("select_resurrection_cost") {
		t.Error("Has on empty engine")
	}
}

func TestHooks(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "hooks.lua", `
function select_resurrection_cost(weights)
    local best, idx = -1, 1
    for i, w in ipairs(weights) do
        if w > best then best, idx = w, i end
    end
    return idx
end

function ghost_duration_ms(kingdom, base_ms)
    if kingdom == "north" then return base_ms / 2 end
    if kingdom == "void" then return 0 end
    return base_ms
end
`)
	e, err := NewEngine(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if idx, ok := e.SelectResurrectionCost([]int{1, 5, 3}); !ok || idx != 1 {
		t.Errorf("pick = %d, %v; want 1", idx, ok)
	}
	if d := e.GhostDuration("north", 30*time.Minute); d != 15*time.Minute {
		t.Errorf("north = %v", d)
	}
	if d := e.GhostDuration("void", time.Minute); d != time.Minute {
		t.Errorf("non-positive result should keep base, got %v", d)
	}
}

func TestOutOfRangePick(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.lua", `function select_resurrection_cost(w) return 9 end`)
	e, err := NewEngine(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if _, ok := e.SelectResurrectionCost([]int{1}); ok {
		t.Error("out of range index accepted")
	}
}

func TestShippedScripts(t *testing.T) {
	e, err := NewEngine(filepath.Join("..", "..", "scripts"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	for i := 0; i < 20; i++ {
		idx, ok := e.SelectResurrectionCost([]int{0, 4, 0})
		if !ok || idx != 1 {
			t.Fatalf("pick = %d, %v; only entry 2 has weight", idx, ok)
		}
	}
	if d := e.GhostDuration("south", time.Hour); d != time.Hour {
		t.Errorf("duration = %v", d)
	}
}

func TestBrokenScriptFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.lua", `function (`)
	if _, err := NewEngine(dir, zaptest.NewLogger(t)); err == nil {
		t.Error("syntax error not reported")
	}
}
