package ghost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/scripting"
	"github.com/kingdoms/afterlife/internal/testkit"
	"github.com/kingdoms/afterlife/internal/world"
)

func setup(t *testing.T, mutate func(*config.Config)) (*testkit.Env, *Manager) {
	t.Helper()
	env := testkit.New(t, mutate)
	m := NewManager(env.Deps)
	m.Subscribe()
	return env, m
}

func mustTransition(t *testing.T, m *Manager, p world.Player, kingdom string, death, bed *world.Location) *State {
	t.Helper()
	if !m.TransitionToGhost(p, kingdom, death, bed) {
		t.Fatalf("transition of %s rejected", p.Name())
	}
	st, ok := m.Record(p.ID())
	if !ok {
		t.Fatal("record missing after transition")
	}
	return st
}

func TestTransitionCreatesOneRecord(t *testing.T) {
	env, m := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(10, 70, 10))

	if m.IsGhost(p.ID()) {
		t.Fatal("ghost before death")
	}
	st := mustTransition(t, m, p, "north", nil, nil)
	if !m.IsGhost(p.ID()) {
		t.Error("IsGhost false with an active record")
	}
	if m.TransitionToGhost(p, "north", nil, nil) {
		t.Error("second transition accepted")
	}
	if again, _ := m.Record(p.ID()); again != st {
		t.Error("second transition replaced the record")
	}

	if p.GameMode() != world.Adventure {
		t.Error("ghost not in adventure mode")
	}
	allow, flying, speed := p.Flight()
	if !allow || !flying || speed != 0.2 {
		t.Errorf("flight = %v %v %v", allow, flying, speed)
	}
	if !p.HasEffect(effectInvisibility) || !p.Glowing() {
		t.Error("ghost effects missing")
	}
	if st.DeathLocation == nil || *st.DeathLocation != testkit.At(10, 70, 10) {
		t.Errorf("death location = %v", st.DeathLocation)
	}
	if len(st.Cost) != 1 || st.Cost[0] != (world.ItemStack{Kind: "DIAMOND", Count: 1}) {
		t.Errorf("empty pool cost = %v", st.Cost)
	}
	if !testkit.Contains(p, "30 мин") {
		t.Errorf("became-ghost message missing duration: %v", p.Messages())
	}
}

func TestThirtyMinuteScenario(t *testing.T) {
	env, m := setup(t, func(c *config.Config) { c.Ghost.Duration = 30 * time.Minute })
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))

	st := mustTransition(t, m, p, "north", nil, nil)
	if st.DeathTime.UnixMilli() != 0 || st.Duration.Milliseconds() != 1_800_000 {
		t.Fatalf("record = death %d, duration %d", st.DeathTime.UnixMilli(), st.Duration.Milliseconds())
	}
	if st.CanSelfResurrect(time.UnixMilli(1_799_999)) {
		t.Error("self-resurrect allowed before expiry")
	}
	if !st.CanSelfResurrect(time.UnixMilli(1_800_000)) || !st.CanSelfResurrect(time.UnixMilli(1_800_001)) {
		t.Error("self-resurrect not allowed at or after expiry")
	}
	if st.Remaining(time.UnixMilli(2_000_000)) != 0 {
		t.Error("remaining went negative")
	}
}

func TestCountdownActionBar(t *testing.T) {
	env, m := setup(t, func(c *config.Config) { c.Ghost.Duration = 46 * time.Second })
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	mustTransition(t, m, p, "north", nil, nil)

	env.Sched.Advance(time.Second)
	if bar := p.ActionBar(); !strings.Contains(bar, "45 сек") || strings.Contains(bar, "мин") {
		t.Errorf("action bar = %q", bar)
	}

	// Countdown stops once the player leaves.
	env.Host.Quit(p.ID())
	before := env.Sched.Pending()
	env.Sched.Advance(3 * time.Second)
	if env.Sched.Pending() >= before {
		t.Errorf("loops still queued after quit: %d -> %d", before, env.Sched.Pending())
	}
}

func TestCountdownReadyNotifiesOnce(t *testing.T) {
	env, m := setup(t, func(c *config.Config) {
		c.Ghost.Duration = 2 * time.Second
		c.Ghost.SweepInterval = time.Hour
	})
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	mustTransition(t, m, p, "north", nil, nil)

	env.Sched.Advance(5 * time.Second)
	ready := env.Deps.Catalog.Prefixed("ghost.can-self-resurrect")
	n := 0
	for _, msg := range p.Messages() {
		if msg == ready {
			n++
		}
	}
	if n != 1 {
		t.Errorf("ready notification sent %d times", n)
	}
	if p.ActionBar() != env.Deps.Catalog.Get("ghost.countdown-ready") {
		t.Errorf("action bar = %q", p.ActionBar())
	}
}

func TestRequestResurrectionOnlineOnce(t *testing.T) {
	env, m := setup(t, nil)
	ghost := env.Join("Alex", "north", testkit.At(0, 64, 0))
	ally := env.Join("Bob", "north", testkit.At(5, 64, 5))
	mustTransition(t, m, ghost, "north", nil, nil)
	ghost.SetHealth(3)

	dest := testkit.At(100, 65, 100)
	by := ally.ID()
	if !m.RequestResurrection(ghost.ID(), dest, &by) {
		t.Fatal("first request rejected")
	}
	if m.RequestResurrection(ghost.ID(), dest, &by) {
		t.Error("second request accepted")
	}
	if m.IsGhost(ghost.ID()) {
		t.Error("record still present after an accepted request")
	}
	env.Sched.RunPending()

	if ghost.Location() != dest || ghost.Teleports() != 1 {
		t.Errorf("ghost at %v after %d teleports", ghost.Location(), ghost.Teleports())
	}
	if ghost.GameMode() != world.Survival || ghost.Glowing() || ghost.HasEffect(effectInvisibility) {
		t.Error("ghost presentation not reversed")
	}
	if _, _, speed := ghost.Flight(); speed != world.DefaultFlySpeed {
		t.Errorf("fly speed = %v", speed)
	}
	if ghost.Health() != ghost.MaxHealth() {
		t.Errorf("health = %v", ghost.Health())
	}
	if !testkit.Contains(ghost, "Bob") {
		t.Errorf("resurrected-by message missing: %v", ghost.Messages())
	}
	if env.Host.ParticleCount(particleTotem) != 1 {
		t.Error("totem particles not played")
	}
}

func TestFailedTeleportStillFinalizes(t *testing.T) {
	env, m := setup(t, nil)
	ghost := env.Join("Alex", "north", testkit.At(0, 64, 0))
	mustTransition(t, m, ghost, "north", nil, nil)
	ghost.FailTeleports(true)
	ghost.SetHealth(4)

	if !m.RequestResurrection(ghost.ID(), testkit.At(1, 64, 1), nil) {
		t.Fatal("request rejected")
	}
	env.Sched.RunPending()

	if m.IsGhost(ghost.ID()) {
		t.Error("record kept after failed teleport")
	}
	if ghost.GameMode() != world.Survival {
		t.Error("presentation kept after failed teleport")
	}
	if ghost.Health() == ghost.MaxHealth() || testkit.Contains(ghost, "Вы воскресли") {
		t.Error("success effects ran after failed teleport")
	}
}

func TestOfflineResurrectionDeferred(t *testing.T) {
	env, m := setup(t, nil)
	ghost := env.Join("Alex", "north", testkit.At(0, 64, 0))
	ally := env.Join("Bob", "north", testkit.At(5, 64, 5))
	st := mustTransition(t, m, ghost, "north", nil, nil)
	env.Host.Quit(ghost.ID())

	dest := testkit.At(50, 64, 50)
	by := ally.ID()
	if !m.RequestResurrection(ghost.ID(), dest, &by) {
		t.Fatal("offline request rejected")
	}
	if m.RequestResurrection(ghost.ID(), dest, &by) {
		t.Error("second offline request accepted")
	}
	loc, gotBy, pending := st.PendingResurrection()
	if !pending || loc == nil || *loc != dest || gotBy == nil || *gotBy != by {
		t.Fatalf("pending = %v %v %v", loc, gotBy, pending)
	}
	if !m.IsGhost(ghost.ID()) {
		t.Fatal("offline ghost lost its record")
	}

	again := env.Rejoin(ghost)
	event.Dispatch(env.Deps.Bus, &event.Join{Player: again})
	env.Sched.Advance(reconnectDelay)

	if m.IsGhost(ghost.ID()) {
		t.Error("pending resurrection not applied on reconnect")
	}
	if again.Location() != dest {
		t.Errorf("reconnected at %v", again.Location())
	}
	if !testkit.Contains(again, "Bob") {
		t.Errorf("messages = %v", again.Messages())
	}
}

func TestSweepHonorsPendingResurrection(t *testing.T) {
	env, m := setup(t, func(c *config.Config) {
		c.Ghost.Duration = 20 * time.Second
		c.Ghost.SweepInterval = 500 * time.Millisecond
	})
	ghost := env.Join("Alex", "north", testkit.At(0, 64, 0))
	ally := env.Join("Bob", "north", testkit.At(5, 64, 5))
	env.Kingdoms.SetSpawn("north", testkit.At(2, 64, 2))
	mustTransition(t, m, ghost, "north", nil, nil)
	env.Host.Quit(ghost.ID())

	dest := testkit.At(50, 64, 50)
	by := ally.ID()
	if !m.RequestResurrection(ghost.ID(), dest, &by) {
		t.Fatal("offline request rejected")
	}
	m.Start()
	defer m.Stop()
	env.Sched.Advance(20 * time.Second)

	// The sweep fires before the delayed reconnect check.
	again := env.Rejoin(ghost)
	event.Dispatch(env.Deps.Bus, &event.Join{Player: again})
	env.Sched.Advance(500 * time.Millisecond)

	if m.IsGhost(ghost.ID()) {
		t.Fatal("expired ghost with a pending request not resurrected")
	}
	if again.Location() != dest {
		t.Errorf("resurrected at %v, want paid destination", again.Location())
	}
	if testkit.Contains(again, "Время истекло") {
		t.Errorf("expiry message sent over a paid request: %v", again.Messages())
	}
	if !testkit.Contains(again, "Bob") {
		t.Errorf("messages = %v", again.Messages())
	}

	env.Sched.Advance(reconnectDelay)
	if again.Location() != dest {
		t.Errorf("reconnect check moved the player to %v", again.Location())
	}
}

func TestResolveSafePriority(t *testing.T) {
	bed := testkit.At(1, 64, 1)
	death := testkit.At(3, 64, 3)
	spawn := testkit.At(2, 64, 2)
	lost := world.Location{World: "world_unloaded", X: 9}

	cases := []struct {
		name  string
		bed   *world.Location
		spawn bool
		death *world.Location
		want  *world.Location
	}{
		{"bed wins over spawn", &bed, true, &death, &bed},
		{"spawn without bed", nil, true, &death, &spawn},
		{"death without bed or spawn", nil, false, &death, &death},
		{"nothing", nil, false, nil, nil},
		{"bed in unloaded world", &lost, false, &death, &death},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, m := setup(t, nil)
			if tc.spawn {
				env.Kingdoms.SetSpawn("north", spawn)
			}
			st := &State{PlayerID: uuid.New(), KingdomID: "north", BedSpawn: tc.bed, DeathLocation: tc.death}
			got := m.ResolveSafe(st)
			if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
				t.Errorf("ResolveSafe = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolveLocationLiveLookup(t *testing.T) {
	env, m := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	live := testkit.At(7, 64, 7)
	p.SetRespawn(live, true, nil)
	env.Kingdoms.SetSpawn("north", testkit.At(2, 64, 2))
	st := &State{PlayerID: p.ID(), KingdomID: "north"}

	var owned, global *world.Location
	env.Deps.Sched.OnEntity(p, func(run *region.Run) { owned = m.ResolveLocation(run, p, st) })
	env.Deps.Sched.Global(func(run *region.Run) { global = m.ResolveLocation(run, p, st) })
	env.Sched.RunPending()

	if owned == nil || *owned != live {
		t.Errorf("owner partition resolved %v, want live respawn", owned)
	}
	if global == nil || *global != testkit.At(2, 64, 2) {
		t.Errorf("global partition resolved %v, want kingdom spawn", global)
	}

	p.SetRespawn(world.Location{}, false, errors.New("anchor owned elsewhere"))
	var failed *world.Location
	env.Deps.Sched.OnEntity(p, func(run *region.Run) { failed = m.ResolveLocation(run, p, st) })
	env.Sched.RunPending()
	if failed == nil || *failed != testkit.At(2, 64, 2) {
		t.Errorf("lookup error resolved %v", failed)
	}
}

func TestSelfResurrect(t *testing.T) {
	env, m := setup(t, func(c *config.Config) {
		c.Ghost.Duration = time.Minute
		c.Ghost.SweepInterval = time.Hour
	})
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	mustTransition(t, m, p, "north", nil, nil)
	live := testkit.At(7, 64, 7)
	p.SetRespawn(live, true, nil)

	var early bool
	env.Deps.Sched.OnEntity(p, func(run *region.Run) { early = m.SelfResurrect(run, p) })
	env.Sched.RunPending()
	if early || !m.IsGhost(p.ID()) {
		t.Fatal("self-resurrect allowed before expiry")
	}
	if !testkit.Contains(p, "1 мин") && !testkit.Contains(p, "60 сек") {
		t.Errorf("remaining time not reported: %v", p.Messages())
	}

	env.Sched.Advance(time.Minute)
	var ok bool
	env.Deps.Sched.OnEntity(p, func(run *region.Run) { ok = m.SelfResurrect(run, p) })
	env.Sched.RunPending()
	if !ok || m.IsGhost(p.ID()) {
		t.Fatal("self-resurrect failed after expiry")
	}
	if p.Location() != live {
		t.Errorf("self-resurrected at %v, want live respawn %v", p.Location(), live)
	}
	if !testkit.Contains(p, "Вы воскресли") {
		t.Errorf("messages = %v", p.Messages())
	}

	if m.SelfResurrect(nil, p) {
		t.Error("self-resurrect of a living player accepted")
	}
}

func TestSweepUsesSafeResolver(t *testing.T) {
	env, m := setup(t, func(c *config.Config) {
		c.Ghost.Duration = 20 * time.Second
		c.Ghost.SweepInterval = 10 * time.Second
	})
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	p.SetRespawn(testkit.At(7, 64, 7), true, nil)
	spawn := testkit.At(2, 64, 2)
	env.Kingdoms.SetSpawn("north", spawn)
	offline := env.Join("Cara", "north", testkit.At(0, 64, 0))

	mustTransition(t, m, p, "north", nil, nil)
	mustTransition(t, m, offline, "north", nil, nil)
	env.Host.Quit(offline.ID())
	m.Start()
	defer m.Stop()

	env.Sched.Advance(10 * time.Second)
	if !m.IsGhost(p.ID()) {
		t.Fatal("sweep resurrected before expiry")
	}
	env.Sched.Advance(10 * time.Second)
	if m.IsGhost(p.ID()) {
		t.Fatal("sweep did not resurrect an expired online ghost")
	}
	if p.Location() != spawn {
		t.Errorf("sweep resurrected at %v, want kingdom spawn", p.Location())
	}
	if !testkit.Contains(p, "Время истекло") {
		t.Errorf("messages = %v", p.Messages())
	}
	if !m.IsGhost(offline.ID()) {
		t.Error("sweep touched an offline ghost")
	}
}

func TestReconnectFinishesPendingTransition(t *testing.T) {
	env, m := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	death := testkit.At(40, 12, -40)
	m.Markers().Put(p.ID(), Marker{KingdomID: "north", DeathLocation: &death})
	env.Host.Quit(p.ID())

	again := env.Rejoin(p)
	m.HandleReconnect(again)
	env.Sched.RunPending()

	if !m.IsGhost(p.ID()) {
		t.Fatal("pending marker not applied on reconnect")
	}
	if m.Markers().Has(p.ID()) {
		t.Error("marker left behind")
	}
	if again.Location() != death {
		t.Errorf("ghost at %v, want death location", again.Location())
	}

	// A second reconnect sees the ghost, not the marker.
	third := env.Rejoin(again)
	m.HandleReconnect(third)
	if st, _ := m.Record(p.ID()); st == nil || third.GameMode() != world.Adventure {
		t.Error("active ghost not re-presented")
	}
}

func TestReconnectExpiredAutoResurrects(t *testing.T) {
	env, m := setup(t, func(c *config.Config) {
		c.Ghost.Duration = time.Minute
		c.Ghost.SweepInterval = time.Hour
	})
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	mustTransition(t, m, p, "north", nil, nil)
	env.Host.Quit(p.ID())
	env.Sched.Advance(2 * time.Minute)

	again := env.Rejoin(p)
	m.HandleReconnect(again)
	env.Sched.RunPending()
	if m.IsGhost(p.ID()) {
		t.Error("expired ghost not resurrected on reconnect")
	}
}

func TestReconnectSkipsAdmins(t *testing.T) {
	env, m := setup(t, nil)
	p := env.Join("Root", "north", testkit.At(0, 64, 0))
	p.SetAdmin(true)
	m.Markers().Put(p.ID(), Marker{KingdomID: "north"})

	m.HandleReconnect(p)
	if m.IsGhost(p.ID()) || !m.Markers().Has(p.ID()) {
		t.Error("admin reconnect touched ghost state")
	}
}

func TestLoadAndFlush(t *testing.T) {
	env, m := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(0, 64, 0))
	bed := testkit.At(1, 64, 1)
	mustTransition(t, m, p, "north", nil, &bed)
	other := env.Join("Bob", "south", testkit.At(0, 64, 0))
	m.Markers().Put(other.ID(), Marker{KingdomID: "south"})

	if err := m.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	fresh := NewManager(env.Deps)
	if err := fresh.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	st, ok := fresh.Record(p.ID())
	if !ok {
		t.Fatal("ghost not restored")
	}
	if st.KingdomID != "north" || st.BedSpawn == nil || *st.BedSpawn != bed || len(st.Cost) == 0 {
		t.Errorf("restored %+v", st)
	}
	if !fresh.Markers().Has(other.ID()) {
		t.Error("marker not restored")
	}
	if got := fresh.OfKingdom("north"); len(got) != 1 || got[0].PlayerID != p.ID() {
		t.Errorf("OfKingdom = %v", got)
	}
}

func TestCostPool(t *testing.T) {
	env := testkit.New(t, nil)
	env.Host.SetItemKinds("DIAMOND", "EMERALD", "GOLD_INGOT", "NETHERITE_SCRAP")
	cfg := env.Deps.Config.Ghost
	cfg.ResurrectionCosts = []config.CostEntry{
		{Weight: 3, Items: []world.ItemStack{{Kind: "emerald", Count: 16}}},
		{Weight: 1, Items: []world.ItemStack{{Kind: "MYSTERY", Count: 1}}},
		{Items: []world.ItemStack{
			{Kind: "minecraft:gold_ingot", Count: 4}, {Kind: "DIAMOND"}, {Kind: "NETHERITE_SCRAP", Count: 1},
		}},
	}
	pool := newCostPool(cfg, env.Host, nil, env.Deps.Log)

	pool.intn = func(int) int { return 2 }
	if got := pool.roll(); len(got) != 1 || got[0] != (world.ItemStack{Kind: "EMERALD", Count: 16}) {
		t.Errorf("weighted pick 2 = %v", got)
	}
	pool.intn = func(int) int { return 3 }
	if got := pool.roll(); len(got) != 1 || got[0] != pool.fallback {
		t.Errorf("unknown kind = %v, want fallback", got)
	}
	pool.intn = func(int) int { return 4 }
	got := pool.roll()
	want := []world.ItemStack{{Kind: "GOLD_INGOT", Count: 4}, {Kind: "DIAMOND", Count: 1}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("normalized = %v, want %v", got, want)
	}
}

func TestCostPoolScriptOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "ghost"), 0o755); err != nil {
		t.Fatal(err)
	}
	script := "function select_resurrection_cost(weights) return #weights end\n"
	if err := os.WriteFile(filepath.Join(dir, "ghost", "cost.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	env := testkit.New(t, nil)
	eng, err := scripting.NewEngine(dir, env.Deps.Log)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	cfg := env.Deps.Config.Ghost
	cfg.ResurrectionCosts = []config.CostEntry{
		{Weight: 100, Items: []world.ItemStack{{Kind: "DIAMOND", Count: 1}}},
		{Weight: 1, Items: []world.ItemStack{{Kind: "EMERALD", Count: 9}}},
	}
	pool := newCostPool(cfg, env.Host, eng, env.Deps.Log)
	pool.intn = func(int) int { t.Fatal("random pick used despite script"); return 0 }
	if got := pool.roll(); len(got) != 1 || got[0].Kind != "EMERALD" {
		t.Errorf("scripted pick = %v", got)
	}
}

func TestRestrictions(t *testing.T) {
	env, m := setup(t, func(c *config.Config) {
		c.Ghost.MaxFlightHeight = 120
		c.Ghost.Permissions.UseTrapdoors = false
	})
	bus := env.Deps.Bus
	g := env.Join("Alex", "north", testkit.At(0, 64, 0))
	alive := env.Join("Bob", "north", testkit.At(0, 64, 0))
	mustTransition(t, m, g, "north", nil, nil)

	interact := func(p world.Player, kind event.InteractKind, block string, obj *world.Object) bool {
		return event.Dispatch(bus, &event.Interaction{Player: p, Kind: kind, Block: block, Object: obj}).Cancelled()
	}
	altarObj := &world.Object{Kind: world.ObjectInteraction, Tags: map[string]string{world.TagAltarID: uuid.NewString()}}
	cow := &world.Object{Kind: world.ObjectVisual}

	cases := []struct {
		name   string
		p      world.Player
		kind   event.InteractKind
		block  string
		obj    *world.Object
		cancel bool
	}{
		{"door", g, event.InteractBlock, "OAK_DOOR", nil, false},
		{"iron door", g, event.InteractBlock, "IRON_DOOR", nil, false},
		{"fence gate", g, event.InteractBlock, "BIRCH_FENCE_GATE", nil, false},
		{"trapdoor disabled", g, event.InteractBlock, "OAK_TRAPDOOR", nil, true},
		{"lever", g, event.InteractBlock, "LEVER", nil, true},
		{"air", g, event.InteractBlock, "", nil, false},
		{"chest", g, event.InteractContainer, "CHEST", nil, true},
		{"altar", g, event.InteractEntity, "", altarObj, false},
		{"other entity", g, event.InteractEntity, "", cow, true},
		{"pickup", g, event.InteractPickup, "", nil, true},
		{"targeted", g, event.InteractTargeted, "", nil, true},
		{"living player chest", alive, event.InteractContainer, "CHEST", nil, false},
	}
	for _, tc := range cases {
		if got := interact(tc.p, tc.kind, tc.block, tc.obj); got != tc.cancel {
			t.Errorf("%s: cancelled = %v, want %v", tc.name, got, tc.cancel)
		}
	}

	if !event.Dispatch(bus, &event.Damage{Player: g, Final: 5}).Cancelled() {
		t.Error("ghost took damage")
	}
	gid := g.ID()
	if !event.Dispatch(bus, &event.Damage{Player: alive, Final: 5, Attacker: &gid}).Cancelled() {
		t.Error("ghost dealt damage")
	}
	if event.Dispatch(bus, &event.Damage{Player: alive, Final: 5}).Cancelled() {
		t.Error("living player damage cancelled")
	}

	mv := event.Dispatch(bus, &event.Move{Player: g, From: testkit.At(0, 119, 0), To: testkit.At(0, 125, 0)})
	if mv.To.Y != 120 {
		t.Errorf("capped y = %v", mv.To.Y)
	}
	event.Dispatch(bus, &event.Move{Player: g, From: testkit.At(0, 119, 0), To: testkit.At(0, 126, 0)})
	notice := env.Deps.Catalog.Prefixed("ghost.max-height-reached")
	count := func() int {
		n := 0
		for _, msg := range g.Messages() {
			if msg == notice {
				n++
			}
		}
		return n
	}
	if count() != 1 {
		t.Errorf("height notices = %d, want 1 within a second", count())
	}
	env.Sched.Advance(heightNoticeEvery)
	event.Dispatch(bus, &event.Move{Player: g, From: testkit.At(0, 119, 0), To: testkit.At(0, 126, 0)})
	if count() != 2 {
		t.Errorf("height notices = %d after throttle window", count())
	}
	down := event.Dispatch(bus, &event.Move{Player: g, From: testkit.At(0, 130, 0), To: testkit.At(0, 128, 0)})
	if down.To.Y != 128 {
		t.Error("descending move was capped")
	}
}
