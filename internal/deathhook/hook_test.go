package deathhook

import (
	"errors"
	"testing"
	"time"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/ghost"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/testkit"
	"github.com/kingdoms/afterlife/internal/world"
)

func setup(t *testing.T, mutate func(*config.Config)) (*testkit.Env, *ghost.Manager, *Hook) {
	t.Helper()
	env := testkit.New(t, mutate)
	m := ghost.NewManager(env.Deps)
	m.Subscribe()
	h := New(env.Deps, m)
	h.Subscribe()
	return env, m, h
}

func die(env *testkit.Env, p *world.PlayerInfo) {
	p.SetDead(true)
	event.Dispatch(env.Deps.Bus, &event.Death{Player: p, Location: p.Location()})
}

func respawn(p *world.PlayerInfo, at world.Location) {
	p.SetDead(false)
	p.SetHealth(p.MaxHealth())
	p.Move(at)
}

func messageTime(env *testkit.Env, d time.Duration) message.Param {
	return message.P("time", env.Deps.Durations.Span(d))
}

func TestKingdomlessDeathLeavesRespawnAlone(t *testing.T) {
	env, m, h := setup(t, nil)
	p := env.Join("Nomad", "", testkit.At(10, 64, 10))
	env.Kingdoms.SetSpawn("north", testkit.At(0, 64, 0))

	die(env, p)
	if m.Markers().Has(p.ID()) || h.Awaiting(p.ID()) {
		t.Fatal("kingdom-less death created a marker")
	}
	respawn(p, testkit.At(50, 64, 50))
	env.Sched.Advance(time.Second)

	if m.IsGhost(p.ID()) || p.Teleports() != 0 {
		t.Error("kingdom-less player was moved or made a ghost")
	}
}

func TestDeathBecomesGhostAfterRespawn(t *testing.T) {
	env, m, h := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(10, 64, 10))
	bed := testkit.At(1, 64, 1)
	p.SetRespawn(bed, true, nil)

	die(env, p)
	if !m.Markers().Has(p.ID()) || !h.Awaiting(p.ID()) {
		t.Fatal("eligible death not marked")
	}
	deathLoc, bedLoc, ok := h.Captured(p.ID())
	if !ok || deathLoc == nil || *deathLoc != testkit.At(10, 64, 10) || bedLoc == nil || *bedLoc != bed {
		t.Errorf("captured = %v %v %v", deathLoc, bedLoc, ok)
	}

	// Still on the death screen.
	env.Sched.Advance(500 * time.Millisecond)
	if m.IsGhost(p.ID()) || !m.Markers().Has(p.ID()) {
		t.Fatal("transition applied while dead")
	}

	respawn(p, bed)
	env.Sched.Advance(200 * time.Millisecond)

	st, ok := m.Record(p.ID())
	if !ok {
		t.Fatal("no ghost after respawn")
	}
	if m.Markers().Has(p.ID()) || h.Awaiting(p.ID()) {
		t.Error("marker or poll left behind")
	}
	if _, _, ok := h.Captured(p.ID()); ok {
		t.Error("captured locations kept after the transition")
	}
	if st.DeathLocation == nil || *st.DeathLocation != testkit.At(10, 64, 10) {
		t.Errorf("death location = %v", st.DeathLocation)
	}
	if st.BedSpawn == nil || *st.BedSpawn != bed {
		t.Errorf("bed spawn = %v", st.BedSpawn)
	}
	if p.Location() != testkit.At(10, 64, 10) {
		t.Errorf("ghost at %v, want death location", p.Location())
	}
}

func TestBedLookupFailureIsSwallowed(t *testing.T) {
	env, m, _ := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(10, 64, 10))
	p.SetRespawn(world.Location{}, false, errors.New("anchor in another region"))

	die(env, p)
	respawn(p, testkit.At(0, 64, 0))
	env.Sched.Advance(time.Second)

	st, ok := m.Record(p.ID())
	if !ok {
		t.Fatal("failed bed lookup blocked the transition")
	}
	if st.BedSpawn != nil {
		t.Errorf("bed spawn = %v", st.BedSpawn)
	}
}

func TestDisconnectBeforePollAppliesOnce(t *testing.T) {
	env, m, h := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(10, 64, 10))

	die(env, p)
	env.Host.Quit(p.ID())
	env.Sched.Advance(time.Second)

	if h.Awaiting(p.ID()) {
		t.Error("poll kept running for an offline player")
	}
	if !m.Markers().Has(p.ID()) {
		t.Fatal("poll consumed the marker of an offline player")
	}

	again := env.Rejoin(p)
	respawn(again, testkit.At(0, 64, 0))
	event.Dispatch(env.Deps.Bus, &event.Join{Player: again})
	env.Sched.Advance(2 * time.Second)

	if !m.IsGhost(p.ID()) {
		t.Fatal("reconnect did not finish the transition")
	}
	if m.Markers().Has(p.ID()) {
		t.Error("marker left behind")
	}
	became := 0
	for _, msg := range again.Messages() {
		if msg == env.Deps.Catalog.Prefixed("ghost.became-ghost",
			messageTime(env, env.Deps.Config.Ghost.Duration)) {
			became++
		}
	}
	if became != 1 {
		t.Errorf("transition applied %d times", became)
	}
}

func TestRepeatedDeathRestartsPoll(t *testing.T) {
	env, m, _ := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(10, 64, 10))

	die(env, p)
	p.Move(testkit.At(20, 64, 20))
	die(env, p)
	respawn(p, testkit.At(0, 64, 0))
	env.Sched.Advance(time.Second)

	st, ok := m.Record(p.ID())
	if !ok {
		t.Fatal("no ghost")
	}
	if *st.DeathLocation != testkit.At(20, 64, 20) {
		t.Errorf("death location = %v, want the latest death", st.DeathLocation)
	}
}

func TestIneligibleDeathUsesKingdomSpawn(t *testing.T) {
	env, m, h := setup(t, func(c *config.Config) { c.Ghost.Enabled = false })
	spawn := testkit.At(0, 70, 0)
	env.Kingdoms.SetSpawn("north", spawn)
	p := env.Join("Alex", "north", testkit.At(10, 64, 10))
	withBed := env.Join("Bob", "north", testkit.At(10, 64, 10))
	withBed.SetRespawn(testkit.At(5, 64, 5), true, nil)

	die(env, p)
	die(env, withBed)
	if m.Markers().Has(p.ID()) {
		t.Error("disabled ghosts still wrote a marker")
	}
	if !h.Awaiting(p.ID()) {
		t.Fatal("no respawn poll for the spawn fallback")
	}
	respawn(p, testkit.At(100, 64, 100))
	respawn(withBed, testkit.At(5, 64, 5))
	env.Sched.Advance(time.Second)

	if m.IsGhost(p.ID()) {
		t.Error("ghost created while disabled")
	}
	if p.Location() != spawn {
		t.Errorf("respawned at %v, want kingdom spawn", p.Location())
	}
	if !testkit.Contains(p, env.Deps.Catalog.Get("respawn.at-kingdom-spawn")) {
		t.Errorf("messages = %v", p.Messages())
	}
	if withBed.Teleports() != 0 {
		t.Error("player with a bed was moved")
	}
}

func TestIneligibleWithoutFallbackDoesNothing(t *testing.T) {
	env, _, h := setup(t, func(c *config.Config) {
		c.Ghost.Enabled = false
		c.Respawn.TeleportOnDeathNoRespawn = false
	})
	p := env.Join("Alex", "north", testkit.At(10, 64, 10))
	die(env, p)
	if h.Awaiting(p.ID()) || env.Sched.Pending() != 0 {
		t.Error("poll scheduled with nothing to do")
	}
}

func TestGhostDeathIgnored(t *testing.T) {
	env, m, _ := setup(t, nil)
	p := env.Join("Alex", "north", testkit.At(10, 64, 10))
	if !m.TransitionToGhost(p, "north", nil, nil) {
		t.Fatal("transition rejected")
	}
	die(env, p)
	if m.Markers().Has(p.ID()) {
		t.Error("ghost death wrote a marker")
	}
}
