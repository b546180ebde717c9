// Package testkit wires a complete set of deps against the in-memory host
// and the virtual-clock scheduler for package tests.
package testkit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/kingdom"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/world"
)

// Env exposes the concrete pieces behind a Deps.
type Env struct {
	Deps     *core.Deps
	Sched    *region.Manual
	Host     *world.State
	Kingdoms *kingdom.Static
	Store    *persist.YAMLStore
	Logs     *observer.ObservedLogs
}

// New builds an Env whose clock starts at the Unix epoch. mutate may adjust
// the default config, which has ghosts enabled.
func New(t testing.TB, mutate func(*config.Config)) *Env {
	t.Helper()
	cfg := config.Default()
	cfg.Ghost.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}

	obs, logs := observer.New(zap.DebugLevel)
	log := zap.New(zapcore.NewTee(obs, zaptest.NewLogger(t).Core()))

	sched := region.NewManual(log, time.UnixMilli(0), cfg.Region.CellSize)
	host := world.NewState("world", "world_nether")
	dirs := kingdom.NewStatic()
	store, err := persist.NewYAMLStore(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}

	d := &core.Deps{
		Config:    cfg,
		Log:       log,
		Sched:     sched,
		Host:      host,
		Kingdoms:  dirs,
		Spawns:    dirs,
		Catalog:   message.NewTable(),
		Durations: message.NewDurationFormat(cfg.Messages.Locale),
		Writer:    persist.NewWriter(store, sched, log),
		Bus:       event.NewBus(),
	}
	return &Env{Deps: d, Sched: sched, Host: host, Kingdoms: dirs, Store: store, Logs: logs}
}

// Join brings a player online at loc, optionally in a kingdom.
func (e *Env) Join(name, kingdomID string, loc world.Location) *world.PlayerInfo {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	if kingdomID != "" {
		e.Kingdoms.Assign(id, kingdomID)
	}
	return e.Host.Join(id, name, loc)
}

// Rejoin opens a new session for an existing player.
func (e *Env) Rejoin(p world.Player) *world.PlayerInfo {
	return e.Host.Join(p.ID(), p.Name(), p.Location())
}

// Contains reports whether any message sent to p contains sub.
func Contains(p *world.PlayerInfo, sub string) bool {
	for _, m := range p.Messages() {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

// At is a location in the overworld.
func At(x, y, z float64) world.Location {
	return world.Location{World: "world", X: x, Y: y, Z: z}
}
