// Package core holds the collaborators every afterlife component is built from.
package core

import (
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/kingdom"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/scripting"
	"github.com/kingdoms/afterlife/internal/world"
)

// Deps is handed to each component constructor. Components never reach
// for package-level state; whatever they need lives here.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	Sched     region.Scheduler
	Host      world.Host
	Kingdoms  kingdom.Directory
	Spawns    kingdom.SpawnDirectory
	Catalog   message.Catalog
	Durations message.DurationFormat
	Writer    *persist.Writer
	Bus       *event.Bus
	Scripts   *scripting.Engine // nil when scripting is off
}

// Named returns a copy of d whose logger is the named child.
func (d *Deps) Named(name string) *Deps {
	c := *d
	c.Log = d.Log.Named(name)
	return &c
}
