package persist

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kingdoms/afterlife/internal/world"
)

func TestGhostFromRow(t *testing.T) {
	id := uuid.New()
	by := uuid.New()
	died := time.UnixMilli(1_700_000_000_000)
	base := ghostRow{
		PlayerID:   id,
		Name:       "Alex",
		Kingdom:    "north",
		DeathTime:  died,
		DurationMs: 1_800_000,
		Cost:       []byte(`[{"material":"DIAMOND","amount":2}]`),
	}

	cases := []struct {
		name   string
		mutate func(*ghostRow)
		ok     bool
		warns  int
		check  func(t *testing.T, r GhostRecord)
	}{
		{"complete row", func(r *ghostRow) {
			r.PendingResurrection = true
			r.ResurrectionLocation = "world;50;64;50"
			r.ResurrectedBy = &by
			r.DeathLocation = "world;1;2;3;90;0"
		}, true, 0, func(t *testing.T, r GhostRecord) {
			if r.Duration != 30*time.Minute || !r.DeathTime.Equal(died) {
				t.Errorf("timing = %v %v", r.DeathTime, r.Duration)
			}
			want := world.Location{World: "world", X: 50, Y: 64, Z: 50}
			if r.ResurrectionLocation == nil || *r.ResurrectionLocation != want {
				t.Errorf("resurrection location = %v", r.ResurrectionLocation)
			}
			if r.ResurrectedBy == nil || *r.ResurrectedBy != by {
				t.Errorf("resurrected by = %v", r.ResurrectedBy)
			}
			if r.DeathLocation == nil || r.DeathLocation.Yaw != 90 || r.BedSpawn != nil {
				t.Errorf("death %v bed %v", r.DeathLocation, r.BedSpawn)
			}
			if len(r.Cost) != 1 || r.Cost[0] != (world.ItemStack{Kind: "DIAMOND", Count: 2}) {
				t.Errorf("cost = %v", r.Cost)
			}
		}},
		{"empty kingdom", func(r *ghostRow) { r.Kingdom = "" }, false, 1, nil},
		{"zero duration", func(r *ghostRow) { r.DurationMs = 0 }, false, 1, nil},
		{"negative duration", func(r *ghostRow) { r.DurationMs = -5 }, false, 1, nil},
		{"bad cost", func(r *ghostRow) { r.Cost = []byte("{") }, true, 1, func(t *testing.T, r GhostRecord) {
			if r.Cost != nil {
				t.Errorf("cost = %v", r.Cost)
			}
		}},
		{"bad location", func(r *ghostRow) { r.BedSpawn = "world;x;1;2" }, true, 1, func(t *testing.T, r GhostRecord) {
			if r.BedSpawn != nil {
				t.Errorf("bed spawn = %v", r.BedSpawn)
			}
		}},
		{"nil resurrector", func(r *ghostRow) { nilID := uuid.Nil; r.ResurrectedBy = &nilID }, true, 0, func(t *testing.T, r GhostRecord) {
			if r.ResurrectedBy != nil {
				t.Errorf("resurrected by = %v", r.ResurrectedBy)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			s := NewPostgresStore(nil, zap.New(core))
			row := base
			tc.mutate(&row)

			r, ok := s.ghostFromRow(row)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if logs.Len() != tc.warns {
				t.Errorf("warnings = %d, want %d", logs.Len(), tc.warns)
			}
			if tc.check != nil {
				tc.check(t, r)
			}
		})
	}
}
