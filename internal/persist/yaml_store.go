package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kingdoms/afterlife/internal/world"
)

const (
	ghostFile       = "ghostdata.yml"
	altarFile       = "altars.yml"
	immortalityFile = "immortality.yml"
	pendingFile     = "pending.yml"
)

type ghostYAML struct {
	Name                 string            `yaml:"name"`
	Kingdom              string            `yaml:"kingdom"`
	DeathTime            int64             `yaml:"death-time"`
	DurationMs           int64             `yaml:"duration-ms"`
	PendingResurrection  bool              `yaml:"pending-resurrection"`
	ResurrectionLocation string            `yaml:"resurrection-location,omitempty"`
	ResurrectedBy        string            `yaml:"resurrected-by,omitempty"`
	ResurrectionCost     []world.ItemStack `yaml:"resurrection-cost"`
	DeathLocation        string            `yaml:"death-location,omitempty"`
	BedSpawn             string            `yaml:"bed-spawn,omitempty"`
}

type altarYAML struct {
	Kingdom         string         `yaml:"kingdom"`
	Location        world.Location `yaml:"location"`
	DisplayUUID     string         `yaml:"display-uuid,omitempty"`
	InteractionUUID string         `yaml:"interaction-uuid,omitempty"`
}

type pendingYAML struct {
	Kingdom       string `yaml:"kingdom"`
	DeathLocation string `yaml:"death-location,omitempty"`
	BedSpawn      string `yaml:"bed-spawn,omitempty"`
}

type ghostDoc struct {
	Ghosts map[string]ghostYAML `yaml:"ghosts"`
}

type altarDoc struct {
	Altars map[string]altarYAML `yaml:"altars"`
}

type immortalityDoc struct {
	Immortality map[string]int64 `yaml:"immortality"`
}

type pendingDoc struct {
	Pending map[string]pendingYAML `yaml:"pending"`
}

// YAMLStore keeps each registry in a hand-editable YAML file under dir.
type YAMLStore struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex // serializes file replacement
}

// NewYAMLStore creates dir if needed.
func NewYAMLStore(dir string, log *zap.Logger) (*YAMLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &YAMLStore{dir: dir, log: log}, nil
}

func (s *YAMLStore) Close() error { return nil }

func (s *YAMLStore) read(name string, out any) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

// write replaces name atomically through a temp file in the same directory.
func (s *YAMLStore) write(name string, doc any) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (s *YAMLStore) parseID(file, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(key)
	if err != nil {
		s.log.Warn("略過無效的記錄鍵", zap.String("file", file), zap.String("key", key))
		return uuid.Nil, false
	}
	return id, true
}

func (s *YAMLStore) location(file, key, field, v string) *world.Location {
	loc, err := DecodeLocation(v)
	if err != nil {
		s.log.Warn("略過無效的座標", zap.String("file", file), zap.String("key", key),
			zap.String("field", field), zap.Error(err))
		return nil
	}
	return loc
}

func (s *YAMLStore) LoadGhosts(ctx context.Context) ([]GhostRecord, error) {
	var doc ghostDoc
	if ok, err := s.read(ghostFile, &doc); err != nil || !ok {
		return nil, err
	}
	out := make([]GhostRecord, 0, len(doc.Ghosts))
	for key, g := range doc.Ghosts {
		id, ok := s.parseID(ghostFile, key)
		if !ok {
			continue
		}
		if g.Kingdom == "" || g.DurationMs <= 0 {
			s.log.Warn("略過不完整的幽靈記錄", zap.String("player", key))
			continue
		}
		rec := GhostRecord{
			PlayerID:             id,
			Name:                 g.Name,
			Kingdom:              g.Kingdom,
			DeathTime:            time.UnixMilli(g.DeathTime),
			Duration:             time.Duration(g.DurationMs) * time.Millisecond,
			PendingResurrection:  g.PendingResurrection,
			ResurrectionLocation: s.location(ghostFile, key, "resurrection-location", g.ResurrectionLocation),
			Cost:                 g.ResurrectionCost,
			DeathLocation:        s.location(ghostFile, key, "death-location", g.DeathLocation),
			BedSpawn:             s.location(ghostFile, key, "bed-spawn", g.BedSpawn),
		}
		if g.ResurrectedBy != "" {
			if by, err := uuid.Parse(g.ResurrectedBy); err == nil {
				rec.ResurrectedBy = &by
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out, nil
}

func (s *YAMLStore) SaveGhosts(ctx context.Context, recs []GhostRecord) error {
	doc := ghostDoc{Ghosts: make(map[string]ghostYAML, len(recs))}
	for _, r := range recs {
		g := ghostYAML{
			Name:                 r.Name,
			Kingdom:              r.Kingdom,
			DeathTime:            r.DeathTime.UnixMilli(),
			DurationMs:           r.Duration.Milliseconds(),
			PendingResurrection:  r.PendingResurrection,
			ResurrectionLocation: EncodeLocation(r.ResurrectionLocation),
			ResurrectionCost:     r.Cost,
			DeathLocation:        EncodeLocation(r.DeathLocation),
			BedSpawn:             EncodeLocation(r.BedSpawn),
		}
		if r.ResurrectedBy != nil {
			g.ResurrectedBy = r.ResurrectedBy.String()
		}
		doc.Ghosts[r.PlayerID.String()] = g
	}
	return s.write(ghostFile, doc)
}

func (s *YAMLStore) LoadAltars(ctx context.Context) ([]AltarRecord, error) {
	var doc altarDoc
	if ok, err := s.read(altarFile, &doc); err != nil || !ok {
		return nil, err
	}
	out := make([]AltarRecord, 0, len(doc.Altars))
	for key, a := range doc.Altars {
		id, ok := s.parseID(altarFile, key)
		if !ok {
			continue
		}
		if a.Kingdom == "" || !a.Location.Valid() {
			s.log.Warn("略過不完整的祭壇記錄", zap.String("altar", key))
			continue
		}
		rec := AltarRecord{ID: id, Kingdom: a.Kingdom, Location: a.Location}
		rec.VisualID = s.optionalID(key, a.DisplayUUID)
		rec.InteractionID = s.optionalID(key, a.InteractionUUID)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *YAMLStore) optionalID(key, v string) uuid.UUID {
	if v == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		s.log.Warn("忽略無效的物件 UUID", zap.String("altar", key), zap.String("value", v))
		return uuid.Nil
	}
	return id
}

func (s *YAMLStore) SaveAltars(ctx context.Context, recs []AltarRecord) error {
	doc := altarDoc{Altars: make(map[string]altarYAML, len(recs))}
	for _, r := range recs {
		a := altarYAML{Kingdom: r.Kingdom, Location: r.Location}
		if r.VisualID != uuid.Nil {
			a.DisplayUUID = r.VisualID.String()
		}
		if r.InteractionID != uuid.Nil {
			a.InteractionUUID = r.InteractionID.String()
		}
		doc.Altars[r.ID.String()] = a
	}
	return s.write(altarFile, doc)
}

func (s *YAMLStore) LoadImmortality(ctx context.Context) ([]ImmortalityRecord, error) {
	var doc immortalityDoc
	if ok, err := s.read(immortalityFile, &doc); err != nil || !ok {
		return nil, err
	}
	out := make([]ImmortalityRecord, 0, len(doc.Immortality))
	for key, ms := range doc.Immortality {
		id, ok := s.parseID(immortalityFile, key)
		if !ok {
			continue
		}
		out = append(out, ImmortalityRecord{PlayerID: id, Expires: time.UnixMilli(ms)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out, nil
}

func (s *YAMLStore) SaveImmortality(ctx context.Context, recs []ImmortalityRecord) error {
	doc := immortalityDoc{Immortality: make(map[string]int64, len(recs))}
	for _, r := range recs {
		doc.Immortality[r.PlayerID.String()] = r.Expires.UnixMilli()
	}
	return s.write(immortalityFile, doc)
}

func (s *YAMLStore) LoadPending(ctx context.Context) ([]PendingRecord, error) {
	var doc pendingDoc
	if ok, err := s.read(pendingFile, &doc); err != nil || !ok {
		return nil, err
	}
	out := make([]PendingRecord, 0, len(doc.Pending))
	for key, p := range doc.Pending {
		id, ok := s.parseID(pendingFile, key)
		if !ok {
			continue
		}
		if p.Kingdom == "" {
			s.log.Warn("略過沒有王國的待轉換記錄", zap.String("player", key))
			continue
		}
		out = append(out, PendingRecord{
			PlayerID:      id,
			Kingdom:       p.Kingdom,
			DeathLocation: s.location(pendingFile, key, "death-location", p.DeathLocation),
			BedSpawn:      s.location(pendingFile, key, "bed-spawn", p.BedSpawn),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out, nil
}

func (s *YAMLStore) SavePending(ctx context.Context, recs []PendingRecord) error {
	doc := pendingDoc{Pending: make(map[string]pendingYAML, len(recs))}
	for _, r := range recs {
		doc.Pending[r.PlayerID.String()] = pendingYAML{
			Kingdom:       r.Kingdom,
			DeathLocation: EncodeLocation(r.DeathLocation),
			BedSpawn:      EncodeLocation(r.BedSpawn),
		}
	}
	return s.write(pendingFile, doc)
}
