package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/world"
)

// PostgresStore keeps snapshots in the tables created by migrations/.
// Each Save replaces the table contents in one transaction.
type PostgresStore struct {
	db  *DB
	log *zap.Logger
}

func NewPostgresStore(db *DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// replace runs fill inside a transaction after clearing table.
func (s *PostgresStore) replace(ctx context.Context, table string, fill func(tx pgx.Tx) error) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s begin: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("%s clear: %w", table, err)
	}
	if err := fill(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s commit: %w", table, err)
	}
	return nil
}

func nullableID(id *uuid.UUID) any {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return *id
}

func (s *PostgresStore) LoadGhosts(ctx context.Context) ([]GhostRecord, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT player_id, name, kingdom, death_time, duration_ms, pending_resurrection,
		        resurrection_location, resurrected_by, resurrection_cost, death_location, bed_spawn
		 FROM ghosts ORDER BY player_id`)
	if err != nil {
		return nil, fmt.Errorf("load ghosts: %w", err)
	}
	defer rows.Close()

	var out []GhostRecord
	for rows.Next() {
		var row ghostRow
		if err := rows.Scan(&row.PlayerID, &row.Name, &row.Kingdom, &row.DeathTime, &row.DurationMs,
			&row.PendingResurrection, &row.ResurrectionLocation, &row.ResurrectedBy, &row.Cost,
			&row.DeathLocation, &row.BedSpawn); err != nil {
			return nil, fmt.Errorf("scan ghost: %w", err)
		}
		if r, ok := s.ghostFromRow(row); ok {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// ghostRow is one scanned row of the ghosts table.
type ghostRow struct {
	PlayerID             uuid.UUID
	Name                 string
	Kingdom              string
	DeathTime            time.Time
	DurationMs           int64
	PendingResurrection  bool
	ResurrectionLocation string
	ResurrectedBy        *uuid.UUID
	Cost                 []byte
	DeathLocation        string
	BedSpawn             string
}

// ghostFromRow skips rows without a kingdom or a positive duration, as the
// YAML store does. Bad costs and locations are dropped field by field.
func (s *PostgresStore) ghostFromRow(row ghostRow) (GhostRecord, bool) {
	if row.Kingdom == "" || row.DurationMs <= 0 {
		s.log.Warn("略過不完整的幽靈記錄", zap.Stringer("player", row.PlayerID))
		return GhostRecord{}, false
	}
	r := GhostRecord{
		PlayerID:            row.PlayerID,
		Name:                row.Name,
		Kingdom:             row.Kingdom,
		DeathTime:           row.DeathTime,
		Duration:            time.Duration(row.DurationMs) * time.Millisecond,
		PendingResurrection: row.PendingResurrection,
	}
	if row.ResurrectedBy != nil && *row.ResurrectedBy != uuid.Nil {
		by := *row.ResurrectedBy
		r.ResurrectedBy = &by
	}
	if len(row.Cost) > 0 {
		if err := json.Unmarshal(row.Cost, &r.Cost); err != nil {
			s.log.Warn("略過無效的復活花費", zap.Stringer("player", r.PlayerID), zap.Error(err))
			r.Cost = nil
		}
	}
	r.ResurrectionLocation = s.location(r.PlayerID, row.ResurrectionLocation)
	r.DeathLocation = s.location(r.PlayerID, row.DeathLocation)
	r.BedSpawn = s.location(r.PlayerID, row.BedSpawn)
	return r, true
}

func (s *PostgresStore) location(id uuid.UUID, v string) *world.Location {
	loc, err := DecodeLocation(v)
	if err != nil {
		s.log.Warn("略過無效的座標", zap.Stringer("player", id), zap.Error(err))
		return nil
	}
	return loc
}

func (s *PostgresStore) SaveGhosts(ctx context.Context, recs []GhostRecord) error {
	return s.replace(ctx, "ghosts", func(tx pgx.Tx) error {
		for _, r := range recs {
			cost, err := json.Marshal(r.Cost)
			if err != nil {
				return fmt.Errorf("encode cost: %w", err)
			}
			if r.Cost == nil {
				cost = []byte("[]")
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO ghosts (player_id, name, kingdom, death_time, duration_ms, pending_resurrection,
				                     resurrection_location, resurrected_by, resurrection_cost, death_location, bed_spawn)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				r.PlayerID, r.Name, r.Kingdom, r.DeathTime, r.Duration.Milliseconds(), r.PendingResurrection,
				EncodeLocation(r.ResurrectionLocation), nullableID(r.ResurrectedBy), cost,
				EncodeLocation(r.DeathLocation), EncodeLocation(r.BedSpawn),
			); err != nil {
				return fmt.Errorf("insert ghost %s: %w", r.PlayerID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadAltars(ctx context.Context) ([]AltarRecord, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT altar_id, kingdom, world, x, y, z, yaw, pitch, display_uuid, interaction_uuid
		 FROM altars ORDER BY altar_id`)
	if err != nil {
		return nil, fmt.Errorf("load altars: %w", err)
	}
	defer rows.Close()

	var out []AltarRecord
	for rows.Next() {
		var (
			r          AltarRecord
			vis, inter *uuid.UUID
		)
		if err := rows.Scan(&r.ID, &r.Kingdom, &r.Location.World, &r.Location.X, &r.Location.Y, &r.Location.Z,
			&r.Location.Yaw, &r.Location.Pitch, &vis, &inter); err != nil {
			return nil, fmt.Errorf("scan altar: %w", err)
		}
		if vis != nil {
			r.VisualID = *vis
		}
		if inter != nil {
			r.InteractionID = *inter
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveAltars(ctx context.Context, recs []AltarRecord) error {
	return s.replace(ctx, "altars", func(tx pgx.Tx) error {
		for _, r := range recs {
			vis, inter := r.VisualID, r.InteractionID
			if _, err := tx.Exec(ctx,
				`INSERT INTO altars (altar_id, kingdom, world, x, y, z, yaw, pitch, display_uuid, interaction_uuid)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				r.ID, r.Kingdom, r.Location.World, r.Location.X, r.Location.Y, r.Location.Z,
				r.Location.Yaw, r.Location.Pitch, nullableID(&vis), nullableID(&inter),
			); err != nil {
				return fmt.Errorf("insert altar %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadImmortality(ctx context.Context) ([]ImmortalityRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT player_id, expires_at FROM immortality_effects ORDER BY player_id`)
	if err != nil {
		return nil, fmt.Errorf("load immortality: %w", err)
	}
	defer rows.Close()

	var out []ImmortalityRecord
	for rows.Next() {
		var r ImmortalityRecord
		if err := rows.Scan(&r.PlayerID, &r.Expires); err != nil {
			return nil, fmt.Errorf("scan immortality: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveImmortality(ctx context.Context, recs []ImmortalityRecord) error {
	return s.replace(ctx, "immortality_effects", func(tx pgx.Tx) error {
		for _, r := range recs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO immortality_effects (player_id, expires_at) VALUES ($1, $2)`,
				r.PlayerID, r.Expires,
			); err != nil {
				return fmt.Errorf("insert immortality %s: %w", r.PlayerID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadPending(ctx context.Context) ([]PendingRecord, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT player_id, kingdom, death_location, bed_spawn FROM pending_ghosts ORDER BY player_id`)
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	defer rows.Close()

	var out []PendingRecord
	for rows.Next() {
		var (
			r          PendingRecord
			death, bed string
		)
		if err := rows.Scan(&r.PlayerID, &r.Kingdom, &death, &bed); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		r.DeathLocation = s.location(r.PlayerID, death)
		r.BedSpawn = s.location(r.PlayerID, bed)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePending(ctx context.Context, recs []PendingRecord) error {
	return s.replace(ctx, "pending_ghosts", func(tx pgx.Tx) error {
		for _, r := range recs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO pending_ghosts (player_id, kingdom, death_location, bed_spawn) VALUES ($1, $2, $3, $4)`,
				r.PlayerID, r.Kingdom, EncodeLocation(r.DeathLocation), EncodeLocation(r.BedSpawn),
			); err != nil {
				return fmt.Errorf("insert pending %s: %w", r.PlayerID, err)
			}
		}
		return nil
	})
}
