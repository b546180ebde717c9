package persist

import "context"

// Store reads and writes whole-registry snapshots. Save replaces what was
// stored for that registry. Loads skip malformed records and log them.
type Store interface {
	LoadGhosts(ctx context.Context) ([]GhostRecord, error)
	SaveGhosts(ctx context.Context, recs []GhostRecord) error

	LoadAltars(ctx context.Context) ([]AltarRecord, error)
	SaveAltars(ctx context.Context, recs []AltarRecord) error

	LoadImmortality(ctx context.Context) ([]ImmortalityRecord, error)
	SaveImmortality(ctx context.Context, recs []ImmortalityRecord) error

	LoadPending(ctx context.Context) ([]PendingRecord, error)
	SavePending(ctx context.Context, recs []PendingRecord) error

	Close() error
}

var (
	_ Store = (*YAMLStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
