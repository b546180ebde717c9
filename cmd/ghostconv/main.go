// ghostconv copies afterlife snapshots between the YAML data directory and
// PostgreSQL.
//
// Usage:
//
//	go run ./cmd/ghostconv <command> [-config path] [-datadir path] [-dsn url]
//
// Commands: import (yaml -> postgres), export (postgres -> yaml)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/persist"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", config.Path(), "server config for defaults")
	dataDir := fs.String("datadir", "", "YAML data directory (default from config)")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg := config.Default()
	if loaded, err := config.Load(*cfgPath); err == nil {
		cfg = loaded
	} else {
		fmt.Fprintf(os.Stderr, "config: %v (using defaults)\n", err)
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *dsn != "" {
		cfg.Storage.Database.DSN = *dsn
	}

	if err := run(cmd, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: ghostconv <import|export> [-config path] [-datadir path] [-dsn url]")
}

func run(cmd string, cfg *config.Config) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	files, err := persist.NewYAMLStore(cfg.Storage.DataDir, log)
	if err != nil {
		return fmt.Errorf("yaml store: %w", err)
	}
	db, err := persist.NewDB(ctx, cfg.Storage.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
		db.Close()
		return fmt.Errorf("migrations: %w", err)
	}
	pg := persist.NewPostgresStore(db, log)
	defer pg.Close()

	switch cmd {
	case "import":
		return copyAll(ctx, files, pg)
	case "export":
		return copyAll(ctx, pg, files)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// counts reports how many records of each registry were copied.
type counts struct {
	ghosts, altars, immortality, pending int
}

func copyAll(ctx context.Context, from, to persist.Store) error {
	var c counts
	err := errors.Join(
		copyOne(ctx, from.LoadGhosts, to.SaveGhosts, &c.ghosts),
		copyOne(ctx, from.LoadAltars, to.SaveAltars, &c.altars),
		copyOne(ctx, from.LoadImmortality, to.SaveImmortality, &c.immortality),
		copyOne(ctx, from.LoadPending, to.SavePending, &c.pending),
	)
	fmt.Printf("Copied %d ghosts, %d altars, %d immortality effects, %d pending deaths\n",
		c.ghosts, c.altars, c.immortality, c.pending)
	return err
}

func copyOne[T any](ctx context.Context, load func(context.Context) ([]T, error), save func(context.Context, []T) error, n *int) error {
	recs, err := load(ctx)
	if err != nil {
		return err
	}
	if err := save(ctx, recs); err != nil {
		return err
	}
	*n = len(recs)
	return nil
}
