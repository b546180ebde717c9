package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingdoms/afterlife/internal/altar"
	"github.com/kingdoms/afterlife/internal/config"
	"github.com/kingdoms/afterlife/internal/core"
	"github.com/kingdoms/afterlife/internal/core/event"
	"github.com/kingdoms/afterlife/internal/deathhook"
	"github.com/kingdoms/afterlife/internal/ghost"
	"github.com/kingdoms/afterlife/internal/immortality"
	"github.com/kingdoms/afterlife/internal/kingdom"
	"github.com/kingdoms/afterlife/internal/market"
	"github.com/kingdoms/afterlife/internal/message"
	"github.com/kingdoms/afterlife/internal/persist"
	"github.com/kingdoms/afterlife/internal/region"
	"github.com/kingdoms/afterlife/internal/scripting"
	"github.com/kingdoms/afterlife/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string) {
	fmt.Println()
	fmt.Println("\033[35;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[35;1m  │\033[0m            Kingdoms Afterlife             \033[35;1m│\033[0m")
	fmt.Println("\033[35;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s\n\n", name)
}

// displayWidth counts CJK runes as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-displayWidth(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Service wiring ────────────────────────────────────────────────

type components struct {
	ghosts *ghost.Manager
	altars *altar.Registry
	guard  *immortality.Guard
	hook   *deathhook.Hook
	market *market.Market
}

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Open storage
	printSection("儲存")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Println()

	// 4. Reference data
	printSection("資料載入")
	catalog, err := message.LoadTable(cfg.Messages.Path, log)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	printStat("訊息", len(catalog.Keys()))

	dirs, err := kingdom.LoadStatic(cfg.Kingdoms.Path, log)
	if err != nil {
		return fmt.Errorf("load kingdoms: %w", err)
	}
	printStat("王國", len(dirs.Kingdoms()))

	var scripts *scripting.Engine
	if cfg.Scripting.Enabled {
		scripts, err = scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer scripts.Close()
		printOK("Lua 腳本引擎已載入")
	}

	// 5. Scheduler and host
	sched := region.NewPool(log, cfg.Region.CellSize)
	defer sched.Close()
	host := world.NewState(cfg.Server.Worlds...)

	deps := &core.Deps{
		Config:    cfg,
		Log:       log,
		Sched:     sched,
		Host:      host,
		Kingdoms:  dirs,
		Spawns:    dirs,
		Catalog:   catalog,
		Durations: message.NewDurationFormat(cfg.Messages.Locale),
		Writer:    persist.NewWriter(store, sched, log),
		Bus:       event.NewBus(),
		Scripts:   scripts,
	}

	// 6. Components
	c := build(deps)
	if err := c.load(ctx); err != nil {
		return err
	}
	printStat("幽靈", len(c.ghosts.All()))
	printStat("祭壇", len(c.altars.All()))
	fmt.Println()

	c.subscribe(deps.Bus, log)
	c.altars.ScheduleReconcile()
	c.ghosts.Start()
	c.guard.Start()

	// 7. Wait for shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	printSection("服務就緒")
	printReady(fmt.Sprintf("幽靈系統 %s", onOff(cfg.Ghost.Enabled)))
	printReady(fmt.Sprintf("不朽系統 %s", onOff(cfg.Immortality.Enabled)))
	fmt.Println()
	started := time.Unix(cfg.Server.StartTime, 0)
	log.Info("服務已啟動", zap.Time("started", started))

	sig := <-shutdownCh
	log.Info("收到關閉信號", zap.String("signal", sig.String()))

	c.ghosts.Stop()
	c.guard.Stop()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer flushCancel()
	if err := c.flush(flushCtx); err != nil {
		log.Error("關閉時存檔失敗", zap.Error(err))
	}
	log.Info("服務已停止", zap.Duration("uptime", time.Since(started).Round(time.Second)))
	return nil
}

func onOff(v bool) string {
	if v {
		return "啟用"
	}
	return "停用"
}

func build(d *core.Deps) *components {
	c := &components{}
	c.ghosts = ghost.NewManager(d)
	c.altars = altar.NewRegistry(d)
	c.guard = immortality.New(d, c.ghosts)
	c.hook = deathhook.New(d, c.ghosts)
	c.market = market.New(d, c.ghosts, c.altars, c.guard)
	return c
}

func (c *components) subscribe(bus *event.Bus, log *zap.Logger) {
	c.ghosts.Subscribe()
	c.guard.Subscribe()
	c.hook.Subscribe()
	c.market.Subscribe()
	event.Subscribe(bus, event.PriorityMonitor, func(ev *event.GhostChanged) {
		log.Debug("幽靈狀態變更", zap.Stringer("player", ev.PlayerID), zap.Bool("ghost", ev.Ghost))
	})
}

func (c *components) load(ctx context.Context) error {
	if err := c.ghosts.Load(ctx); err != nil {
		return err
	}
	if err := c.altars.Load(ctx); err != nil {
		return err
	}
	return c.guard.Load(ctx)
}

// flush writes every registry, continuing past failures.
func (c *components) flush(ctx context.Context) error {
	return errors.Join(
		c.ghosts.Flush(ctx),
		c.altars.Flush(ctx),
		c.guard.Flush(ctx),
	)
}

// openStore returns the configured store. Closing a PostgreSQL store
// closes its pool.
func openStore(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (persist.Store, error) {
	if cfg.Driver != "postgres" {
		store, err := persist.NewYAMLStore(cfg.DataDir, log)
		if err != nil {
			return nil, fmt.Errorf("yaml store: %w", err)
		}
		printOK(fmt.Sprintf("YAML 存檔目錄 %s", cfg.DataDir))
		return store, nil
	}

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	printOK("PostgreSQL 連線成功")
	if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	printOK("資料庫遷移完成")
	return persist.NewPostgresStore(db, log), nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
