package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "afterlife.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[ghost]
enabled = true
duration = "45m"

[[ghost.resurrection_costs]]
weight = 3
items = [{ material = "DIAMOND", amount = 2 }, { material = "EMERALD", amount = 5 }]

[[ghost.resurrection_costs]]
items = [{ material = "NETHERITE_SCRAP", amount = 1 }]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Ghost.Enabled || cfg.Ghost.Duration != 45*time.Minute {
		t.Errorf("ghost = %+v", cfg.Ghost)
	}
	if cfg.Ghost.SweepInterval != 10*time.Second || cfg.Immortality.Duration != 30*time.Minute {
		t.Error("defaults overwritten by a partial file")
	}
	if len(cfg.Ghost.ResurrectionCosts) != 2 {
		t.Fatalf("costs = %+v", cfg.Ghost.ResurrectionCosts)
	}
	first := cfg.Ghost.ResurrectionCosts[0]
	if first.Weight != 3 || len(first.Items) != 2 || first.Items[1].Kind != "EMERALD" || first.Items[1].Count != 5 {
		t.Errorf("first cost = %+v", first)
	}
	if cfg.Server.StartTime == 0 {
		t.Error("start time not stamped")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AFTERLIFE_LOG_LEVEL", "debug")
	t.Setenv("AFTERLIFE_STORAGE_DRIVER", "postgres")
	t.Setenv("AFTERLIFE_DATABASE_DSN", "postgres://x@db/afterlife")
	t.Setenv("AFTERLIFE_GHOSTS_ENABLED", "true")

	cfg, err := Load(writeConfig(t, "[logging]\nlevel = \"warn\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, env should win", cfg.Logging.Level)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.Database.DSN != "postgres://x@db/afterlife" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !cfg.Ghost.Enabled {
		t.Error("ghost system not enabled from env")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"driver":  "[storage]\ndriver = \"mongo\"\n",
		"buyback": "[ghost]\nbuyback_location = \"spawn\"\n",
		"syntax":  "[ghost\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("missing file error = %v", err)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("AFTERLIFE_CONFIG", "")
	if Path() != "config/afterlife.toml" {
		t.Errorf("default path = %q", Path())
	}
	t.Setenv("AFTERLIFE_CONFIG", "/etc/afterlife.toml")
	if Path() != "/etc/afterlife.toml" {
		t.Errorf("env path = %q", Path())
	}
}
