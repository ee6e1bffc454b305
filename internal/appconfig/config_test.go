package appconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/overlayworks/arcade/internal/events"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arcade.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "routing: []\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Queue.MaxSize != 20 || cfg.Queue.WarnSize != 15 {
		t.Errorf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.RestartDelay() != 500*time.Millisecond {
		t.Errorf("unexpected restart delay: %v", cfg.RestartDelay())
	}
	if cfg.DedupWindow() != time.Second {
		t.Errorf("unexpected dedup window: %v", cfg.DedupWindow())
	}
	if cfg.MinFlightTime() != 2*time.Second {
		t.Errorf("unexpected min flight time: %v", cfg.MinFlightTime())
	}
}

func TestLoadParsesRoutingAndTuning(t *testing.T) {
	body := `
queue:
  max_size: 10
  warn_size: 7
  restart_delay_ms: 250
routing:
  - trigger_kind: gift
    trigger_id: rose
    game: wheel
  - trigger_kind: chat
    trigger_id: "!drop"
    game: ball-drop
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Queue.MaxSize != 10 || cfg.Queue.WarnSize != 7 {
		t.Errorf("unexpected queue tuning: %+v", cfg.Queue)
	}
	if cfg.RestartDelay() != 250*time.Millisecond {
		t.Errorf("unexpected restart delay: %v", cfg.RestartDelay())
	}
	if len(cfg.Routing) != 2 {
		t.Fatalf("expected 2 routing rules, got %d", len(cfg.Routing))
	}
	if cfg.Routing[0].Game != events.KindWheel || cfg.Routing[1].Game != events.KindBallDrop {
		t.Errorf("unexpected routing targets: %+v", cfg.Routing)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "arcade", SSLMode: "disable"}
	want := "postgres://u:p@db:5433/arcade?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
