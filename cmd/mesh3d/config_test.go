package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/mesh3d/internal/manager"
	"github.com/gogpu/mesh3d/rf"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 1024 || cfg.Height != 1024 || !cfg.GPU || cfg.Output != "coverage.png" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.imagery != manager.ImagerySatellite || cfg.model != rf.ModelFSPL || cfg.overlay != rf.OverlaySignal {
		t.Errorf("enums = %v %v %v", cfg.imagery, cfg.model, cfg.overlay)
	}
	if cfg.level != slog.LevelInfo {
		t.Errorf("level = %v", cfg.level)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mesh3d.yaml")
	yaml := "model: fresnel\noverlay: viewshed\nwidth: 300\nlog-level: warn\n"
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESH3D_MODEL", "itm")
	t.Setenv("MESH3D_CACHE_DIR", dir)

	cfg, err := loadConfig([]string{"--config", file, "--overlay", "link_margin", "--gpu=false",
		"--nodes", "a:38.5:-106.5,b:38.6:-106.4:12"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.overlay != rf.OverlayLinkMargin {
		t.Errorf("flag should win: overlay = %v", cfg.overlay)
	}
	if cfg.model != rf.ModelITM {
		t.Errorf("env should beat file: model = %v", cfg.model)
	}
	if cfg.Width != 300 || cfg.level != slog.LevelWarn {
		t.Errorf("file values: width %d level %v", cfg.Width, cfg.level)
	}
	if cfg.CacheDir != dir || cfg.GPU {
		t.Errorf("cache dir %q gpu %v", cfg.CacheDir, cfg.GPU)
	}
	if len(cfg.Nodes) != 2 || cfg.Nodes[1] != "b:38.6:-106.4:12" {
		t.Errorf("nodes = %q", cfg.Nodes)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for _, args := range [][]string{
		{"--model", "okumura"},
		{"--imagery", "topo"},
		{"--log-level", "loud"},
		{"--width", "0"},
	} {
		if _, err := loadConfig(args); err == nil {
			t.Errorf("%v accepted", args)
		}
	}
}

func TestParseNode(t *testing.T) {
	n, err := parseNode("summit:38.84:-105.04:10:station_g2:backbone")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := rf.ProfileByID("station_g2")
	if n.Name != "summit" || n.Lat != 38.84 || n.Lon != -105.04 || n.AntennaHeightM != 10 {
		t.Errorf("position = %+v", n)
	}
	if n.TxPowerDbm != p.TxPowerDbm || n.Role != rf.RoleBackbone {
		t.Errorf("profile/role = %v %v", n.TxPowerDbm, n.Role)
	}

	n, err = parseNode("valley:38:-106")
	if err != nil || n.Role != rf.RoleRelay || n.AntennaHeightM != 0 {
		t.Errorf("minimal node = %+v, %v", n, err)
	}

	for _, bad := range []string{"x:1", "x:north:1", "x:1:2:tall", "x:1:2:3:nosuch"} {
		if _, err := parseNode(bad); err == nil {
			t.Errorf("parseNode(%q) accepted", bad)
		}
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	l, closeFn := newLogger(Config{LogFormat: "json", level: slog.LevelDebug}, &buf)
	l.Debug("hello", "k", 1)
	closeFn()
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	logFile := filepath.Join(t.TempDir(), "mesh3d.log")
	l, closeFn = newLogger(Config{LogFormat: "text", LogFile: logFile, level: slog.LevelInfo}, &buf)
	l.Info("rotated")
	l.Debug("hidden")
	closeFn()
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=rotated") || strings.Contains(buf.String(), "hidden") {
		t.Errorf("file %q, stderr %q", data, buf.String())
	}
}
