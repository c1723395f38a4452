// Command mesh3d renders a radio coverage map for a set of mesh nodes.
//
// It streams terrain around the given position (SRTM, a directory of
// GeoTIFF surface models, or a project stored in PostgreSQL), computes
// coverage for every node on the GPU or CPU and writes a top-down PNG of
// terrain, coverage and nodes.
//
//	mesh3d --lat 38.84 --lon -105.04 --nodes summit:38.84:-105.04:10:station_g2:backbone
//	mesh3d --db env --project 3 --model itm --overlay link_margin
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gogpu/mesh3d"
	"github.com/gogpu/mesh3d/internal/diskcache"
	"github.com/gogpu/mesh3d/internal/gpu"
	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/internal/render"
	"github.com/gogpu/mesh3d/internal/store"
)

const (
	settleTimeout  = 2 * time.Minute
	computeTimeout = 5 * time.Minute
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "mesh3d:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	l, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()
	mesh3d.SetLogger(l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(l, cfg.MetricsAddr)
	}

	opts := mesh3d.Options{
		GPU:      cfg.GPU,
		CacheDir: cfg.CacheDir,
		DSMDir:   cfg.DSMDir,
		Imagery:  cfg.imagery,
		Model:    cfg.model,
		Overlay:  cfg.overlay,
		RedisTTL: 7 * 24 * time.Hour,
		Logger:   l,
	}
	if cfg.ShaderDir != "" {
		opts.ShaderFS = gpu.ShaderDir(cfg.ShaderDir)
	}
	if cfg.RedisAddr != "" {
		rc, err := diskcache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			l.Warn("redis unavailable, using disk cache only", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer rc.Close()
			opts.Redis = rc
		}
	}

	app := mesh3d.New(opts)
	if err := app.Init(); err != nil {
		return err
	}
	defer app.Shutdown()

	if err := selectTerrain(ctx, app, cfg); err != nil {
		return err
	}
	for _, s := range cfg.Nodes {
		n, err := parseNode(s)
		if err != nil {
			return err
		}
		app.AddNode(n)
	}

	if err := waitTiles(ctx, app, cfg.Frames); err != nil {
		return err
	}
	if !app.HasTerrain() {
		return errors.New("no terrain loaded")
	}
	if len(app.Nodes()) > 0 {
		start := time.Now()
		app.RecomputeViewshed()
		cctx, cancel := context.WithTimeout(ctx, computeTimeout)
		defer cancel()
		if err := app.WaitViewshed(cctx); err != nil {
			return fmt.Errorf("coverage: %w", err)
		}
		l.Info("coverage computed", "engine", app.EngineName(), "nodes", len(app.Nodes()),
			"ms", time.Since(start).Milliseconds())
	}

	img := app.RenderMap(cfg.Width, cfg.Height)
	if err := render.SavePNG(cfg.Output, img); err != nil {
		return err
	}
	l.Info("map written", "path", cfg.Output, "width", cfg.Width, "height", cfg.Height)
	return nil
}

func selectTerrain(ctx context.Context, app *mesh3d.App, cfg Config) error {
	switch {
	case cfg.DB != "":
		dsn := cfg.DB
		if dsn == "env" {
			dsn = store.DSNFromEnv()
		}
		s, err := store.Open(dsn)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Ping(ctx); err != nil {
			return err
		}
		_, err = app.LoadProject(ctx, s, cfg.Project)
		return err
	case cfg.DSMDir != "":
		return app.SetDSMDir(cfg.DSMDir)
	default:
		return app.SetHGTMode(cfg.Lat, cfg.Lon)
	}
}

func waitTiles(ctx context.Context, app *mesh3d.App, frames int) error {
	if frames > 0 {
		for range frames {
			if err := ctx.Err(); err != nil {
				return err
			}
			app.Frame(mesh3d.FrameInterval)
			time.Sleep(mesh3d.FrameInterval)
		}
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := app.Settle(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// newLogger writes to w and, with a log file configured, to a rotated
// file as well.
func newLogger(cfg Config, w io.Writer) (*slog.Logger, func()) {
	closeFn := func() {}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(w, lj)
		closeFn = func() { _ = lj.Close() }
	}
	hopts := &slog.HandlerOptions{Level: cfg.level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h), closeFn
}

func serveMetrics(l *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	l.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("metrics server", "err", err)
	}
}
