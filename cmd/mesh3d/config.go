package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gogpu/mesh3d/internal/manager"
	"github.com/gogpu/mesh3d/rf"
)

// EnvPrefix prefixes every environment variable the command reads.
const EnvPrefix = "MESH3D"

// Config is the command configuration. Values come from flags, then
// MESH3D_* environment variables, then the optional config file.
type Config struct {
	Lat    float64 `mapstructure:"lat"`
	Lon    float64 `mapstructure:"lon"`
	Width  int     `mapstructure:"width"`
	Height int     `mapstructure:"height"`

	CacheDir string `mapstructure:"cache-dir"`
	DSMDir   string `mapstructure:"dsm-dir"`
	Imagery  string `mapstructure:"imagery"`
	Model    string `mapstructure:"model"`
	Overlay  string `mapstructure:"overlay"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`

	RedisAddr     string `mapstructure:"redis-addr"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`
	MetricsAddr   string `mapstructure:"metrics-addr"`

	DB      string `mapstructure:"db"`
	Project int    `mapstructure:"project"`

	Output    string   `mapstructure:"output"`
	Frames    int      `mapstructure:"frames"`
	ShaderDir string   `mapstructure:"shader-dir"`
	Nodes     []string `mapstructure:"nodes"`
	GPU       bool     `mapstructure:"gpu"`

	imagery manager.ImagerySource
	model   rf.PropagationModel
	overlay rf.OverlayMode
	level   slog.Level
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mesh3d", pflag.ContinueOnError)
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.Float64("lat", 38.8409, "camera latitude")
	fs.Float64("lon", -105.0423, "camera longitude")
	fs.Int("width", 1024, "output width in pixels")
	fs.Int("height", 1024, "output height in pixels")
	fs.String("cache-dir", "", "tile cache root (default $MESH3D_CACHE_DIR or the user cache dir)")
	fs.String("dsm-dir", "", "directory of GeoTIFF surface models; streams DSM instead of SRTM")
	fs.String("imagery", "satellite", "base imagery: satellite, street or none")
	fs.String("model", "fspl", "propagation model: fspl, itm or fresnel")
	fs.String("overlay", "signal", "overlay: none, viewshed, signal or link_margin")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "text", "text or json")
	fs.String("log-file", "", "also write logs to this rotated file")
	fs.String("redis-addr", "", "shared tile cache, host:port")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("db", "", `PostgreSQL DSN, or "env" to build it from PG_* variables`)
	fs.Int("project", 0, "project id to load from the database")
	fs.String("output", "coverage.png", "PNG output path")
	fs.Int("frames", 0, "run this many frames instead of waiting for tiles to settle")
	fs.String("shader-dir", "", "load compute shaders from this directory")
	fs.StringSlice("nodes", nil, "nodes as name:lat:lon[:antenna_m[:profile[:role]]]")
	fs.Bool("gpu", true, "use the GPU propagation engine when available")
	return fs
}

func loadConfig(args []string) (Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.resolve()
}

func (c *Config) resolve() error {
	var err error
	if c.imagery, err = manager.ParseImagerySource(c.Imagery); err != nil {
		return err
	}
	if c.model, err = rf.ParseModel(c.Model); err != nil {
		return err
	}
	if c.overlay, err = rf.ParseOverlay(c.Overlay); err != nil {
		return err
	}
	if err := c.level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("output size %dx%d", c.Width, c.Height)
	}
	return nil
}

// parseNode reads name:lat:lon[:antenna_m[:profile[:role]]].
func parseNode(s string) (rf.Node, error) {
	f := strings.Split(strings.TrimSpace(s), ":")
	if len(f) < 3 {
		return rf.Node{}, fmt.Errorf("node %q: want name:lat:lon", s)
	}
	n := rf.Node{Name: f[0], Role: rf.RoleRelay}
	var err error
	if n.Lat, err = strconv.ParseFloat(f[1], 64); err != nil {
		return rf.Node{}, fmt.Errorf("node %q latitude: %w", s, err)
	}
	if n.Lon, err = strconv.ParseFloat(f[2], 64); err != nil {
		return rf.Node{}, fmt.Errorf("node %q longitude: %w", s, err)
	}
	if len(f) > 3 && f[3] != "" {
		if n.AntennaHeightM, err = strconv.ParseFloat(f[3], 64); err != nil {
			return rf.Node{}, fmt.Errorf("node %q antenna height: %w", s, err)
		}
	}
	if len(f) > 4 && f[4] != "" {
		p, ok := rf.ProfileByID(f[4])
		if !ok {
			return rf.Node{}, fmt.Errorf("node %q: unknown hardware profile %q", s, f[4])
		}
		n = p.Apply(n)
	}
	if len(f) > 5 && f[5] != "" {
		n.Role = rf.ParseRole(f[5])
	}
	return n, nil
}
