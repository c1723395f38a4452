package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/gogpu/mesh3d/internal/diskcache"
	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/tile"
)

// ImageryConfig describes a slippy-map imagery source.
type ImageryConfig struct {
	Name        string
	URLTemplate string // {z}, {x} and {y} are substituted
	Ext         string
	MinZoom     int
	MaxZoom     int
	UserAgent   string
}

// SatelliteConfig is Esri World Imagery.
func SatelliteConfig() ImageryConfig {
	return ImageryConfig{
		Name:        "esri_satellite",
		URLTemplate: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
		Ext:         "jpg",
		MinZoom:     0,
		MaxZoom:     18,
	}
}

// StreetConfig is the OpenStreetMap standard layer.
func StreetConfig() ImageryConfig {
	return ImageryConfig{
		Name:        "osm",
		URLTemplate: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Ext:         "png",
		MinZoom:     0,
		MaxZoom:     19,
		UserAgent:   "mesh3d/0.1 (tile viewer)",
	}
}

// decodedCacheCost bounds the memo of decoded tiles, in bytes.
const decodedCacheCost = 256 << 20

// Imagery fetches RGBA tiles from a URL template. Raw bytes are persisted
// in the store and decoded tiles are memoised in memory.
type Imagery struct {
	cfg    ImageryConfig
	store  diskcache.Store
	client *http.Client
	memo   *ristretto.Cache[string, *tile.Data]
}

var _ Provider = (*Imagery)(nil)

// NewImagery builds an imagery provider.
func NewImagery(cfg ImageryConfig, store diskcache.Store) (*Imagery, error) {
	memo, err := ristretto.NewCache(&ristretto.Config[string, *tile.Data]{
		NumCounters: 10000,
		MaxCost:     decodedCacheCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: imagery memo: %w", err)
	}
	return &Imagery{
		cfg:    cfg,
		store:  store,
		client: newHTTPClient(10*time.Second, 15*time.Second),
		memo:   memo,
	}, nil
}

func (p *Imagery) Name() string { return p.cfg.Name }
func (p *Imagery) MinZoom() int { return p.cfg.MinZoom }
func (p *Imagery) MaxZoom() int { return p.cfg.MaxZoom }

func (p *Imagery) Coverage() tile.Bounds {
	return tile.Bounds{MinLat: -85.05, MaxLat: 85.05, MinLon: -180, MaxLon: 180}
}

func (p *Imagery) TilesInBounds(b tile.Bounds, zoom int) []tile.Coord {
	return tile.TilesInBounds(b, zoom)
}

// URL expands the template for c.
func (p *Imagery) URL(c tile.Coord) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	).Replace(p.cfg.URLTemplate)
}

// CacheKey returns the store key for c.
func (p *Imagery) CacheKey(c tile.Coord) string {
	return fmt.Sprintf("%s/%d/%d/%d.%s", p.cfg.Name, c.Z, c.X, c.Y, p.cfg.Ext)
}

func (p *Imagery) FetchTile(ctx context.Context, c tile.Coord) (*tile.Data, error) {
	key := p.CacheKey(c)
	if td, ok := p.memo.Get(key); ok {
		return td, nil
	}

	var raw []byte
	if p.store != nil && p.store.Has(key) {
		raw = p.store.Read(key)
		if raw != nil {
			metrics.CacheHits.WithLabelValues(p.cfg.Name).Inc()
		}
	}
	if raw == nil {
		url := p.URL(c)
		logging.L().Debug("imagery: downloading", "url", url)
		var err error
		raw, err = download(ctx, p.client, url, p.cfg.UserAgent)
		if err != nil {
			logging.L().Warn("imagery: download failed", "url", url, "err", err)
			return nil, err
		}
		if p.store != nil {
			p.store.Write(key, raw)
		}
	}

	td, err := decodeImagery(raw)
	if err != nil {
		logging.L().Warn("imagery: decode failed", "key", key, "err", err)
		return nil, err
	}
	td.Coord = c
	td.Bounds = tile.TileBounds(c)
	p.memo.SetWithTTL(key, td, int64(len(td.Imagery)), 10*time.Minute)
	return td, nil
}

// Close releases the in-memory memo.
func (p *Imagery) Close() { p.memo.Close() }

func decodeImagery(raw []byte) (*tile.Data, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &tile.Data{Imagery: rgba.Pix, Width: b.Dx(), Height: b.Dy()}, nil
}
