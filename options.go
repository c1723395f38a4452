package mesh3d

import (
	"io/fs"
	"log/slog"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/redis/go-redis/v9"

	"github.com/gogpu/mesh3d/internal/manager"
	"github.com/gogpu/mesh3d/rf"
)

// ImagerySource selects the base imagery drawn on terrain.
type ImagerySource = manager.ImagerySource

const (
	ImagerySatellite = manager.ImagerySatellite
	ImageryStreet    = manager.ImageryStreet
	ImageryNone      = manager.ImageryNone
)

// DefaultCacheCapacity is the number of resident tiles when Options leaves
// it unset.
const DefaultCacheCapacity = 64

// DefaultRecomputeDelay is how long the resident tile set must stay
// unchanged before an automatic recompute starts.
const DefaultRecomputeDelay = 500 * time.Millisecond

// Options configures an App. The zero value runs on the CPU with
// satellite imagery and the receiver defaults of rf.DefaultConfig.
type Options struct {
	// GPU opens a Vulkan device. Without one the CPU engine is used.
	GPU bool
	// DeviceProvider shares the host's device instead of opening one.
	// It takes precedence over GPU.
	DeviceProvider gpucontext.DeviceProvider
	// ShaderFS overrides the embedded compute shaders.
	ShaderFS fs.FS

	// CacheDir is the disk cache root. Empty uses $MESH3D_CACHE_DIR or the
	// user cache directory.
	CacheDir string
	// Redis adds a shared tier behind the disk cache.
	Redis    redis.UniversalClient
	RedisTTL time.Duration
	// HGTBaseURL overrides the SRTM tile server.
	HGTBaseURL string
	// DSMDir is scanned for GeoTIFF surface models.
	DSMDir string

	CacheCapacity  int
	ElevationScale float32
	Imagery        ImagerySource
	RenderMode     rf.RenderMode

	Model   rf.PropagationModel
	Overlay rf.OverlayMode
	// RF and ITM fall back to their defaults when zero.
	RF  rf.Config
	ITM rf.ITMParams

	// AutoRecompute kicks a viewshed recompute once the resident tiles or
	// the nodes change and have been stable for RecomputeDelay.
	AutoRecompute  bool
	RecomputeDelay time.Duration

	// Logger is installed with SetLogger during Init.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	if o.ElevationScale == 0 {
		o.ElevationScale = 1
	}
	if o.RF == (rf.Config{}) {
		o.RF = rf.DefaultConfig()
	}
	if o.ITM == (rf.ITMParams{}) {
		o.ITM = rf.DefaultITMParams()
	}
	if o.RecomputeDelay <= 0 {
		o.RecomputeDelay = DefaultRecomputeDelay
	}
	return o
}
