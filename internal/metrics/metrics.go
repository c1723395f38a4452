// Package metrics exposes Prometheus collectors for tile streaming and
// coverage computation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoaderRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh3d_loader_requests_total",
		Help: "Tile requests accepted by the async loader",
	})
	LoaderResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mesh3d_loader_results_total",
		Help: "Loader fetch outcomes by provider and status",
	}, []string{"provider", "status"})
	LoaderFetchMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mesh3d_loader_fetch_ms",
		Help:    "Provider fetch duration in milliseconds",
		Buckets: []float64{1, 5, 20, 50, 100, 250, 500, 1000, 5000, 20000},
	}, []string{"provider"})
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mesh3d_disk_cache_hits_total",
		Help: "Persistent tile cache hits by provider",
	}, []string{"provider"})
	TilesResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mesh3d_tiles_resident",
		Help: "Tiles currently held by the GPU tile cache",
	})
	TileEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh3d_tile_evictions_total",
		Help: "Tiles evicted from the GPU tile cache",
	})
	ViewshedTiles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh3d_viewshed_tiles_total",
		Help: "Tiles that received a coverage overlay",
	})
	ViewshedChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mesh3d_viewshed_chunks_total",
		Help: "Compute chunks submitted by engine",
	}, []string{"engine"})
	ViewshedDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mesh3d_viewshed_duration_ms",
		Help:    "Wall time of one tile coverage computation in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"engine"})
)

func init() {
	prometheus.MustRegister(LoaderRequests)
	prometheus.MustRegister(LoaderResults)
	prometheus.MustRegister(LoaderFetchMs)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(TilesResident)
	prometheus.MustRegister(TileEvictions)
	prometheus.MustRegister(ViewshedTiles)
	prometheus.MustRegister(ViewshedChunks)
	prometheus.MustRegister(ViewshedDurationMs)
}

// Handler serves the registered collectors.
func Handler() http.Handler { return promhttp.Handler() }
