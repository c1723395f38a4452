// Package mesh3d streams terrain tiles around a camera and computes radio
// coverage for a mesh network over them.
//
// # Overview
//
// An App combines two subsystems:
//
//   - a tile streaming engine: a background loader goroutine fetches SRTM
//     (HGT) tiles, local GeoTIFF surface models or a caller-supplied grid,
//     composites slippy-map imagery for each tile and keeps the tiles
//     around the camera resident in an LRU cache of GPU meshes and
//     textures.
//   - a propagation engine: for every resident tile, a composite of the
//     tile and its neighbours is evaluated per node and pixel with free
//     space, Longley-Rice (ITM) or Fresnel-Kirchhoff path loss. Results are
//     merged into best signal, any-visible and overlap count, and uploaded
//     as overlay textures.
//
// The propagation engine runs WGSL compute kernels through gogpu/wgpu when
// a device is available and falls back to an identical CPU engine
// otherwise.
//
// # Quick Start
//
//	app := mesh3d.New(mesh3d.Options{GPU: true, AutoRecompute: true})
//	if err := app.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	app.SetHGTMode(38.84, -105.04)
//	app.AddNode(rf.Node{Name: "summit", Lat: 38.84, Lon: -105.04, AntennaHeightM: 10})
//
//	for running {
//	    app.SetCameraTarget(camLat, camLon)
//	    app.Frame(dt)
//	    app.Render(drawTile)
//	}
//
// Frame never blocks on the network or the GPU. Recomputes started with
// RecomputeViewshed advance one tile per completed dispatch.
//
// # Headless use
//
// Settle runs frames until the requested tiles are loaded, WaitViewshed
// drives a recompute to completion and RenderMap draws a top-down image
// of terrain, coverage and nodes. The mesh3d command uses these to render
// coverage maps to PNG.
//
// # Threading
//
// An App belongs to one goroutine. Only the loader worker runs beside it,
// and it never touches GPU resources.
//
// # Logging
//
// mesh3d is silent by default. See SetLogger, and RingHandler for an
// on-screen log.
package mesh3d
