// Package gpu runs the propagation kernels and holds the GPU resources of
// resident tiles.
//
// It talks to the device through the gogpu/wgpu HAL (zero CGO). A Device is
// either opened here (Vulkan) or borrowed from the host through a
// gpucontext.DeviceProvider. A nil *Device is valid everywhere and keeps
// textures and meshes on the CPU, which is what the tile manager does when
// no GPU is available.
//
// # Propagation engine
//
// Engine evaluates one path-loss model per dispatch:
//
//   - viewshed_fspl.wgsl: line of sight plus free-space path loss
//   - itm.wgsl: simplified Longley-Rice with worst-obstruction knife edge
//   - fresnel.wgsl: free-space loss plus Deygout multiple knife edge
//
// and merges each node into three accumulators with merge.wgsl: best signal
// in dBm, any-visible and overlap count. Work is split into row bands so
// that no single submission runs long. In the asynchronous path one band is
// in flight at a time behind a fence, and PollState tests the fence without
// waiting:
//
//	Idle -> Dispatched -> (band done, more bands) -> Dispatched ... -> Ready
//
// ReadBackAsync copies the accumulators out and returns the engine to Idle.
//
// # Shaders
//
// The kernels are embedded. NewEngine accepts any fs.FS instead, so a
// shader directory can be iterated on without rebuilding. FSPL and merge
// are required; ITM and Fresnel are dropped with a warning when missing and
// SetPropagationModel then keeps the previous model.
//
// # Thread Safety
//
// Nothing in this package is safe for concurrent use. Every call belongs to
// the goroutine that owns the device.
package gpu
