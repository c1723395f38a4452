package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/mesh3d/internal/terrain"
)

// Texture is a sampled 2D texture. The CPU copy of the pixels is kept so
// that software renderers and CPU-only devices can draw it.
type Texture struct {
	Width, Height int
	Format        gputypes.TextureFormat
	// Pixels holds the uploaded texel bytes, tightly packed.
	Pixels []byte

	dev  *Device
	tex  hal.Texture
	view hal.TextureView
}

func bytesPerTexel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 4
	}
}

// NewTexture uploads w x h texels of format f. With an unavailable device
// the texture is CPU-only.
func (d *Device) NewTexture(label string, w, h int, f gputypes.TextureFormat, data []byte) (*Texture, error) {
	if w <= 0 || h <= 0 || len(data) < w*h*bytesPerTexel(f) {
		return nil, fmt.Errorf("gpu: texture %s: %d bytes for %dx%d", label, len(data), w, h)
	}
	t := &Texture{Width: w, Height: h, Format: f, Pixels: data[:w*h*bytesPerTexel(f)]}
	if !d.Available() {
		return t, nil
	}
	size := hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1} //nolint:gosec // texture sizes fit uint32
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        f,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create texture %s: %w", label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        f,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, fmt.Errorf("gpu: create texture view %s: %w", label, err)
	}
	d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: tex, MipLevel: 0},
		t.Pixels,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(w * bytesPerTexel(f)), //nolint:gosec // row size fits uint32
			RowsPerImage: uint32(h),                    //nolint:gosec // texture sizes fit uint32
		},
		&size,
	)
	t.dev, t.tex, t.view = d, tex, view
	return t, nil
}

// NewRGBA uploads an RGBA8 image.
func (d *Device) NewRGBA(label string, w, h int, rgba []byte) (*Texture, error) {
	return d.NewTexture(label, w, h, gputypes.TextureFormatRGBA8Unorm, rgba)
}

// View returns the GPU view, nil for CPU-only textures.
func (t *Texture) View() hal.TextureView {
	if t == nil {
		return nil
	}
	return t.view
}

// OnGPU reports whether the texture has a device-side copy.
func (t *Texture) OnGPU() bool { return t != nil && t.tex != nil }

// Destroy releases the GPU texture. The CPU pixels remain readable.
func (t *Texture) Destroy() {
	if t == nil || t.dev == nil || !t.dev.Available() {
		return
	}
	if t.view != nil {
		t.dev.device.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.tex != nil {
		t.dev.device.DestroyTexture(t.tex)
		t.tex = nil
	}
}

// Overlay is a coverage result as a pair of textures: R8 visibility with
// visible cells at 255 and R32F signal in dBm.
type Overlay struct {
	Rows, Cols int
	Visibility *Texture
	Signal     *Texture
}

// NewOverlay uploads a visibility/signal pair. Visibility is 0 or 1 per
// cell and is scaled to 0 or 255.
func (d *Device) NewOverlay(vis []uint8, sig []float32, rows, cols int) (*Overlay, error) {
	n := rows * cols
	if rows <= 0 || cols <= 0 || len(vis) < n || len(sig) < n {
		return nil, fmt.Errorf("gpu: overlay %dx%d: short input", rows, cols)
	}
	scaled := make([]byte, n)
	for i, v := range vis[:n] {
		if v != 0 {
			scaled[i] = 255
		}
	}
	signal := make([]byte, n*4)
	for i, s := range sig[:n] {
		binary.LittleEndian.PutUint32(signal[i*4:], math.Float32bits(s))
	}
	vt, err := d.NewTexture("overlay_visibility", cols, rows, gputypes.TextureFormatR8Unorm, scaled)
	if err != nil {
		return nil, err
	}
	st, err := d.NewTexture("overlay_signal", cols, rows, gputypes.TextureFormatR32Float, signal)
	if err != nil {
		vt.Destroy()
		return nil, err
	}
	return &Overlay{Rows: rows, Cols: cols, Visibility: vt, Signal: st}, nil
}

// VisibleAt reports the visibility texel at (r, c).
func (o *Overlay) VisibleAt(r, c int) bool {
	return o.Visibility.Pixels[r*o.Cols+c] != 0
}

// SignalAt returns the signal texel at (r, c) in dBm.
func (o *Overlay) SignalAt(r, c int) float32 {
	i := (r*o.Cols + c) * 4
	return math.Float32frombits(binary.LittleEndian.Uint32(o.Signal.Pixels[i:]))
}

// Destroy releases both textures.
func (o *Overlay) Destroy() {
	if o == nil {
		return
	}
	o.Visibility.Destroy()
	o.Signal.Destroy()
}

// Mesh is terrain geometry in vertex and index buffers. The CPU mesh is
// retained.
type Mesh struct {
	CPU *terrain.Mesh

	dev      *Device
	vertices hal.Buffer
	indices  hal.Buffer
}

// NewMesh uploads m. With an unavailable device the mesh is CPU-only.
func (d *Device) NewMesh(label string, m *terrain.Mesh) (*Mesh, error) {
	if m == nil || len(m.Vertices) == 0 || len(m.Indices) == 0 {
		return nil, fmt.Errorf("gpu: mesh %s: empty geometry", label)
	}
	out := &Mesh{CPU: m}
	if !d.Available() {
		return out, nil
	}
	vbytes := make([]byte, len(m.Vertices)*4)
	for i, v := range m.Vertices {
		binary.LittleEndian.PutUint32(vbytes[i*4:], math.Float32bits(v))
	}
	ibytes := make([]byte, len(m.Indices)*4)
	for i, v := range m.Indices {
		binary.LittleEndian.PutUint32(ibytes[i*4:], v)
	}
	vb, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_vertices", Size: uint64(len(vbytes)),
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create vertex buffer: %w", err)
	}
	ib, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_indices", Size: uint64(len(ibytes)),
		Usage: gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.device.DestroyBuffer(vb)
		return nil, fmt.Errorf("gpu: create index buffer: %w", err)
	}
	d.queue.WriteBuffer(vb, 0, vbytes)
	d.queue.WriteBuffer(ib, 0, ibytes)
	out.dev, out.vertices, out.indices = d, vb, ib
	return out, nil
}

// Buffers returns the vertex and index buffers, nil when CPU-only.
func (m *Mesh) Buffers() (vertices, indices hal.Buffer) {
	if m == nil {
		return nil, nil
	}
	return m.vertices, m.indices
}

// IndexCount returns the number of indices to draw.
func (m *Mesh) IndexCount() int {
	if m == nil || m.CPU == nil {
		return 0
	}
	return len(m.CPU.Indices)
}

// Destroy releases the GPU buffers.
func (m *Mesh) Destroy() {
	if m == nil || m.dev == nil || !m.dev.Available() {
		return
	}
	if m.vertices != nil {
		m.dev.device.DestroyBuffer(m.vertices)
		m.vertices = nil
	}
	if m.indices != nil {
		m.dev.device.DestroyBuffer(m.indices)
		m.indices = nil
	}
}
