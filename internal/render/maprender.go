package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/mesh3d/geo"
	"github.com/gogpu/mesh3d/internal/terrain"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// Background fills map pixels not covered by any tile.
var Background = color.RGBA{R: 24, G: 26, B: 30, A: 255}

// MarkerRadius is the node marker radius in pixels.
const MarkerRadius = 5

// MapRenderer draws resident tiles top-down into an image, north up, with
// the coverage overlay, node markers and labels.
type MapRenderer struct {
	Width, Height int
	Mode          rf.OverlayMode
	Config        rf.Config
	// Labels draws node names next to the markers.
	Labels bool

	canvas *Canvas
}

// NewMapRenderer creates a renderer producing w x h images.
func NewMapRenderer(w, h int) *MapRenderer {
	return &MapRenderer{
		Width:  w,
		Height: h,
		Mode:   rf.OverlaySignal,
		Config: rf.DefaultConfig(),
		Labels: true,
	}
}

// Render draws the tiles of src that fall inside view plus the node
// markers. The returned image is reused by the next call.
func (m *MapRenderer) Render(view tile.Bounds, src TileSource, nodes []rf.Node) *image.RGBA {
	if m.canvas == nil || m.canvas.Base().Bounds().Dx() != m.Width || m.canvas.Base().Bounds().Dy() != m.Height {
		m.canvas = NewCanvas(m.Width, m.Height)
	}
	c := m.canvas
	c.Clear(Background)
	if !view.Valid() {
		return c.Composite()
	}

	if src != nil {
		src(func(t Tile) {
			if !t.Bounds.Intersects(view) {
				return
			}
			img := m.tileImage(t)
			if img == nil {
				return
			}
			dr := m.rect(view, t.Bounds)
			if dr.Empty() {
				return
			}
			draw.BiLinear.Scale(c.Base(), dr, img, img.Bounds(), draw.Src, nil)
		})
	}

	markers := c.Layer(LayerMarkers)
	labels := c.Layer(LayerLabels)
	c.SetLayerVisible(LayerLabels, m.Labels)
	for i, n := range nodes {
		x, y := m.point(view, n.Lat, n.Lon)
		disc(markers, x, y, MarkerRadius+1, color.RGBA{A: 255})
		disc(markers, x, y, MarkerRadius, RoleColor(n.Role))
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		label(labels, x+MarkerRadius+3, y+4, name)
	}
	return c.Composite()
}

// rect maps b to output pixels for the given view.
func (m *MapRenderer) rect(view, b tile.Bounds) image.Rectangle {
	x0, y0 := m.point(view, b.MaxLat, b.MinLon)
	x1, y1 := m.point(view, b.MinLat, b.MaxLon)
	return image.Rect(x0, y0, x1, y1)
}

func (m *MapRenderer) point(view tile.Bounds, lat, lon float64) (int, int) {
	x := (lon - view.MinLon) / view.LonSpan() * float64(m.Width)
	y := (view.MaxLat - lat) / view.LatSpan() * float64(m.Height)
	return int(math.Round(x)), int(math.Round(y))
}

// tileImage shades one tile at the resolution of its base: imagery when
// present, otherwise a hillshade of the elevation grid.
func (m *MapRenderer) tileImage(t Tile) *image.RGBA {
	var img *image.RGBA
	switch {
	case t.Base != nil && t.Base.Width > 0 && len(t.Base.Pixels) == t.Base.Width*t.Base.Height*4:
		img = image.NewRGBA(image.Rect(0, 0, t.Base.Width, t.Base.Height))
		copy(img.Pix, t.Base.Pixels)
	case t.Rows >= 2 && t.Cols >= 2 && len(t.Elevation) == t.Rows*t.Cols:
		cell := float32(geo.CellSizeMeters(t.Bounds, t.Rows, t.Cols))
		hs := terrain.Hillshade(t.Elevation, t.Rows, t.Cols, cell)
		img = image.NewRGBA(image.Rect(0, 0, t.Cols, t.Rows))
		for i, h := range hs {
			img.SetRGBA(i%t.Cols, i/t.Cols, scale(Terrain, 0.35+0.65*float64(h)))
		}
	default:
		return nil
	}

	o := t.Overlay
	if o == nil || m.Mode == rf.OverlayNone || o.Rows < 1 || o.Cols < 1 {
		return img
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := range h {
		r := cellIndex(y, h, o.Rows)
		for x := range w {
			c := cellIndex(x, w, o.Cols)
			img.SetRGBA(x, y, Shade(m.Mode, img.RGBAAt(x, y), o.VisibleAt(r, c), o.SignalAt(r, c), m.Config))
		}
	}
	return img
}

// cellIndex maps pixel p of n onto the nearest of cells grid posts spanning
// the same extent.
func cellIndex(p, n, cells int) int {
	if n <= 1 || cells <= 1 {
		return 0
	}
	v := (float64(p) + 0.5) / float64(n)
	return min(max(int(math.Round(v*float64(cells-1))), 0), cells-1)
}

func disc(dst *image.RGBA, cx, cy, r int, col color.RGBA) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= r*r && image.Pt(x, y).In(dst.Rect) {
				dst.SetRGBA(x, y, col)
			}
		}
	}
}

func label(dst *image.RGBA, x, y int, s string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x+1, y+1),
	}
	d.DrawString(s)
	d.Src = image.NewUniform(color.White)
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("render: encode png: %w", err)
	}
	return nil
}

// SavePNG writes img to path.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := EncodePNG(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
