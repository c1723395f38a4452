package manager

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/internal/provider"
	"github.com/gogpu/mesh3d/tile"
)

// ImagerySource selects the base imagery drawn on terrain.
type ImagerySource int

const (
	ImagerySatellite ImagerySource = iota
	ImageryStreet
	ImageryNone
)

func (s ImagerySource) String() string {
	switch s {
	case ImagerySatellite:
		return "satellite"
	case ImageryStreet:
		return "street"
	case ImageryNone:
		return "none"
	}
	return fmt.Sprintf("ImagerySource(%d)", int(s))
}

// ParseImagerySource maps a name to a source.
func ParseImagerySource(s string) (ImagerySource, error) {
	switch s {
	case "satellite":
		return ImagerySatellite, nil
	case "street":
		return ImageryStreet, nil
	case "none", "":
		return ImageryNone, nil
	}
	return ImageryNone, fmt.Errorf("manager: unknown imagery source %q", s)
}

const (
	// PreferredZoom is the first imagery zoom tried for a tile.
	PreferredZoom = 13
	// MaxCompositeTiles bounds the composite to this many tiles per axis.
	MaxCompositeTiles = 16
	// TilePixels is the edge of one slippy imagery tile.
	TilePixels = 256
)

// CompositeZoom returns the largest zoom not above preferred at which b
// spans at most MaxCompositeTiles tiles per axis, with the tile range.
// ok is false when no zoom qualifies.
func CompositeZoom(b tile.Bounds, preferred int) (zoom, minX, minY, maxX, maxY int, ok bool) {
	for zoom = preferred; zoom >= 0; zoom-- {
		minX, minY, maxX, maxY = tile.BoundsToTileRange(b, zoom)
		if maxX-minX+1 <= MaxCompositeTiles && maxY-minY+1 <= MaxCompositeTiles {
			return zoom, minX, minY, maxX, maxY, true
		}
	}
	return 0, 0, 0, 0, 0, false
}

// CropRect returns the pixel rectangle of b inside a composite whose
// top-left tile is (minX, minY) at zoom, rounded to the nearest pixel.
func CropRect(b tile.Bounds, zoom, minX, minY int) image.Rectangle {
	px := func(f float64) int { return int(math.Round(f * TilePixels)) }
	return image.Rect(
		px(tile.LonToTileXFrac(b.MinLon, zoom)-float64(minX)),
		px(tile.LatToTileYFrac(b.MaxLat, zoom)-float64(minY)),
		px(tile.LonToTileXFrac(b.MaxLon, zoom)-float64(minX)),
		px(tile.LatToTileYFrac(b.MinLat, zoom)-float64(minY)),
	)
}

// tileImage wraps an RGBA tile without copying.
func tileImage(td *tile.Data) *image.RGBA {
	return &image.RGBA{Pix: td.Imagery, Stride: td.Width * 4, Rect: image.Rect(0, 0, td.Width, td.Height)}
}

// Composite assembles the imagery covering b from p and crops it to b.
// It returns nil when no imagery tile could be fetched.
func Composite(ctx context.Context, p provider.Provider, b tile.Bounds, preferred int) *image.RGBA {
	if p == nil || !b.Valid() {
		return nil
	}
	zoom, minX, minY, maxX, maxY, ok := CompositeZoom(b, min(preferred, p.MaxZoom()))
	if !ok {
		return nil
	}
	comp := image.NewRGBA(image.Rect(0, 0, (maxX-minX+1)*TilePixels, (maxY-minY+1)*TilePixels))
	fetched, total := 0, 0
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			total++
			td, err := p.FetchTile(ctx, tile.Coord{Z: zoom, X: x, Y: y})
			if err != nil || !td.HasImagery() {
				continue
			}
			dst := image.Rect(0, 0, min(td.Width, TilePixels), min(td.Height, TilePixels)).
				Add(image.Pt((x-minX)*TilePixels, (y-minY)*TilePixels))
			draw.Draw(comp, dst, tileImage(td), image.Point{}, draw.Src)
			fetched++
		}
	}
	if fetched == 0 {
		return nil
	}
	crop := CropRect(b, zoom, minX, minY).Intersect(comp.Bounds())
	if crop.Empty() {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(out, out.Bounds(), comp, crop.Min, draw.Src)
	logging.L().Info("manager: composited imagery",
		"fetched", fetched, "tiles", total, "zoom", zoom,
		"composite", comp.Bounds().Size(), "cropped", crop.Size())
	return out
}
