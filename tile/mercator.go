package tile

import (
	"fmt"
	"math"
)

// MaxMercatorLat is the latitude limit of the Web Mercator projection.
const MaxMercatorLat = 85.05112878

func tileCount(z int) float64 { return math.Exp2(float64(z)) }

func clampIndex(v float64, z int) int {
	n := int(tileCount(z))
	i := int(math.Floor(v))
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

// LonToTileXFrac returns the fractional tile column of lon at zoom z.
func LonToTileXFrac(lon float64, z int) float64 {
	return (lon + 180) / 360 * tileCount(z)
}

// LatToTileYFrac returns the fractional tile row of lat at zoom z.
func LatToTileYFrac(lat float64, z int) float64 {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	r := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(r)+1/math.Cos(r))/math.Pi) / 2 * tileCount(z)
}

// LonToTileX returns the tile column containing lon, clamped to [0, 2^z-1].
func LonToTileX(lon float64, z int) int { return clampIndex(LonToTileXFrac(lon, z), z) }

// LatToTileY returns the tile row containing lat, clamped to [0, 2^z-1].
func LatToTileY(lat float64, z int) int { return clampIndex(LatToTileYFrac(lat, z), z) }

func tileYToLat(y float64, z int) float64 {
	n := math.Pi * (1 - 2*y/tileCount(z))
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}

func tileXToLon(x float64, z int) float64 {
	return x/tileCount(z)*360 - 180
}

// TileBounds returns the geographic bounds of c. Sentinel tiles are
// delegated to HGTBounds and DSMBounds.
func TileBounds(c Coord) Bounds {
	switch c.Z {
	case ZHGT:
		return HGTBounds(c)
	case ZDSM:
		return DSMBounds(c)
	}
	return Bounds{
		MinLat: tileYToLat(float64(c.Y+1), c.Z),
		MaxLat: tileYToLat(float64(c.Y), c.Z),
		MinLon: tileXToLon(float64(c.X), c.Z),
		MaxLon: tileXToLon(float64(c.X+1), c.Z),
	}
}

// BoundsToTileRange returns the inclusive tile index range covering b.
func BoundsToTileRange(b Bounds, z int) (minX, minY, maxX, maxY int) {
	minX = LonToTileX(b.MinLon, z)
	maxX = LonToTileX(b.MaxLon, z)
	minY = LatToTileY(b.MaxLat, z)
	maxY = LatToTileY(b.MinLat, z)
	return minX, minY, maxX, maxY
}

// TilesInBounds lists every slippy tile at zoom z that intersects b.
func TilesInBounds(b Bounds, z int) []Coord {
	minX, minY, maxX, maxY := BoundsToTileRange(b, z)
	out := make([]Coord, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			out = append(out, Coord{Z: z, X: x, Y: y})
		}
	}
	return out
}

// LatLonToHGT returns the degree tile containing (lat, lon).
func LatLonToHGT(lat, lon float64) Coord {
	return Coord{Z: ZHGT, X: int(math.Floor(lon)), Y: int(math.Floor(lat))}
}

// HGTBounds returns the one-degree square of an HGT tile.
func HGTBounds(c Coord) Bounds {
	return Bounds{
		MinLat: float64(c.Y), MaxLat: float64(c.Y + 1),
		MinLon: float64(c.X), MaxLon: float64(c.X + 1),
	}
}

// HGTFilename returns the SRTM file name of an HGT tile, e.g. N38W107.hgt.
func HGTFilename(c Coord) string {
	ns, ew := 'N', 'E'
	lat, lon := c.Y, c.X
	if lat < 0 {
		ns, lat = 'S', -lat
	}
	if lon < 0 {
		ew, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d.hgt", ns, lat, ew, lon)
}

// HGTLatDir returns the latitude band directory used by SRTM mirrors, e.g. N38.
func HGTLatDir(c Coord) string {
	if c.Y < 0 {
		return fmt.Sprintf("S%02d", -c.Y)
	}
	return fmt.Sprintf("N%02d", c.Y)
}

// DSMStep is the edge length of a DSM tile in degrees.
const DSMStep = 0.01

// LatLonToDSM returns the DSM tile containing (lat, lon).
func LatLonToDSM(lat, lon float64) Coord {
	return Coord{Z: ZDSM, X: int(math.Floor(lon * 100)), Y: int(math.Floor(lat * 100))}
}

// DSMBounds returns the 0.01 degree square of a DSM tile.
func DSMBounds(c Coord) Bounds {
	return Bounds{
		MinLat: float64(c.Y) * DSMStep, MaxLat: float64(c.Y+1) * DSMStep,
		MinLon: float64(c.X) * DSMStep, MaxLon: float64(c.X+1) * DSMStep,
	}
}
