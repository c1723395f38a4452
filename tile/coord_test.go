package tile

import (
	"math"
	"testing"
)

func TestLonLatToTileClamp(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"lon min z0", LonToTileX(-180, 0), 0},
		{"lon max z1", LonToTileX(180, 1), 1},
		{"lon max z4", LonToTileX(180, 4), 15},
		{"lat north pole", LatToTileY(89.9, 3), 0},
		{"lat south pole", LatToTileY(-89.9, 3), 7},
		{"equator z1", LatToTileY(-0.0001, 1), 1},
		{"prime meridian z1", LonToTileX(0.0001, 1), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestTileBoundsRoundTrip(t *testing.T) {
	lat, lon := 38.7, -106.3
	for z := 0; z <= 18; z++ {
		c := Coord{Z: z, X: LonToTileX(lon, z), Y: LatToTileY(lat, z)}
		b := TileBounds(c)
		if !b.Valid() {
			t.Fatalf("z=%d: invalid bounds %+v", z, b)
		}
		if !b.Contains(lat, lon) {
			t.Errorf("z=%d: bounds %+v do not contain (%v, %v)", z, b, lat, lon)
		}
	}
}

func TestBoundsToTileRangeInclusive(t *testing.T) {
	c := Coord{Z: 10, X: 200, Y: 380}
	b := TileBounds(c)
	// Nudge inside so boundary rounding cannot pull in neighbours.
	inner := b.Expand(-1e-9, -1e-9)
	minX, minY, maxX, maxY := BoundsToTileRange(inner, 10)
	if minX != 200 || maxX != 200 || minY != 380 || maxY != 380 {
		t.Errorf("BoundsToTileRange() = %d,%d,%d,%d, want 200,380,200,380", minX, minY, maxX, maxY)
	}
	got := TilesInBounds(b.Expand(1e-6, 1e-6), 10)
	if len(got) != 9 {
		t.Errorf("TilesInBounds(expanded) = %d tiles, want 9", len(got))
	}
}

func TestHGTHelpers(t *testing.T) {
	c := LatLonToHGT(38.5, -106.5)
	if c != (Coord{Z: ZHGT, X: -107, Y: 38}) {
		t.Fatalf("LatLonToHGT() = %v", c)
	}
	if got := HGTFilename(c); got != "N38W107.hgt" {
		t.Errorf("HGTFilename() = %q, want N38W107.hgt", got)
	}
	if got := HGTLatDir(c); got != "N38" {
		t.Errorf("HGTLatDir() = %q, want N38", got)
	}
	if got := HGTFilename(Coord{Z: ZHGT, X: 5, Y: -3}); got != "S03E005.hgt" {
		t.Errorf("HGTFilename(S) = %q, want S03E005.hgt", got)
	}
	b := HGTBounds(c)
	if b.MinLat != 38 || b.MaxLat != 39 || b.MinLon != -107 || b.MaxLon != -106 {
		t.Errorf("HGTBounds() = %+v", b)
	}
}

func TestDSMHelpers(t *testing.T) {
	c := LatLonToDSM(40.015, -105.275)
	if c.Z != ZDSM || c.X != -10528 || c.Y != 4001 {
		t.Fatalf("LatLonToDSM() = %v", c)
	}
	b := DSMBounds(c)
	if math.Abs(b.LatSpan()-DSMStep) > 1e-9 || math.Abs(b.LonSpan()-DSMStep) > 1e-9 {
		t.Errorf("DSMBounds() spans = %v, %v", b.LatSpan(), b.LonSpan())
	}
	if TileBounds(c) != b {
		t.Errorf("TileBounds(DSM) = %+v, want %+v", TileBounds(c), b)
	}
}

func TestCoordOrderAndHash(t *testing.T) {
	a := Coord{Z: 1, X: 2, Y: 3}
	b := Coord{Z: 1, X: 2, Y: 4}
	if !a.Less(b) || b.Less(a) || a.Less(a) {
		t.Error("Less() is not a strict order")
	}
	if (Coord{Z: -1, X: 9, Y: 9}).Less(Coord{Z: -2}) {
		t.Error("Less() must compare Z first")
	}
	if a.Hash() != (Coord{Z: 1, X: 2, Y: 3}).Hash() {
		t.Error("Hash() differs for equal coords")
	}
	if a.Hash() == b.Hash() {
		t.Error("Hash() collides for adjacent coords")
	}
	if a.String() != "1/2/3" {
		t.Errorf("String() = %q", a.String())
	}
}

func TestBoundsUnion(t *testing.T) {
	var empty Bounds
	b := Bounds{MinLat: 1, MaxLat: 2, MinLon: 3, MaxLon: 4}
	if empty.Union(b) != b {
		t.Error("Union with empty receiver should return the argument")
	}
	u := b.Union(Bounds{MinLat: 0, MaxLat: 1.5, MinLon: 3.5, MaxLon: 5})
	want := Bounds{MinLat: 0, MaxLat: 2, MinLon: 3, MaxLon: 5}
	if u != want {
		t.Errorf("Union() = %+v, want %+v", u, want)
	}
}
