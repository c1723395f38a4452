package terrain

import (
	"math"
	"testing"
)

func TestBuildFlatGrid(t *testing.T) {
	m := Build(Grid{Elevation: make([]float32, 9), Rows: 3, Cols: 3, WidthM: 200, HeightM: 100})
	if m == nil {
		t.Fatal("Build() = nil")
	}
	if m.VertexCount() != 9 {
		t.Errorf("VertexCount() = %d, want 9", m.VertexCount())
	}
	if len(m.Indices) != 2*2*6 {
		t.Errorf("len(Indices) = %d, want 24", len(m.Indices))
	}
	// North-west corner.
	if m.Vertices[0] != -100 || m.Vertices[2] != -50 {
		t.Errorf("NW vertex = (%v, %v), want (-100, -50)", m.Vertices[0], m.Vertices[2])
	}
	// South-east corner uv.
	last := 8 * VertexFloats
	if m.Vertices[last+6] != 1 || m.Vertices[last+7] != 1 {
		t.Errorf("SE uv = (%v, %v), want (1, 1)", m.Vertices[last+6], m.Vertices[last+7])
	}
	// Flat terrain has straight-up normals.
	for v := 0; v < 9; v++ {
		ny := m.Vertices[v*VertexFloats+4]
		if math.Abs(float64(ny)-1) > 1e-6 {
			t.Fatalf("vertex %d normal y = %v, want 1", v, ny)
		}
	}
	for _, i := range m.Indices {
		if int(i) >= m.VertexCount() {
			t.Fatalf("index %d out of range", i)
		}
	}
}

func TestBuildSlopeNormalsTiltDownhill(t *testing.T) {
	// Elevation rises to the east.
	elev := []float32{0, 10, 20, 0, 10, 20}
	m := Build(Grid{Elevation: elev, Rows: 2, Cols: 3, WidthM: 20, HeightM: 10})
	nx := m.Vertices[1*VertexFloats+3]
	if nx >= 0 {
		t.Errorf("normal x = %v, want negative (facing west, downhill)", nx)
	}
	if m.Vertices[2*VertexFloats+1] != 20 {
		t.Errorf("vertex height = %v, want 20", m.Vertices[2*VertexFloats+1])
	}
}

func TestBuildRejectsDegenerate(t *testing.T) {
	if Build(Grid{Elevation: []float32{1, 2}, Rows: 1, Cols: 2}) != nil {
		t.Error("Build(1x2) should be nil")
	}
	if BuildFlat(2, 1, 1, 1) != nil {
		t.Error("BuildFlat(2x1) should be nil")
	}
	if m := BuildFlat(2, 2, 10, 10); m == nil || m.Stride != FlatVertexFloats || len(m.Indices) != 6 {
		t.Errorf("BuildFlat(2x2) = %+v", m)
	}
}

func TestHillshade(t *testing.T) {
	flat := Hillshade(make([]float32, 4), 2, 2, 30)
	want := float32(math.Sqrt2 / 2)
	for i, v := range flat {
		if math.Abs(float64(v-want)) > 1e-5 {
			t.Errorf("flat shade[%d] = %v, want %v", i, v, want)
		}
	}
	// Ground rising to the south-east faces the north-west light.
	toLight := Hillshade([]float32{0, 5, 5, 10}, 2, 2, 10)
	away := Hillshade([]float32{10, 5, 5, 0}, 2, 2, 10)
	if toLight[0] <= away[0] {
		t.Errorf("shade toward light %v should exceed shade away %v", toLight[0], away[0])
	}
}
