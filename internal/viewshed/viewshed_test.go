package viewshed

import (
	"math"
	"testing"

	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

var plateau = []float32{
	0, 0, 0, 0,
	0, 10, 10, 0,
	0, 10, 10, 0,
	0, 0, 0, 0,
}

var plateauBounds = tile.Bounds{MinLat: 0, MaxLat: 0.01, MinLon: 0, MaxLon: 0.01}

func testNode(lat, lon float64) rf.Node {
	return rf.Node{
		Lat: lat, Lon: lon,
		AntennaHeightM:   2,
		TxPowerDbm:       22,
		FrequencyMHz:     906.875,
		RxSensitivityDbm: -132,
	}
}

func plateauEnv() Env {
	return NewEnv(plateauBounds, 4, 4, rf.DefaultConfig(), rf.DefaultITMParams())
}

func TestSetupMapsNodeToCell(t *testing.T) {
	env := plateauEnv()
	s := Setup(testNode(0.005, 0.005), env, plateau)
	if s.Row != 1 || s.Col != 1 {
		t.Errorf("cell = (%d, %d), want (1, 1)", s.Row, s.Col)
	}
	if s.ObserverH != 12 {
		t.Errorf("ObserverH = %v, want 12", s.ObserverH)
	}
	// Unset fields take defaults.
	d := Setup(rf.Node{Lat: 0.005, Lon: 0.008}, env, plateau)
	if d.Col != 2 || d.Node.TxPowerDbm != rf.DefaultTxPowerDbm || d.Node.RxSensitivityDbm != -130 {
		t.Errorf("defaults not applied: %+v", d)
	}
	if d.MaxRangeCells < 1 {
		t.Errorf("MaxRangeCells = %d", d.MaxRangeCells)
	}
	// Off-grid nodes keep their cell but read the nearest edge height.
	off := Setup(testNode(0.02, 0.005), env, plateau)
	if off.Row >= 0 || off.ObserverH != 2 {
		t.Errorf("off-grid setup = row %d height %v", off.Row, off.ObserverH)
	}
}

func TestOffGridNodeKeepsItsCell(t *testing.T) {
	env := plateauEnv()
	// One row north of the grid, above column 1.
	s := Setup(testNode(0.0125, 0.005), env, plateau)
	if s.Row != -1 || s.Col != 1 {
		t.Fatalf("cell = (%d, %d), want (-1, 1)", s.Row, s.Col)
	}
	vis, sig := Compute(plateau, env, s, rf.ModelFSPL)
	for i, v := range sig {
		if v == OwnCellSignal {
			t.Errorf("cell %d treated as the node's own cell", i)
		}
	}
	if vis[1] != 1 {
		t.Errorf("edge cell below the node not visible (signal %v)", sig[1])
	}
}

func TestSingleNodeCoversPlateau(t *testing.T) {
	env := plateauEnv()
	s := Setup(testNode(0.005, 0.005), env, plateau)
	vis, sig := Compute(plateau, env, s, rf.ModelFSPL)
	for i, v := range vis {
		if v != 1 {
			t.Errorf("cell %d not visible (signal %v)", i, sig[i])
		}
	}
	at := func(r, c int) float32 { return sig[r*4+c] }
	if at(1, 1) != OwnCellSignal {
		t.Errorf("own cell signal = %v, want %v", at(1, 1), OwnCellSignal)
	}
	if !(at(1, 1) > at(1, 2) && at(1, 2) > at(1, 3)) {
		t.Errorf("row signal not decreasing: %v %v %v", at(1, 1), at(1, 2), at(1, 3))
	}
	if !(at(1, 1) > at(2, 2) && at(2, 2) > at(3, 3)) {
		t.Errorf("diagonal signal not decreasing: %v %v %v", at(1, 1), at(2, 2), at(3, 3))
	}

	e := NewCPUEngine()
	e.UploadElevation(plateau, 4, 4)
	e.SetGridParams(plateauBounds, 4, 4)
	e.ComputeAll([]rf.Node{testNode(0.005, 0.005)})
	r := e.ReadBack()
	for i := range r.Overlap {
		if r.Overlap[i] != 1 || r.Visibility[i] != 1 {
			t.Fatalf("cell %d: overlap %d vis %d, want 1, 1", i, r.Overlap[i], r.Visibility[i])
		}
	}
}

func TestTwoNodeOverlapKeepsBestSignal(t *testing.T) {
	env := plateauEnv()
	a, b := testNode(0.005, 0.005), testNode(0.005, 0.008)
	_, sigA := Compute(plateau, env, Setup(a, env, plateau), rf.ModelFSPL)
	_, sigB := Compute(plateau, env, Setup(b, env, plateau), rf.ModelFSPL)

	e := NewCPUEngine()
	e.UploadElevation(plateau, 4, 4)
	e.SetGridParams(plateauBounds, 4, 4)
	e.ComputeAll([]rf.Node{a, b})
	r := e.ReadBack()
	for i := range r.Signal {
		if r.Overlap[i] != 2 {
			t.Errorf("cell %d overlap = %d, want 2", i, r.Overlap[i])
		}
		if want := max(sigA[i], sigB[i]); r.Signal[i] != want {
			t.Errorf("cell %d signal = %v, want %v", i, r.Signal[i], want)
		}
	}
}

func TestObstructionAddsDiffractionLoss(t *testing.T) {
	// A ridge across the middle of a 21 x 2 strip.
	elev := make([]float32, 21*2)
	for c := 0; c < 2; c++ {
		elev[10*2+c] = 200
	}
	b := tile.Bounds{MinLat: 0, MaxLat: 0.2, MinLon: 0, MaxLon: 0.01}
	env := NewEnv(b, 21, 2, rf.DefaultConfig(), rf.DefaultITMParams())
	n := testNode(0.2, 0)
	n.MaxRangeKm = 50
	s := Setup(n, env, elev)
	_, sig := Compute(elev, env, s, rf.ModelFSPL)
	_, fres := Compute(elev, env, s, rf.ModelFresnel)

	flat := make([]float32, len(elev))
	_, open := Compute(flat, env, Setup(n, env, flat), rf.ModelFSPL)
	last := 20 * 2
	if sig[last] >= open[last]-6 {
		t.Errorf("shadowed signal %v should be well below open %v", sig[last], open[last])
	}
	if fres[last] >= open[last]-6 {
		t.Errorf("Fresnel shadowed signal %v should be well below open %v", fres[last], open[last])
	}
}

func TestKnifeEdgeAndFSPL(t *testing.T) {
	if KnifeEdgeLoss(-1) != 0 {
		t.Error("KnifeEdgeLoss(-1) should be 0")
	}
	if got := KnifeEdgeLoss(0); math.Abs(got-6.0) > 0.1 {
		t.Errorf("KnifeEdgeLoss(0) = %v, want about 6 dB", got)
	}
	if FSPL(0, 900) != FSPL(0.01, 900) {
		t.Error("FSPL should clamp distances below 10 m")
	}
	if got := FSPL(1, 1000); math.Abs(got-92.44) > 1e-6 {
		t.Errorf("FSPL(1 km, 1 GHz) = %v, want 92.44", got)
	}
}

func TestDeygoutClearPathIsFree(t *testing.T) {
	d := []float64{0, 100, 200, 300}
	h := []float64{50, 0, 0, 50}
	if got := Deygout(d, h, 0.33); got != 0 {
		t.Errorf("Deygout(clear) = %v, want 0", got)
	}
	h[1], h[2] = 80, 70
	single := KnifeEdgeLoss(fresnelV(30, 100, 200, 0.33))
	if got := Deygout(d, h, 0.33); got <= single {
		t.Errorf("Deygout(two edges) = %v, want more than the main edge %v", got, single)
	}
}

func TestITMPointToPoint(t *testing.T) {
	p := rf.DefaultITMParams()
	if got := ITMPointToPoint([]float64{0}, 30, 2, 1, 900, p); got != 999 {
		t.Errorf("degenerate profile = %v, want 999", got)
	}
	flat := make([]float64, 101)
	short := ITMPointToPoint(flat[:11], 30, 10, 2, 906.875, p)
	long := ITMPointToPoint(flat, 300, 10, 2, 906.875, p)
	if short <= FSPL(0.3, 906.875) {
		t.Errorf("ITM loss %v should exceed free space", short)
	}
	if long <= short {
		t.Errorf("longer path loss %v should exceed %v", long, short)
	}
}

func TestExtractProfile(t *testing.T) {
	elev := make([]float32, 10*10)
	for i := range elev {
		elev[i] = float32(i)
	}
	prof, step := ExtractProfile(elev, 10, 10, 0, 0, 0, 9, 30, 256)
	if len(prof) != 10 || step != 30 {
		t.Fatalf("len = %d step = %v, want 10, 30", len(prof), step)
	}
	if prof[0] != 0 || prof[9] != 9 {
		t.Errorf("endpoints = %v, %v", prof[0], prof[9])
	}
	sub, step := ExtractProfile(elev, 10, 10, 0, 0, 9, 9, 30, 4)
	if len(sub) > 4 || step <= 30 {
		t.Errorf("subsampled len = %d step = %v", len(sub), step)
	}
	if sub[len(sub)-1] != 99 {
		t.Errorf("last sample = %v, want the target cell", sub[len(sub)-1])
	}
}

func TestMergeSaturates(t *testing.T) {
	r := NewResult(1, 2)
	for i := 0; i < 300; i++ {
		r.Merge([]uint8{1, 0}, []float32{float32(-100 + i%5), 10})
	}
	if r.Overlap[0] != 255 || r.Overlap[1] != 0 {
		t.Errorf("Overlap = %v, want [255 0]", r.Overlap)
	}
	if r.Signal[0] != -96 || r.Signal[1] != NoSignal {
		t.Errorf("Signal = %v", r.Signal)
	}
}

func TestPlannerFullTile(t *testing.T) {
	const rows, nodes = 3601, 4
	per := ChunksPerNode(rows)
	if want := int(math.Ceil(rows/128.0)) + 1; per != want {
		t.Fatalf("ChunksPerNode = %d, want %d", per, want)
	}
	p := NewPlanner(nodes, rows)
	count, merges := 0, 0
	var last Chunk
	for !p.Done() {
		c := p.Current()
		if c.Merge {
			merges++
		} else {
			last = c
		}
		count++
		p.Advance()
	}
	if count != nodes*per || merges != nodes {
		t.Errorf("chunks = %d merges = %d, want %d, %d", count, merges, nodes*per, nodes)
	}
	if last.RowEnd != rows || last.Node != nodes-1 {
		t.Errorf("last band = %v", last)
	}
}

func TestCPUEngineAsyncMatchesBlocking(t *testing.T) {
	const rows, cols = 300, 3
	elev := make([]float32, rows*cols)
	for i := range elev {
		elev[i] = float32((i * 37) % 50)
	}
	b := tile.Bounds{MinLat: 0, MaxLat: 0.3, MinLon: 0, MaxLon: 0.003}
	nodes := []rf.Node{testNode(0.15, 0.001), testNode(0.05, 0.002)}

	blocking := NewCPUEngine()
	blocking.UploadElevation(elev, rows, cols)
	blocking.SetGridParams(b, rows, cols)
	blocking.ComputeAll(nodes)
	want := blocking.ReadBack()

	e := NewCPUEngine()
	if e.PollState() != Idle {
		t.Fatal("fresh engine should be idle")
	}
	e.ComputeAllAsync(nodes, nil)
	if e.State() != Idle {
		t.Fatal("dispatch before upload should be a no-op")
	}
	e.UploadElevation(elev, rows, cols)
	e.SetGridParams(b, rows, cols)
	e.ComputeAllAsync(nodes, elev)

	budget := len(nodes) * ChunksPerNode(rows)
	polls := 0
	for e.PollState() != Ready {
		polls++
		if e.State() != Dispatched {
			t.Fatalf("poll %d: state %v, want dispatched", polls, e.State())
		}
		if polls > budget {
			t.Fatalf("not ready after %d polls", polls)
		}
	}
	if polls+1 != budget {
		t.Errorf("ready after %d polls, want %d", polls+1, budget)
	}
	got := e.ReadBackAsync()
	if e.State() != Idle {
		t.Errorf("state after ReadBackAsync = %v, want idle", e.State())
	}
	for i := range want.Signal {
		if got.Signal[i] != want.Signal[i] || got.Overlap[i] != want.Overlap[i] || got.Visibility[i] != want.Visibility[i] {
			t.Fatalf("cell %d differs: async (%v,%d,%d) blocking (%v,%d,%d)", i,
				got.Signal[i], got.Overlap[i], got.Visibility[i],
				want.Signal[i], want.Overlap[i], want.Visibility[i])
		}
	}
}
