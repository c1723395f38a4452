package viewshed

// Result is the merged coverage of a set of nodes over one grid.
type Result struct {
	Rows, Cols int
	// Visibility is 1 where any node is visible.
	Visibility []uint8
	// Signal is the best received power in dBm.
	Signal []float32
	// Overlap counts visible nodes, saturating at 255.
	Overlap []uint8
}

// NewResult returns cleared accumulators for a rows x cols grid.
func NewResult(rows, cols int) *Result {
	r := &Result{
		Rows:       rows,
		Cols:       cols,
		Visibility: make([]uint8, rows*cols),
		Signal:     make([]float32, rows*cols),
		Overlap:    make([]uint8, rows*cols),
	}
	r.Reset()
	return r
}

// Reset clears the accumulators.
func (r *Result) Reset() {
	clear(r.Visibility)
	clear(r.Overlap)
	for i := range r.Signal {
		r.Signal[i] = NoSignal
	}
}

// Merge folds one node's result in: visibility is OR-ed, signal keeps the
// maximum and overlap is incremented where the node is visible.
func (r *Result) Merge(vis []uint8, sig []float32) {
	n := min(len(r.Visibility), len(vis), len(sig))
	for i := 0; i < n; i++ {
		if vis[i] == 0 {
			continue
		}
		r.Visibility[i] = 1
		if r.Overlap[i] < 255 {
			r.Overlap[i]++
		}
		if sig[i] > r.Signal[i] {
			r.Signal[i] = sig[i]
		}
	}
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	return &Result{
		Rows:       r.Rows,
		Cols:       r.Cols,
		Visibility: append([]uint8(nil), r.Visibility...),
		Signal:     append([]float32(nil), r.Signal...),
		Overlap:    append([]uint8(nil), r.Overlap...),
	}
}
