package viewshed

import "fmt"

// BandRows is the height of one asynchronous compute band.
const BandRows = 128

// WorkgroupSize is the compute workgroup edge in cells.
const WorkgroupSize = 16

// Groups returns the workgroup count covering n cells.
func Groups(n int) uint32 {
	return uint32((n + WorkgroupSize - 1) / WorkgroupSize) //nolint:gosec // grid sizes are positive
}

// State is the progress of an asynchronous computation.
type State int

const (
	// Idle means nothing is in flight and no result is waiting.
	Idle State = iota
	// Dispatched means a chunk is in flight.
	Dispatched
	// Ready means the merged result can be read back.
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatched:
		return "dispatched"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Chunk is one unit of asynchronous work: a band of one node's viewshed,
// or the merge of that node into the accumulators.
type Chunk struct {
	Node     int
	RowStart int
	RowEnd   int
	Merge    bool
}

func (c Chunk) String() string {
	if c.Merge {
		return fmt.Sprintf("node %d merge", c.Node)
	}
	return fmt.Sprintf("node %d rows %d-%d", c.Node, c.RowStart, c.RowEnd)
}

// Planner walks the chunk sequence of a computation: for each node, the
// row bands top to bottom followed by one merge.
type Planner struct {
	nodes, rows int
	node, band  int
	merge       bool
}

// NewPlanner plans nodes over a grid with rows rows.
func NewPlanner(nodes, rows int) *Planner {
	return &Planner{nodes: nodes, rows: rows}
}

// BandsPerNode returns the number of row bands for rows rows.
func BandsPerNode(rows int) int { return (rows + BandRows - 1) / BandRows }

// ChunksPerNode returns the bands plus the merge chunk.
func ChunksPerNode(rows int) int { return BandsPerNode(rows) + 1 }

// Done reports whether every chunk has been handed out.
func (p *Planner) Done() bool { return p.rows <= 0 || p.node >= p.nodes }

// Current returns the chunk to run next. It must not be called when Done.
func (p *Planner) Current() Chunk {
	if p.merge {
		return Chunk{Node: p.node, Merge: true}
	}
	start := p.band * BandRows
	return Chunk{Node: p.node, RowStart: start, RowEnd: min(start+BandRows, p.rows)}
}

// Advance moves past the current chunk and reports whether another
// remains.
func (p *Planner) Advance() bool {
	if p.Done() {
		return false
	}
	switch {
	case p.merge:
		p.merge = false
		p.band = 0
		p.node++
	case (p.band+1)*BandRows >= p.rows:
		p.merge = true
	default:
		p.band++
	}
	return !p.Done()
}
