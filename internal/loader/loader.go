// Package loader fetches tiles on a background goroutine so the render
// loop never blocks on disk or network I/O.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/internal/provider"
	"github.com/gogpu/mesh3d/tile"
)

type request struct {
	coord tile.Coord
	p     provider.Provider
}

// Loader runs one worker goroutine. A coordinate is pending from Request
// until its result is drained by PollResult or the fetch fails, so a
// coordinate is never fetched twice concurrently.
type Loader struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []request
	pending map[tile.Coord]struct{}
	running bool
	stopped bool

	resMu   sync.Mutex
	results []*tile.Data

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped loader.
func New() *Loader {
	l := &Loader{pending: make(map[tile.Coord]struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the worker. Calling Start on a running loader is a no-op.
func (l *Loader) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.stopped = false
	go l.run(ctx, l.done)
}

// Stop signals the worker, aborts in-flight fetches and waits for it to exit.
func (l *Loader) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.running = false
	cancel, done := l.cancel, l.done
	l.cond.Broadcast()
	l.mu.Unlock()

	cancel()
	<-done
}

// Request enqueues a fetch unless the coordinate is already pending.
func (l *Loader) Request(c tile.Coord, p provider.Provider) {
	if p == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[c]; ok {
		return
	}
	l.pending[c] = struct{}{}
	l.queue = append(l.queue, request{coord: c, p: p})
	metrics.LoaderRequests.Inc()
	l.cond.Signal()
}

// IsPending reports whether c is queued, in flight or awaiting drain.
func (l *Loader) IsPending(c tile.Coord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[c]
	return ok
}

// PollResult removes and returns the oldest completed tile.
func (l *Loader) PollResult() (*tile.Data, bool) {
	l.resMu.Lock()
	if len(l.results) == 0 {
		l.resMu.Unlock()
		return nil, false
	}
	td := l.results[0]
	l.results[0] = nil
	l.results = l.results[1:]
	l.resMu.Unlock()

	l.mu.Lock()
	delete(l.pending, td.Coord)
	l.mu.Unlock()
	return td, true
}

// ClearPending drops queued requests. In-flight fetches complete normally
// and their results can still be drained.
func (l *Loader) ClearPending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.queue {
		delete(l.pending, r.coord)
	}
	l.queue = nil
}

// QueueLen returns the number of requests not yet picked up.
func (l *Loader) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Outstanding returns the number of pending coordinates, including
// in-flight fetches and results not yet drained.
func (l *Loader) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Loader) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped {
			l.mu.Unlock()
			return
		}
		req := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		td := l.fetch(ctx, req)
		if td == nil {
			l.mu.Lock()
			delete(l.pending, req.coord)
			l.mu.Unlock()
			continue
		}
		// Results are keyed by the requested coordinate.
		td.Coord = req.coord
		l.resMu.Lock()
		l.results = append(l.results, td)
		l.resMu.Unlock()
	}
}

func (l *Loader) fetch(ctx context.Context, req request) (td *tile.Data) {
	name := req.p.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.L().Error("loader: provider panicked", "provider", name, "tile", req.coord, "panic", fmt.Sprint(r))
			metrics.LoaderResults.WithLabelValues(name, "panic").Inc()
			td = nil
		}
	}()
	td, err := req.p.FetchTile(ctx, req.coord)
	metrics.LoaderFetchMs.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil || td == nil {
		logging.L().Debug("loader: fetch failed", "provider", name, "tile", req.coord, "err", err)
		metrics.LoaderResults.WithLabelValues(name, "fail").Inc()
		return nil
	}
	metrics.LoaderResults.WithLabelValues(name, "ok").Inc()
	return td
}
