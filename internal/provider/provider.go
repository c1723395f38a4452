// Package provider implements the tile sources: streamed SRTM elevation,
// slippy-map imagery, local GeoTIFF surface models and a single in-memory
// grid.
//
// FetchTile is called on the loader goroutine. Implementations must be
// safe to call from one goroutine while the main goroutine calls the
// other methods.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gogpu/mesh3d/tile"
)

var (
	// ErrNoData is returned when a provider has nothing for the coordinate.
	ErrNoData = errors.New("provider: no data")
	// ErrMalformed is returned when fetched bytes cannot be decoded.
	ErrMalformed = errors.New("provider: malformed tile")
)

// Provider is a source of tiles.
type Provider interface {
	Name() string
	FetchTile(ctx context.Context, c tile.Coord) (*tile.Data, error)
	Coverage() tile.Bounds
	MinZoom() int
	MaxZoom() int
	TilesInBounds(b tile.Bounds, zoom int) []tile.Coord
}

// Viewer is implemented by streaming providers that select tiles around a
// camera position.
type Viewer interface {
	Provider
	TilesInView(lat, lon float64) []tile.Coord
	CoordAt(lat, lon float64) tile.Coord
}

// HTTPError reports a non-200 response.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("provider: HTTP %d for %s", e.Status, e.URL) }

// newHTTPClient returns a client with separate connect and total timeouts.
func newHTTPClient(connect, total time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	return &http.Client{Transport: tr, Timeout: total}
}

// download performs one GET. There is no retry; the caller may re-request.
func download(ctx context.Context, c *http.Client, url, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{URL: url, Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
