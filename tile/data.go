package tile

// Data is one loaded tile as produced by a provider. Any of the payloads
// may be absent. Elevation is row-major with row 0 at the northern edge.
type Data struct {
	Coord  Coord
	Bounds Bounds

	Elevation  []float32
	Rows, Cols int

	// Imagery holds RGBA8 pixels, Width*Height*4 bytes.
	Imagery       []byte
	Width, Height int

	// Optional precomputed overlays sized Rows*Cols.
	Visibility []uint8
	Signal     []float32
}

// HasElevation reports whether the tile carries a usable elevation grid.
func (d *Data) HasElevation() bool {
	return d != nil && d.Rows >= 2 && d.Cols >= 2 && len(d.Elevation) == d.Rows*d.Cols
}

// HasImagery reports whether the tile carries RGBA pixels.
func (d *Data) HasImagery() bool {
	return d != nil && d.Width > 0 && d.Height > 0 && len(d.Imagery) == d.Width*d.Height*4
}

// LatRes returns the latitude spacing between grid rows.
func (d *Data) LatRes() float64 {
	if d.Rows < 2 {
		return 0
	}
	return d.Bounds.LatSpan() / float64(d.Rows-1)
}

// LonRes returns the longitude spacing between grid columns.
func (d *Data) LonRes() float64 {
	if d.Cols < 2 {
		return 0
	}
	return d.Bounds.LonSpan() / float64(d.Cols-1)
}
