// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tile

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// Sentinel zoom levels for non-slippy tile families.
const (
	// ZHGT marks one-degree elevation tiles keyed by (floor(lon), floor(lat)).
	ZHGT = -1
	// ZDSM marks 0.01 degree surface-model tiles keyed by
	// (floor(lon*100), floor(lat*100)).
	ZDSM = -2
)

// Coord identifies a tile. For Z >= 0 it is a Web Mercator slippy tile
// with Y growing southwards. For the negative sentinels see ZHGT and ZDSM;
// those families have Y growing northwards.
type Coord struct {
	Z, X, Y int
}

// String renders the coordinate as z/x/y.
func (c Coord) String() string { return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y) }

// Less orders coordinates lexicographically over (Z, X, Y).
func (c Coord) Less(o Coord) bool {
	if c.Z != o.Z {
		return c.Z < o.Z
	}
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

// Hash returns a platform-independent FNV-1a hash of the coordinate.
func (c Coord) Hash() uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(c.Z))) //nolint:gosec // tile indices fit int32
	binary.LittleEndian.PutUint32(buf[4:], uint32(int32(c.X))) //nolint:gosec // tile indices fit int32
	binary.LittleEndian.PutUint32(buf[8:], uint32(int32(c.Y))) //nolint:gosec // tile indices fit int32
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// IsSlippy reports whether c is a Web Mercator tile.
func (c Coord) IsSlippy() bool { return c.Z >= 0 }

// NorthUp reports whether Y+1 is the northern neighbour.
func (c Coord) NorthUp() bool { return c.Z < 0 }

// Bounds is a geographic rectangle in degrees.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Valid reports whether the rectangle has positive extent on both axes.
func (b Bounds) Valid() bool { return b.MinLat < b.MaxLat && b.MinLon < b.MaxLon }

// Center returns the midpoint of b.
func (b Bounds) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// LatSpan returns the latitude extent.
func (b Bounds) LatSpan() float64 { return b.MaxLat - b.MinLat }

// LonSpan returns the longitude extent.
func (b Bounds) LonSpan() float64 { return b.MaxLon - b.MinLon }

// Union returns the smallest rectangle covering both b and o.
// An invalid receiver is treated as empty.
func (b Bounds) Union(o Bounds) Bounds {
	if !b.Valid() {
		return o
	}
	if !o.Valid() {
		return b
	}
	return Bounds{
		MinLat: math.Min(b.MinLat, o.MinLat),
		MaxLat: math.Max(b.MaxLat, o.MaxLat),
		MinLon: math.Min(b.MinLon, o.MinLon),
		MaxLon: math.Max(b.MaxLon, o.MaxLon),
	}
}

// Intersects reports whether b and o overlap with positive area.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLat < o.MaxLat && o.MinLat < b.MaxLat &&
		b.MinLon < o.MaxLon && o.MinLon < b.MaxLon
}

// Contains reports whether the point lies inside b (edges inclusive).
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Expand grows b by the given margins on each side.
func (b Bounds) Expand(dLat, dLon float64) Bounds {
	return Bounds{
		MinLat: b.MinLat - dLat, MaxLat: b.MaxLat + dLat,
		MinLon: b.MinLon - dLon, MaxLon: b.MaxLon + dLon,
	}
}
