// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"image"
	"image/color"
	"slices"

	"golang.org/x/image/draw"
)

// Layer is the z-order of a canvas layer. Higher layers draw on top.
type Layer int

// Map layers above the terrain base.
const (
	LayerMarkers Layer = 1
	LayerLabels  Layer = 2
)

type layer struct {
	img     *image.RGBA
	visible bool
}

// Canvas is an RGBA base with transparent layers composited in z-order.
type Canvas struct {
	base   *image.RGBA
	layers map[Layer]*layer
	order  []Layer // sorted, nil when stale
}

// NewCanvas creates a w x h canvas.
func NewCanvas(w, h int) *Canvas {
	return &Canvas{
		base:   image.NewRGBA(image.Rect(0, 0, w, h)),
		layers: make(map[Layer]*layer),
	}
}

// Base returns the terrain layer.
func (c *Canvas) Base() *image.RGBA { return c.base }

// Layer returns the image of layer z, creating it on first use.
func (c *Canvas) Layer(z Layer) *image.RGBA {
	if l, ok := c.layers[z]; ok {
		return l.img
	}
	l := &layer{img: image.NewRGBA(c.base.Bounds()), visible: true}
	c.layers[z] = l
	c.order = nil
	return l.img
}

// SetLayerVisible hides or shows a layer without dropping its pixels.
func (c *Canvas) SetLayerVisible(z Layer, visible bool) {
	if l, ok := c.layers[z]; ok {
		l.visible = visible
	}
}

// Layers returns the layer z-orders in draw order.
func (c *Canvas) Layers() []Layer {
	if c.order == nil {
		c.order = make([]Layer, 0, len(c.layers))
		for z := range c.layers {
			c.order = append(c.order, z)
		}
		slices.Sort(c.order)
	}
	return slices.Clone(c.order)
}

// Clear fills the base with col and empties every layer.
func (c *Canvas) Clear(col color.Color) {
	draw.Draw(c.base, c.base.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
	for _, l := range c.layers {
		clear(l.img.Pix)
	}
}

// Composite flattens the visible layers over the base and returns it.
func (c *Canvas) Composite() *image.RGBA {
	for _, z := range c.Layers() {
		if l := c.layers[z]; l.visible {
			draw.Draw(c.base, c.base.Bounds(), l.img, image.Point{}, draw.Over)
		}
	}
	return c.base
}
