package mapview

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/MADA-gnuBD/bikeops/internal/layout"
)

const (
	tileSize      = 256.0
	maxZoom       = 22.0
	earthRadiusPi = orb.EarthRadius * math.Pi
)

// Viewport is the visible area of the browser map in Web Mercator.
type Viewport struct {
	Center orb.Point `json:"center"` // lon, lat
	Zoom   float64   `json:"zoom"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`
}

// Validate rejects viewports that cannot be projected.
func (v Viewport) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return errors.New("viewport width and height must be positive")
	}
	if v.Zoom < 0 || v.Zoom > maxZoom {
		return errors.New("zoom out of range: must be between 0 and 22")
	}
	if v.Center[1] < -85.05112878 || v.Center[1] > 85.05112878 {
		return errors.New("center latitude outside the Mercator range")
	}
	if v.Center[0] < -180 || v.Center[0] > 180 {
		return errors.New("center longitude out of range: must be between -180 and 180")
	}
	return nil
}

// pixels per Mercator meter at the viewport zoom
func (v Viewport) scale() float64 {
	return tileSize * math.Exp2(v.Zoom) / (2 * earthRadiusPi)
}

// ToScreen projects a geocoordinate to viewport pixels, origin top-left.
func (v Viewport) ToScreen(p orb.Point) layout.Point {
	m := project.WGS84.ToMercator(p)
	c := project.WGS84.ToMercator(v.Center)
	s := v.scale()
	return layout.Point{
		X: v.Width/2 + (m[0]-c[0])*s,
		Y: v.Height/2 - (m[1]-c[1])*s,
	}
}

// FromScreen converts viewport pixels back to a geocoordinate.
func (v Viewport) FromScreen(p layout.Point) orb.Point {
	c := project.WGS84.ToMercator(v.Center)
	s := v.scale()
	m := orb.Point{
		c[0] + (p.X-v.Width/2)/s,
		c[1] - (p.Y-v.Height/2)/s,
	}
	return project.Mercator.ToWGS84(m)
}

// Contains reports whether a geocoordinate projects inside the viewport.
func (v Viewport) Contains(p orb.Point) bool {
	s := v.ToScreen(p)
	return s.X >= 0 && s.Y >= 0 && s.X <= v.Width && s.Y <= v.Height
}
