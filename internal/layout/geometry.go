package layout

// Point is a screen position in pixels. Y grows downwards.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p shifted by o.
func (p Point) Add(o Offset) Point {
	return Point{X: p.X + o.DX, Y: p.Y + o.DY}
}

// Offset is a pixel displacement from an anchor's screen projection.
type Offset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Rect is an axis-aligned screen rectangle. X, Y is the top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoxAt returns the w x h rectangle whose bottom-center sits at p.
func BoxAt(p Point, w, h float64) Rect {
	return Rect{X: p.X - w/2, Y: p.Y - h, Width: w, Height: h}
}

// Inflate grows r by m on every side.
func (r Rect) Inflate(m float64) Rect {
	return Rect{X: r.X - m, Y: r.Y - m, Width: r.Width + 2*m, Height: r.Height + 2*m}
}

// Intersects reports whether r and o share interior area. Rectangles that
// only touch along an edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}
