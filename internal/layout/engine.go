// Package layout places station overlays on the rendered map so that their
// bounding boxes do not overlap.
//
// Every overlay is tried against a fixed, ordered list of candidate offsets
// around its anchor. The first candidate whose box (inflated by the margin)
// is clear of every box placed before it wins. When no candidate is clear the
// overlay falls back to the first candidate and is reported as overlapped.
// Placement is deterministic and runs to completion without I/O.
package layout

import (
	"errors"
	"sort"

	"github.com/paulmach/orb"
)

// Projection converts between geocoordinates and the current screen pixels
// of the map. It changes on every pan or zoom.
type Projection interface {
	ToScreen(p orb.Point) Point
	FromScreen(p Point) orb.Point
}

// Options sizes the overlay footprint shared by every overlay.
type Options struct {
	Width  float64 `koanf:"width" json:"width" validate:"gt=0"`
	Height float64 `koanf:"height" json:"height" validate:"gt=0"`
	// Margin is the minimum separation between two overlay boxes.
	Margin float64 `koanf:"margin" json:"margin" validate:"gte=0"`
	// Gap lifts an overlay placed above its anchor clear of the marker.
	Gap float64 `koanf:"gap" json:"gap" validate:"gte=0"`
}

// DefaultOptions matches the console's info box.
func DefaultOptions() Options {
	return Options{Width: 240, Height: 110, Margin: 8, Gap: 16}
}

// Validate checks that the footprint is usable.
func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return errors.New("overlay width and height must be positive")
	}
	if o.Margin < 0 || o.Gap < 0 {
		return errors.New("overlay margin and gap must not be negative")
	}
	return nil
}

// Candidate names, indexed like the offsets returned by Candidates.
var CandidateNames = []string{
	"above", "right", "left", "below",
	"above-right", "above-left", "below-right", "below-left",
	"far-above", "far-right", "far-left",
}

// Candidates returns the bottom-center offsets tried for every overlay,
// nearest first. Horizontal and vertical steps are one inflated box so that
// two overlays sharing an anchor never collide on neighbouring slots.
func Candidates(o Options) []Offset {
	sx := o.Width + 2*o.Margin
	sy := o.Height + 2*o.Margin
	up := -o.Gap
	down := o.Height + o.Gap
	return []Offset{
		{0, up},
		{sx, up},
		{-sx, up},
		{0, down},
		{sx, up - sy},
		{-sx, up - sy},
		{sx, down},
		{-sx, down},
		{0, up - sy},
		{2 * sx, up},
		{-2 * sx, up},
	}
}

// Item is an open overlay as seen by the engine.
type Item struct {
	Key    string
	Anchor orb.Point
}

// Placement is the position chosen for one overlay.
type Placement struct {
	Key string `json:"key"`
	// Candidate indexes Candidates; 0 is directly above the anchor.
	Candidate  int       `json:"candidate"`
	Anchor     Point     `json:"anchor"`
	Point      Point     `json:"point"`
	Rect       Rect      `json:"rect"`
	Position   orb.Point `json:"position"`
	Overlapped bool      `json:"overlapped"`
}

// CandidateName returns the human readable slot name.
func (p Placement) CandidateName() string {
	if p.Candidate < 0 || p.Candidate >= len(CandidateNames) {
		return "unknown"
	}
	return CandidateNames[p.Candidate]
}

// Engine places overlays with a fixed footprint.
type Engine struct {
	opts       Options
	candidates []Offset
}

// New creates an engine for the given footprint.
func New(opts Options) *Engine {
	return &Engine{opts: opts, candidates: Candidates(opts)}
}

// Options returns the footprint the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

type projected struct {
	item   Item
	screen Point
}

// Place computes a position for every item. It returns false without
// placements when proj is nil, which means the map is not ready yet.
// Placements are returned in processing order: top to bottom, then left to
// right, then by key.
func (e *Engine) Place(items []Item, proj Projection) ([]Placement, bool) {
	if proj == nil {
		return nil, false
	}

	order := make([]projected, len(items))
	for i, it := range items {
		order[i] = projected{item: it, screen: proj.ToScreen(it.Anchor)}
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i].screen, order[j].screen
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return order[i].item.Key < order[j].item.Key
	})

	placed := make([]Rect, 0, len(order))
	out := make([]Placement, 0, len(order))
	for _, p := range order {
		idx, overlapped := e.choose(p.screen, placed)
		point := p.screen.Add(e.candidates[idx])
		box := BoxAt(point, e.opts.Width, e.opts.Height)
		placed = append(placed, box.Inflate(e.opts.Margin))
		out = append(out, Placement{
			Key:        p.item.Key,
			Candidate:  idx,
			Anchor:     p.screen,
			Point:      point,
			Rect:       box,
			Position:   proj.FromScreen(point),
			Overlapped: overlapped,
		})
	}
	return out, true
}

// choose returns the first free candidate index, or 0 and true when every
// candidate collides with an already placed box.
func (e *Engine) choose(anchor Point, placed []Rect) (int, bool) {
	for i, off := range e.candidates {
		box := BoxAt(anchor.Add(off), e.opts.Width, e.opts.Height).Inflate(e.opts.Margin)
		if !collides(box, placed) {
			return i, false
		}
	}
	return 0, true
}

func collides(r Rect, placed []Rect) bool {
	for _, p := range placed {
		if r.Intersects(p) {
			return true
		}
	}
	return false
}
