package layout

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
)

// pixelProjection treats orb points as screen pixels.
type pixelProjection struct{}

func (pixelProjection) ToScreen(p orb.Point) Point   { return Point{X: p[0], Y: p[1]} }
func (pixelProjection) FromScreen(p Point) orb.Point { return orb.Point{p.X, p.Y} }

func items(points ...Point) []Item {
	out := make([]Item, len(points))
	for i, p := range points {
		out[i] = Item{Key: fmt.Sprintf("ST-%d", i+1), Anchor: orb.Point{p.X, p.Y}}
	}
	return out
}

func assertNoIntersections(t *testing.T, placements []Placement) {
	t.Helper()
	for i := range placements {
		for j := i + 1; j < len(placements); j++ {
			if placements[i].Rect.Intersects(placements[j].Rect) {
				t.Errorf("%s %+v intersects %s %+v",
					placements[i].Key, placements[i].Rect, placements[j].Key, placements[j].Rect)
			}
		}
	}
}

func TestRectIntersects(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want bool
	}{
		{"overlap", Rect{0, 0, 10, 10}, Rect{5, 5, 10, 10}, true},
		{"contained", Rect{0, 0, 10, 10}, Rect{2, 2, 2, 2}, true},
		{"touching edge", Rect{0, 0, 10, 10}, Rect{10, 0, 10, 10}, false},
		{"apart", Rect{0, 0, 10, 10}, Rect{20, 20, 5, 5}, false},
		{"overlap x only", Rect{0, 0, 10, 10}, Rect{5, 11, 10, 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Intersects(tt.b); got != tt.want {
				t.Errorf("Intersects() = %v, expected %v", got, tt.want)
			}
			if got := tt.b.Intersects(tt.a); got != tt.want {
				t.Errorf("Intersects() reversed = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestBoxAt(t *testing.T) {
	got := BoxAt(Point{100, 100}, 240, 110)
	want := Rect{X: -20, Y: -10, Width: 240, Height: 110}
	if got != want {
		t.Errorf("BoxAt() = %+v, expected %+v", got, want)
	}
}

func TestCandidates(t *testing.T) {
	c := Candidates(DefaultOptions())
	if len(c) != 11 {
		t.Fatalf("len(Candidates()) = %d, expected 11", len(c))
	}
	if len(CandidateNames) != len(c) {
		t.Fatalf("CandidateNames has %d entries, expected %d", len(CandidateNames), len(c))
	}
	if c[0] != (Offset{0, -16}) {
		t.Errorf("first candidate = %+v, expected directly above", c[0])
	}
	seen := make(map[Offset]bool)
	for _, off := range c {
		if seen[off] {
			t.Errorf("duplicate candidate %+v", off)
		}
		seen[off] = true
	}
}

func TestPlaceNilProjection(t *testing.T) {
	e := New(DefaultOptions())
	placements, ok := e.Place(items(Point{1, 1}), nil)
	if ok {
		t.Error("Place() with nil projection reported ready")
	}
	if placements != nil {
		t.Errorf("Place() with nil projection = %v, expected nil", placements)
	}
}

func TestPlaceSingleOverlayGoesAbove(t *testing.T) {
	e := New(DefaultOptions())
	for _, p := range []Point{{0, 0}, {512, 300}, {-40, 9000}} {
		placements, ok := e.Place(items(p), pixelProjection{})
		if !ok || len(placements) != 1 {
			t.Fatalf("Place(%v) = %v, %v", p, placements, ok)
		}
		if placements[0].Candidate != 0 {
			t.Errorf("Place(%v) candidate = %d, expected 0", p, placements[0].Candidate)
		}
		if placements[0].Point != (Point{p.X, p.Y - 16}) {
			t.Errorf("Place(%v) point = %+v", p, placements[0].Point)
		}
	}
}

func TestPlaceSampleScenario(t *testing.T) {
	e := New(Options{Width: 240, Height: 110, Margin: 8, Gap: 16})
	placements, ok := e.Place(items(Point{100, 100}, Point{105, 100}, Point{110, 100}), pixelProjection{})
	if !ok {
		t.Fatal("Place() not ready")
	}
	if len(placements) != 3 {
		t.Fatalf("len(placements) = %d, expected 3", len(placements))
	}

	byKey := make(map[string]Placement)
	for _, p := range placements {
		byKey[p.Key] = p
	}
	if got := byKey["ST-1"].CandidateName(); got != "above" {
		t.Errorf("first overlay placed %q, expected above", got)
	}
	if got := byKey["ST-2"].CandidateName(); got != "right" {
		t.Errorf("second overlay placed %q, expected right", got)
	}
	if got := byKey["ST-3"].Candidate; got < 2 {
		t.Errorf("third overlay candidate = %d, expected left or farther", got)
	}
	for _, p := range placements {
		if p.Overlapped {
			t.Errorf("%s reported overlapped", p.Key)
		}
	}
	assertNoIntersections(t, placements)
}

func TestPlaceSparseAnchorsNeverIntersect(t *testing.T) {
	opts := DefaultOptions()
	e := New(opts)
	step := 2 * (opts.Width + opts.Margin)

	var anchors []Point
	for row := 0; row < 6; row++ {
		for col := 0; col < 6; col++ {
			anchors = append(anchors, Point{X: float64(col) * step, Y: float64(row) * step})
		}
	}
	placements, _ := e.Place(items(anchors...), pixelProjection{})
	if len(placements) != len(anchors) {
		t.Fatalf("len(placements) = %d, expected %d", len(placements), len(anchors))
	}
	assertNoIntersections(t, placements)
}

func TestPlaceIsDeterministic(t *testing.T) {
	e := New(DefaultOptions())
	in := items(
		Point{300, 200}, Point{310, 205}, Point{300, 200}, Point{50, 400},
		Point{320, 190}, Point{900, 10}, Point{305, 202},
	)
	first, _ := e.Place(in, pixelProjection{})
	second, _ := e.Place(in, pixelProjection{})
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Place() not deterministic:\n%v\n%v", first, second)
	}

	reversed := make([]Item, len(in))
	for i := range in {
		reversed[len(in)-1-i] = in[i]
	}
	third, _ := e.Place(reversed, pixelProjection{})
	if !reflect.DeepEqual(first, third) {
		t.Errorf("Place() depends on input order:\n%v\n%v", first, third)
	}
}

func TestPlaceCoincidentAnchors(t *testing.T) {
	e := New(DefaultOptions())
	placements, _ := e.Place(items(Point{200, 200}, Point{200, 200}), pixelProjection{})
	if len(placements) != 2 {
		t.Fatalf("len(placements) = %d, expected 2", len(placements))
	}
	if placements[0].Candidate == placements[1].Candidate {
		t.Errorf("coincident anchors share candidate %d", placements[0].Candidate)
	}
	assertNoIntersections(t, placements)
}

func TestPlaceDenseClusterTerminates(t *testing.T) {
	e := New(DefaultOptions())
	var anchors []Point
	for i := 0; i < 40; i++ {
		anchors = append(anchors, Point{X: 500 + float64(i%5), Y: 500 + float64(i/5)})
	}
	placements, ok := e.Place(items(anchors...), pixelProjection{})
	if !ok {
		t.Fatal("Place() not ready")
	}
	if len(placements) != len(anchors) {
		t.Fatalf("len(placements) = %d, expected %d", len(placements), len(anchors))
	}

	seen := make(map[string]bool)
	overlapped := 0
	for _, p := range placements {
		seen[p.Key] = true
		if p.Overlapped {
			overlapped++
			if p.Candidate != 0 {
				t.Errorf("%s overlapped on candidate %d, expected fallback to 0", p.Key, p.Candidate)
			}
		}
	}
	if len(seen) != len(anchors) {
		t.Errorf("%d distinct overlays placed, expected %d", len(seen), len(anchors))
	}
	if overlapped == 0 {
		t.Error("expected some overlays to fall back in a 40 overlay cluster")
	}
}

func TestPlaceConvertsBackToGeocoordinate(t *testing.T) {
	e := New(DefaultOptions())
	placements, _ := e.Place(items(Point{10, 20}), pixelProjection{})
	want := orb.Point{10, 4}
	if placements[0].Position != want {
		t.Errorf("Position = %v, expected %v", placements[0].Position, want)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default", DefaultOptions(), false},
		{"zero width", Options{Width: 0, Height: 10}, true},
		{"negative margin", Options{Width: 10, Height: 10, Margin: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
