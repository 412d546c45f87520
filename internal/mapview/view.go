// Package mapview models the station map each console tab renders: its
// viewport, the set of open station overlays and their laid-out positions.
package mapview

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/MADA-gnuBD/bikeops/internal/layout"
	"github.com/MADA-gnuBD/bikeops/internal/metrics"
	"github.com/MADA-gnuBD/bikeops/models"
)

var (
	ErrViewNotFound    = errors.New("map view not found")
	ErrStationNotFound = errors.New("station not found")
	ErrOverlayNotOpen  = errors.New("overlay not open")
)

// Layout triggers, used as metric labels.
const (
	TriggerViewport = "viewport"
	TriggerOpen     = "open"
	TriggerDismiss  = "dismiss"
	TriggerContent  = "content"
	TriggerStations = "stations"
	TriggerStatus   = "status"
)

// StatusFunc classifies a station for marker and overlay colouring.
type StatusFunc func(models.Station) string

// Content is the text block of an overlay.
type Content struct {
	StationName    string `json:"stationName"`
	Bikes          int    `json:"bikes"`
	Racks          int    `json:"racks"`
	Status         string `json:"status,omitempty"`
	Minutes        int    `json:"minutes,omitempty"`
	PredictedDelta *int   `json:"predictedDelta,omitempty"`
	ExpectedFinal  *int   `json:"expectedFinal,omitempty"`
}

// Overlay is an open info box anchored to a station marker.
type Overlay struct {
	StationID string     `json:"stationId"`
	Anchor    orb.Point  `json:"anchor"`
	Content   Content    `json:"content"`
	OpenedAt  time.Time  `json:"openedAt"`
	Position  *orb.Point `json:"position,omitempty"`
	// Placement is nil until the view has a viewport.
	Placement *layout.Placement `json:"placement,omitempty"`
}

// State is a copy of a view handed out to callers.
type State struct {
	ViewID    string    `json:"viewId"`
	Ready     bool      `json:"ready"`
	Viewport  *Viewport `json:"viewport,omitempty"`
	Overlays  []Overlay `json:"overlays"`
	LaidOutAt time.Time `json:"laidOutAt,omitempty"`
}

// View owns the overlay set of one map. At most one overlay exists per
// station. Every mutation re-runs layout before returning.
type View struct {
	mu sync.Mutex

	id       string
	owner    string
	engine   *layout.Engine
	status   StatusFunc
	onLayout func(State)

	viewport  *Viewport
	stations  map[string]models.Station
	overlays  map[string]*Overlay
	laidOutAt time.Time
	touched   time.Time
}

func newView(id, owner string, engine *layout.Engine, status StatusFunc, onLayout func(State)) *View {
	return &View{
		id:       id,
		owner:    owner,
		engine:   engine,
		status:   status,
		onLayout: onLayout,
		stations: make(map[string]models.Station),
		overlays: make(map[string]*Overlay),
		touched:  time.Now(),
	}
}

// ID returns the view id.
func (v *View) ID() string { return v.id }

// Owner returns the session that created the view, or "".
func (v *View) Owner() string { return v.owner }

// State returns a copy of the view.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touched = time.Now()
	return v.stateLocked()
}

// SetViewport records a settled pan or zoom.
func (v *View) SetViewport(vp Viewport) (State, error) {
	if err := vp.Validate(); err != nil {
		return State{}, err
	}
	return v.mutate(TriggerViewport, func() error {
		v.viewport = &vp
		return nil
	})
}

// Open shows the overlay of a station. Opening an already open station
// keeps the existing overlay.
func (v *View) Open(stationID string) (State, error) {
	return v.mutate(TriggerOpen, func() error {
		st, ok := v.stations[stationID]
		if !ok {
			return ErrStationNotFound
		}
		if _, open := v.overlays[stationID]; open {
			return nil
		}
		v.overlays[stationID] = &Overlay{
			StationID: stationID,
			Anchor:    st.Point(),
			Content:   v.contentFor(st, Content{}),
			OpenedAt:  time.Now().UTC(),
		}
		return nil
	})
}

// Dismiss closes the overlay of a station.
func (v *View) Dismiss(stationID string) (State, error) {
	return v.mutate(TriggerDismiss, func() error {
		if _, open := v.overlays[stationID]; !open {
			return ErrOverlayNotOpen
		}
		delete(v.overlays, stationID)
		return nil
	})
}

// ApplyPrediction updates the predicted delta and expected final stock of an
// open overlay.
func (v *View) ApplyPrediction(p models.Prediction) (State, error) {
	return v.mutate(TriggerContent, func() error {
		ov, open := v.overlays[p.StationID]
		if !open {
			return ErrOverlayNotOpen
		}
		delta := p.Delta()
		ov.Content.PredictedDelta = &delta
		ov.Content.Minutes = p.Minutes
		final := models.ExpectedFinalStock(ov.Content.Bikes, delta)
		ov.Content.ExpectedFinal = &final
		return nil
	})
}

// ReplaceStations swaps in a new station set. Overlays whose station is
// gone are dropped; the rest pick up fresh counts and anchors.
func (v *View) ReplaceStations(stations []models.Station) State {
	st, _ := v.mutate(TriggerStations, func() error {
		v.loadStations(stations)
		for id, ov := range v.overlays {
			s, ok := v.stations[id]
			if !ok {
				delete(v.overlays, id)
				continue
			}
			ov.Anchor = s.Point()
			ov.Content = v.contentFor(s, ov.Content)
		}
		return nil
	})
	return st
}

// RefreshStatus re-classifies every open overlay, for example after the
// work queue changed.
func (v *View) RefreshStatus() State {
	st, _ := v.mutate(TriggerStatus, func() error {
		for id, ov := range v.overlays {
			ov.Content = v.contentFor(v.stations[id], ov.Content)
		}
		return nil
	})
	return st
}

func (v *View) loadStations(stations []models.Station) {
	v.stations = make(map[string]models.Station, len(stations))
	for _, s := range stations {
		v.stations[s.ID] = s
	}
}

// contentFor rebuilds the station part of the content and keeps the
// prediction, recomputing the expected final stock from the new count.
func (v *View) contentFor(s models.Station, prev Content) Content {
	c := Content{
		StationName:    s.Name,
		Bikes:          s.Bikes,
		Racks:          s.Racks,
		Minutes:        prev.Minutes,
		PredictedDelta: prev.PredictedDelta,
	}
	if v.status != nil {
		c.Status = v.status(s)
	}
	if c.PredictedDelta != nil {
		final := models.ExpectedFinalStock(s.Bikes, *c.PredictedDelta)
		c.ExpectedFinal = &final
	}
	return c
}

// mutate applies fn and re-runs layout, all under the view lock. The layout
// listener is called after the lock is released.
func (v *View) mutate(trigger string, fn func() error) (State, error) {
	v.mu.Lock()
	v.touched = time.Now()
	if err := fn(); err != nil {
		v.mu.Unlock()
		return State{}, err
	}
	v.relayoutLocked(trigger)
	st := v.stateLocked()
	v.mu.Unlock()

	if v.onLayout != nil {
		v.onLayout(st)
	}
	return st, nil
}

func (v *View) relayoutLocked(trigger string) {
	if v.viewport == nil {
		// not ready: keep overlays but drop stale placements
		for _, ov := range v.overlays {
			ov.Position, ov.Placement = nil, nil
		}
		return
	}

	items := make([]layout.Item, 0, len(v.overlays))
	for id, ov := range v.overlays {
		items = append(items, layout.Item{Key: id, Anchor: ov.Anchor})
	}

	start := time.Now()
	placements, _ := v.engine.Place(items, *v.viewport)
	fallbacks := 0
	for i := range placements {
		p := placements[i]
		ov := v.overlays[p.Key]
		pos := p.Position
		ov.Position = &pos
		ov.Placement = &p
		if p.Overlapped {
			fallbacks++
		}
	}
	v.laidOutAt = time.Now().UTC()
	metrics.RecordLayout(trigger, time.Since(start), fallbacks)
}

func (v *View) stateLocked() State {
	st := State{
		ViewID:    v.id,
		Ready:     v.viewport != nil,
		Overlays:  make([]Overlay, 0, len(v.overlays)),
		LaidOutAt: v.laidOutAt,
	}
	if v.viewport != nil {
		vp := *v.viewport
		st.Viewport = &vp
	}
	for _, ov := range v.overlays {
		st.Overlays = append(st.Overlays, copyOverlay(ov))
	}
	sort.Slice(st.Overlays, func(i, j int) bool {
		return st.Overlays[i].StationID < st.Overlays[j].StationID
	})
	return st
}

func copyOverlay(ov *Overlay) Overlay {
	out := *ov
	if ov.Position != nil {
		p := *ov.Position
		out.Position = &p
	}
	if ov.Placement != nil {
		p := *ov.Placement
		out.Placement = &p
	}
	if ov.Content.PredictedDelta != nil {
		d := *ov.Content.PredictedDelta
		out.Content.PredictedDelta = &d
	}
	if ov.Content.ExpectedFinal != nil {
		f := *ov.Content.ExpectedFinal
		out.Content.ExpectedFinal = &f
	}
	return out
}

func (v *View) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.touched
}
