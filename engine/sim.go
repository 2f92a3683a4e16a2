package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonwillington/filter-mapkit/cluster"
)

const (
	defaultWidth  = 1280.0
	defaultHeight = 800.0
	defaultTick   = 16 * time.Millisecond
	worldTileSize = 512.0

	// hitRadius is how close (in pixels) a query point must be to a feature
	// to count as hitting it.
	hitRadius = 12.0
)

// SimOptions configures a simulation engine instance.
type SimOptions struct {
	StyleURL string
	Center   LngLat
	Zoom     float64
	Width    float64
	Height   float64
	// StyleLoadDelay is how long the initial style "fetch" takes. Zero loads
	// the style synchronously inside NewSim, before any listener can attach,
	// which is exactly the race callers have to survive.
	StyleLoadDelay time.Duration
	TickInterval   time.Duration
}

type simListener struct {
	event string
	layer string
	h     Handler
}

type simSource struct {
	spec  SourceSpec
	index *cluster.Supercluster
}

// Sim is an in-process map engine: asynchronous style loading, an event bus,
// cluster-enabled sources and eased camera animation, with no rendering.
type Sim struct {
	mu   sync.Mutex
	opts SimOptions

	zoom        float64
	center      LngLat
	styleURL    string
	styleLoaded bool
	removed     bool
	cursor      string
	dragging    bool

	nextID    ListenerID
	listeners map[ListenerID]simListener

	sources map[string]*simSource
	layers  []LayerSpec

	styleTimer *time.Timer
	animCancel chan struct{}
}

// NewSim constructs a simulation engine and begins loading its style.
func NewSim(opts SimOptions) *Sim {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTick
	}

	s := &Sim{
		opts:      opts,
		zoom:      opts.Zoom,
		center:    opts.Center,
		styleURL:  opts.StyleURL,
		listeners: make(map[ListenerID]simListener),
		sources:   make(map[string]*simSource),
	}
	s.beginStyleLoad(opts.StyleLoadDelay)
	return s
}

func (s *Sim) beginStyleLoad(delay time.Duration) {
	if delay <= 0 {
		s.styleLoaded = true
		// Locally cached style: loaded before anyone can listen. The
		// styledata event still fires for whoever is attached (no one).
		go s.emit(Event{Type: EventStyleData})
		return
	}
	s.styleTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			return
		}
		s.styleLoaded = true
		s.mu.Unlock()
		s.emit(Event{Type: EventStyleData})
		s.emit(Event{Type: EventIdle})
	})
}

// emit calls every matching handler outside the engine lock.
func (s *Sim) emit(ev Event) {
	s.emitLayer(ev, "")
}

func (s *Sim) emitLayer(ev Event, layer string) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	var hs []Handler
	for _, l := range s.listeners {
		if l.event == ev.Type && l.layer == layer {
			hs = append(hs, l.h)
		}
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

func (s *Sim) On(event string, h Handler) ListenerID {
	return s.OnLayer(event, "", h)
}

func (s *Sim) OnLayer(event, layerID string, h Handler) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = simListener{event: event, layer: layerID, h: h}
	return id
}

func (s *Sim) Off(id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

// ListenerCount reports live registrations; test and debug hook.
func (s *Sim) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Sim) AddSource(id string, spec SourceSpec) error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return nil
	}
	if !s.styleLoaded {
		s.mu.Unlock()
		return fmt.Errorf("cannot add source %s: style not loaded", id)
	}
	if _, exists := s.sources[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("source %s already exists", id)
	}

	src := &simSource{spec: spec}
	if spec.Cluster {
		src.index = cluster.NewSupercluster(cluster.SuperclusterOptions{
			Radius:  spec.ClusterRadius,
			MaxZoom: spec.ClusterMaxZoom,
		})
		src.index.Load(spec.Points)
	}
	s.sources[id] = src
	s.mu.Unlock()

	s.emit(Event{Type: EventSourceData})
	return nil
}

func (s *Sim) RemoveSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}
	if _, exists := s.sources[id]; !exists {
		return fmt.Errorf("source %s does not exist", id)
	}
	delete(s.sources, id)
	return nil
}

func (s *Sim) HasSource(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sources[id]
	return ok
}

func (s *Sim) AddLayer(spec LayerSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}
	if !s.styleLoaded {
		return fmt.Errorf("cannot add layer %s: style not loaded", spec.ID)
	}
	if _, exists := s.sources[spec.Source]; !exists {
		return fmt.Errorf("layer %s references unknown source %s", spec.ID, spec.Source)
	}
	for _, l := range s.layers {
		if l.ID == spec.ID {
			return fmt.Errorf("layer %s already exists", spec.ID)
		}
	}
	s.layers = append(s.layers, spec)
	return nil
}

func (s *Sim) RemoveLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}
	for i, l := range s.layers {
		if l.ID == id {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("layer %s does not exist", id)
}

func (s *Sim) HasLayer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.layers {
		if l.ID == id {
			return true
		}
	}
	return false
}

// featuresForLayer resolves a layer's current features at the given zoom.
// Caller holds s.mu.
func (s *Sim) featuresForLayer(spec LayerSpec, zoom float64) []Feature {
	src, ok := s.sources[spec.Source]
	if !ok {
		return nil
	}

	var features []Feature
	if src.index != nil {
		nodes := src.index.GetClusters(cluster.WorldBounds(), int(zoom))
		for _, n := range nodes {
			isCluster := n.Count > 1
			if spec.Filter == FilterClusters && !isCluster {
				continue
			}
			if spec.Filter == FilterLeaves && isCluster {
				continue
			}
			features = append(features, Feature{
				ShopID:     n.ShopID,
				ClusterID:  n.ID,
				Cluster:    isCluster,
				PointCount: n.Count,
				Color:      src.index.Tree.Pool.Get(n.ColorIdx),
				LngLat:     LngLat{Lng: float64(n.X), Lat: float64(n.Y)},
				Layer:      spec.ID,
			})
		}
		return features
	}

	for _, p := range src.spec.Points {
		features = append(features, Feature{
			ShopID:     p.ShopID,
			Cluster:    false,
			PointCount: 1,
			Color:      p.Color,
			LngLat:     LngLat{Lng: float64(p.X), Lat: float64(p.Y)},
			Layer:      spec.ID,
		})
	}
	return features
}

func (s *Sim) QueryRenderedFeatures(p ScreenPoint, layerIDs []string) []Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}

	want := make(map[string]bool, len(layerIDs))
	for _, id := range layerIDs {
		want[id] = true
	}

	var hits []Feature
	// Later layers paint on top, so walk them first.
	for i := len(s.layers) - 1; i >= 0; i-- {
		spec := s.layers[i]
		if len(layerIDs) > 0 && !want[spec.ID] {
			continue
		}
		for _, f := range s.featuresForLayer(spec, s.zoom) {
			sp := s.project(f.LngLat)
			dx, dy := sp.X-p.X, sp.Y-p.Y
			if dx*dx+dy*dy <= hitRadius*hitRadius {
				hits = append(hits, f)
			}
		}
	}
	return hits
}

// VisibleFeatures returns every feature currently inside the viewport for
// the given layers (all layers when none given). Session serving hook, not
// part of the Map interface.
func (s *Sim) VisibleFeatures(layerIDs ...string) []Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}

	want := make(map[string]bool, len(layerIDs))
	for _, id := range layerIDs {
		want[id] = true
	}

	var out []Feature
	for _, spec := range s.layers {
		if len(layerIDs) > 0 && !want[spec.ID] {
			continue
		}
		for _, f := range s.featuresForLayer(spec, s.zoom) {
			sp := s.project(f.LngLat)
			if sp.X >= 0 && sp.X <= s.opts.Width && sp.Y >= 0 && sp.Y <= s.opts.Height {
				out = append(out, f)
			}
		}
	}
	return out
}

func (s *Sim) ClusterExpansionZoom(sourceID string, clusterID uint32) (float64, error) {
	s.mu.Lock()
	src, ok := s.sources[sourceID]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("source %s does not exist", sourceID)
	}
	if src.index == nil {
		return 0, fmt.Errorf("source %s is not clustered", sourceID)
	}
	zoom, err := src.index.ExpansionZoom(clusterID)
	if err != nil {
		return 0, err
	}
	return float64(zoom), nil
}

func easeOutCubic(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}

// animate drives an eased camera move on its own goroutine, cancelling any
// move already in flight.
func (s *Sim) animate(opts CameraOptions, defaultDuration time.Duration) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	if s.animCancel != nil {
		close(s.animCancel)
	}
	cancel := make(chan struct{})
	s.animCancel = cancel

	fromZoom, fromCenter := s.zoom, s.center
	toZoom := opts.Zoom
	toCenter := s.offsetCenter(opts.Center, opts.Offset, toZoom)
	duration := opts.Duration
	if duration <= 0 {
		duration = defaultDuration
	}
	tick := s.opts.TickInterval
	s.mu.Unlock()

	zoomChanges := math.Abs(toZoom-fromZoom) > 1e-9

	go func() {
		s.emit(Event{Type: EventMoveStart})
		if zoomChanges {
			s.emit(Event{Type: EventZoomStart})
		}

		start := time.Now()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				t := float64(time.Since(start)) / float64(duration)
				done := t >= 1
				if done {
					t = 1
				}
				p := easeOutCubic(t)

				s.mu.Lock()
				if s.removed {
					s.mu.Unlock()
					return
				}
				s.zoom = fromZoom + (toZoom-fromZoom)*p
				s.center = LngLat{
					Lng: fromCenter.Lng + (toCenter.Lng-fromCenter.Lng)*p,
					Lat: fromCenter.Lat + (toCenter.Lat-fromCenter.Lat)*p,
				}
				s.mu.Unlock()

				s.emit(Event{Type: EventMove})
				if done {
					if zoomChanges {
						s.emit(Event{Type: EventZoomEnd})
					}
					s.emit(Event{Type: EventMoveEnd})
					s.mu.Lock()
					idle := !s.dragging
					if s.animCancel == cancel {
						s.animCancel = nil
					}
					s.mu.Unlock()
					if idle {
						s.emit(Event{Type: EventIdle})
					}
					return
				}
			}
		}
	}()
}

func (s *Sim) EaseTo(opts CameraOptions) {
	s.animate(opts, 500*time.Millisecond)
}

func (s *Sim) FlyTo(opts CameraOptions) {
	s.animate(opts, 1200*time.Millisecond)
}

func (s *Sim) JumpTo(opts CameraOptions) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	if s.animCancel != nil {
		close(s.animCancel)
		s.animCancel = nil
	}
	s.zoom = opts.Zoom
	s.center = s.offsetCenter(opts.Center, opts.Offset, opts.Zoom)
	s.mu.Unlock()

	s.emit(Event{Type: EventMoveStart})
	s.emit(Event{Type: EventMove})
	s.emit(Event{Type: EventMoveEnd})
	s.emit(Event{Type: EventIdle})
}

// BeginDrag simulates a user grabbing the map. Test and demo hook.
func (s *Sim) BeginDrag() {
	s.mu.Lock()
	if s.removed || s.dragging {
		s.mu.Unlock()
		return
	}
	s.dragging = true
	s.mu.Unlock()

	s.emit(Event{Type: EventDragStart})
	s.emit(Event{Type: EventMoveStart})
}

// DragBy pans the map by viewport pixels during a drag.
func (s *Sim) DragBy(dx, dy float64) {
	s.mu.Lock()
	if s.removed || !s.dragging {
		s.mu.Unlock()
		return
	}
	cp := s.project(s.center)
	s.center = s.unproject(ScreenPoint{X: cp.X - dx, Y: cp.Y - dy})
	s.mu.Unlock()

	s.emit(Event{Type: EventMove})
}

// EndDrag releases the drag and lets the map settle.
func (s *Sim) EndDrag() {
	s.mu.Lock()
	if s.removed || !s.dragging {
		s.mu.Unlock()
		return
	}
	s.dragging = false
	s.mu.Unlock()

	s.emit(Event{Type: EventDragEnd})
	s.emit(Event{Type: EventMoveEnd})
	s.emit(Event{Type: EventIdle})
}

// Click simulates a tap at a viewport position: the topmost hit layer's
// click listeners fire with the features under the cursor, then map-level
// click listeners fire.
func (s *Sim) Click(p ScreenPoint) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	ll := s.unproject(p)
	var hitLayer string
	var hits []Feature
	for i := len(s.layers) - 1; i >= 0 && hitLayer == ""; i-- {
		spec := s.layers[i]
		for _, f := range s.featuresForLayer(spec, s.zoom) {
			sp := s.project(f.LngLat)
			dx, dy := sp.X-p.X, sp.Y-p.Y
			if dx*dx+dy*dy <= hitRadius*hitRadius {
				hitLayer = spec.ID
				hits = append(hits, f)
			}
		}
	}
	s.mu.Unlock()

	ev := Event{Type: EventClick, Point: p, LngLat: ll, Features: hits}
	if hitLayer != "" {
		s.emitLayer(ev, hitLayer)
	}
	s.emit(ev)
}

// Hover simulates pointer entry over a layer. Test and demo hook.
func (s *Sim) Hover(layerID string, entering bool) {
	ev := Event{Type: EventMouseEnter}
	if !entering {
		ev.Type = EventMouseLeave
	}
	s.emitLayer(ev, layerID)
}

func (s *Sim) GetZoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

func (s *Sim) GetCenter() LngLat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center
}

// project converts lng/lat to viewport pixels at the current camera. Caller
// holds s.mu.
func (s *Sim) project(ll LngLat) ScreenPoint {
	world := worldTileSize * math.Pow(2, s.zoom)
	px := (ll.Lng + 180) / 360 * world
	sin := math.Sin(ll.Lat * math.Pi / 180)
	py := (0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi) * world

	cx := (s.center.Lng + 180) / 360 * world
	csin := math.Sin(s.center.Lat * math.Pi / 180)
	cy := (0.5 - 0.25*math.Log((1+csin)/(1-csin))/math.Pi) * world

	return ScreenPoint{
		X: px - cx + s.opts.Width/2,
		Y: py - cy + s.opts.Height/2,
	}
}

// unproject converts viewport pixels back to lng/lat. Caller holds s.mu.
func (s *Sim) unproject(p ScreenPoint) LngLat {
	world := worldTileSize * math.Pow(2, s.zoom)

	cx := (s.center.Lng + 180) / 360 * world
	csin := math.Sin(s.center.Lat * math.Pi / 180)
	cy := (0.5 - 0.25*math.Log((1+csin)/(1-csin))/math.Pi) * world

	wx := (p.X - s.opts.Width/2 + cx) / world
	wy := (p.Y - s.opts.Height/2 + cy) / world

	lng := wx*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*wy))) * 180 / math.Pi
	return LngLat{Lng: lng, Lat: lat}
}

// offsetCenter shifts a target center by viewport pixels at the target zoom.
// Caller holds s.mu.
func (s *Sim) offsetCenter(center LngLat, offset ScreenPoint, zoom float64) LngLat {
	if offset.X == 0 && offset.Y == 0 {
		return center
	}
	saved := s.zoom
	savedCenter := s.center
	s.zoom = zoom
	s.center = center
	out := s.unproject(ScreenPoint{
		X: s.opts.Width/2 - offset.X,
		Y: s.opts.Height/2 - offset.Y,
	})
	s.zoom = saved
	s.center = savedCenter
	return out
}

func (s *Sim) Project(ll LngLat) ScreenPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project(ll)
}

func (s *Sim) Resize() {
	// The sim has no renderer to nudge; accepting the call keeps callers
	// engine-agnostic.
}

func (s *Sim) SetStyle(url string) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.styleURL = url
	s.styleLoaded = false
	if s.styleTimer != nil {
		s.styleTimer.Stop()
	}
	delay := s.opts.StyleLoadDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	s.styleTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			return
		}
		s.styleLoaded = true
		s.mu.Unlock()
		s.emit(Event{Type: EventStyleData})
		s.emit(Event{Type: EventIdle})
	})
	s.mu.Unlock()
}

// StyleURL reports the current style. Test hook.
func (s *Sim) StyleURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.styleURL
}

func (s *Sim) IsStyleLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.styleLoaded
}

func (s *Sim) SetCursor(cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
}

// Cursor reports the current pointer affordance. Test hook.
func (s *Sim) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Sim) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	s.removed = true
	if s.styleTimer != nil {
		s.styleTimer.Stop()
	}
	if s.animCancel != nil {
		close(s.animCancel)
		s.animCancel = nil
	}
	s.listeners = make(map[ListenerID]simListener)
	s.sources = make(map[string]*simSource)
	s.layers = nil
}

func (s *Sim) Removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}
