package mapview

import (
	"fmt"
	"sync"

	"github.com/jonwillington/filter-mapkit/engine"
)

type fakeListener struct {
	event string
	layer string
	h     engine.Handler
}

// fakeMap is a counting double for engine.Map. It tracks every mutation so
// tests can assert call balance, and lets tests drive lifecycle events and
// style loading by hand.
type fakeMap struct {
	mu          sync.Mutex
	styleLoaded bool
	removed     bool
	styleURL    string
	zoom        float64
	cursor      string

	sources   map[string]engine.SourceSpec
	layers    map[string]engine.LayerSpec
	listeners map[engine.ListenerID]fakeListener
	nextID    engine.ListenerID

	addSourceCalls    int
	removeSourceCalls int
	addLayerCalls     int
	removeLayerCalls  int
	resizeCalls       int
	setStyleCalls     int

	easeCalls []engine.CameraOptions
	flyCalls  []engine.CameraOptions
	jumpCalls []engine.CameraOptions

	expansionZoom float64
	expansionErr  error
}

func newFakeMap(styleLoaded bool, zoom float64) *fakeMap {
	return &fakeMap{
		styleLoaded: styleLoaded,
		zoom:        zoom,
		sources:     make(map[string]engine.SourceSpec),
		layers:      make(map[string]engine.LayerSpec),
		listeners:   make(map[engine.ListenerID]fakeListener),
	}
}

func (f *fakeMap) On(event string, h engine.Handler) engine.ListenerID {
	return f.OnLayer(event, "", h)
}

func (f *fakeMap) OnLayer(event, layerID string, h engine.Handler) engine.ListenerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners[f.nextID] = fakeListener{event: event, layer: layerID, h: h}
	return f.nextID
}

func (f *fakeMap) Off(id engine.ListenerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, id)
}

// fire dispatches an event to matching listeners, outside the fake's lock
// like the real engine.
func (f *fakeMap) fire(event, layer string, ev engine.Event) {
	ev.Type = event
	f.mu.Lock()
	var hs []engine.Handler
	for _, l := range f.listeners {
		if l.event == event && l.layer == layer {
			hs = append(hs, l.h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeMap) loadStyle() {
	f.mu.Lock()
	f.styleLoaded = true
	f.mu.Unlock()
	f.fire(engine.EventStyleData, "", engine.Event{})
}

func (f *fakeMap) AddSource(id string, spec engine.SourceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.styleLoaded {
		return fmt.Errorf("style not loaded")
	}
	if _, ok := f.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	f.sources[id] = spec
	f.addSourceCalls++
	return nil
}

func (f *fakeMap) RemoveSource(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sources[id]; !ok {
		return fmt.Errorf("no source %q", id)
	}
	delete(f.sources, id)
	f.removeSourceCalls++
	return nil
}

func (f *fakeMap) HasSource(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sources[id]
	return ok
}

func (f *fakeMap) AddLayer(spec engine.LayerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.styleLoaded {
		return fmt.Errorf("style not loaded")
	}
	if _, ok := f.sources[spec.Source]; !ok {
		return fmt.Errorf("no source %q", spec.Source)
	}
	f.layers[spec.ID] = spec
	f.addLayerCalls++
	return nil
}

func (f *fakeMap) RemoveLayer(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.layers[id]; !ok {
		return fmt.Errorf("no layer %q", id)
	}
	delete(f.layers, id)
	f.removeLayerCalls++
	return nil
}

func (f *fakeMap) HasLayer(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.layers[id]
	return ok
}

func (f *fakeMap) QueryRenderedFeatures(engine.ScreenPoint, []string) []engine.Feature {
	return nil
}

func (f *fakeMap) ClusterExpansionZoom(string, uint32) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expansionZoom, f.expansionErr
}

func (f *fakeMap) EaseTo(opts engine.CameraOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.easeCalls = append(f.easeCalls, opts)
}

func (f *fakeMap) FlyTo(opts engine.CameraOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flyCalls = append(f.flyCalls, opts)
}

func (f *fakeMap) JumpTo(opts engine.CameraOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jumpCalls = append(f.jumpCalls, opts)
}

func (f *fakeMap) GetZoom() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoom
}

func (f *fakeMap) setZoom(z float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoom = z
}

func (f *fakeMap) GetCenter() engine.LngLat { return engine.LngLat{} }

func (f *fakeMap) Project(engine.LngLat) engine.ScreenPoint { return engine.ScreenPoint{} }

func (f *fakeMap) Resize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizeCalls++
}

func (f *fakeMap) SetStyle(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.styleURL = url
	f.styleLoaded = false
	f.setStyleCalls++
}

func (f *fakeMap) IsStyleLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.styleLoaded
}

func (f *fakeMap) SetCursor(cursor string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = cursor
}

func (f *fakeMap) Cursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

func (f *fakeMap) Remove() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

func (f *fakeMap) Removed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed
}

func (f *fakeMap) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeMap) stats() (addSrc, rmSrc, addLayer, rmLayer int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addSourceCalls, f.removeSourceCalls, f.addLayerCalls, f.removeLayerCalls
}

func (f *fakeMap) sourceSpec(id string) (engine.SourceSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.sources[id]
	return spec, ok
}
