// Package mapview hosts the map instance manager and the clustering/marker
// controller: the orchestration layer between shop data, the marker factory,
// and a live map engine.
package mapview

import (
	"github.com/jonwillington/filter-mapkit/engine"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/marker"

	"sync"
)

// EngineBuilder constructs a map instance for a style URL. Injected so
// sessions run the sim and tests run counting fakes.
type EngineBuilder func(styleURL string) engine.Map

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	LightStyleURL    string
	DarkStyleURL     string
	SupportedRegions []string
	// OnReady fires each time a style finishes loading, including after a
	// theme swap.
	OnReady func(m engine.Map)
}

// Manager runs the map instance lifecycle: build the engine once, wait for
// its style to load, apply the region overlay, swap styles on theme change,
// and tear everything down cleanly. The style-loaded signal can fire before
// the listener attaches (cached style) or twice, so readiness is tracked
// with explicit flags rather than inferred from listener calls.
type Manager struct {
	mu            sync.Mutex
	build         EngineBuilder
	opts          ManagerOptions
	m             engine.Map
	styleListener engine.ListenerID
	hasListener   bool
	initStarted   bool
	ready         bool
	theme         marker.Theme
	supported     []string
}

func NewManager(build EngineBuilder, opts ManagerOptions) *Manager {
	return &Manager{
		build:     build,
		opts:      opts,
		supported: append([]string(nil), opts.SupportedRegions...),
	}
}

func (mg *Manager) styleFor(theme marker.Theme) string {
	if theme == marker.ThemeDark {
		return mg.opts.DarkStyleURL
	}
	return mg.opts.LightStyleURL
}

// Init builds the engine and starts waiting for its style. It runs at most
// once per manager lifetime; later calls return false. The guard is a flag,
// not a nil check, because the engine's async load events can race teardown.
func (mg *Manager) Init(theme marker.Theme) bool {
	mg.mu.Lock()
	if mg.initStarted {
		mg.mu.Unlock()
		return false
	}
	mg.initStarted = true
	mg.theme = theme
	m := mg.build(mg.styleFor(theme))
	mg.m = m
	mg.mu.Unlock()

	id := m.On(engine.EventStyleData, func(engine.Event) {
		mg.handleStyleLoaded()
	})

	mg.mu.Lock()
	mg.styleListener = id
	mg.hasListener = true
	mg.mu.Unlock()

	// A cached style can finish loading before the listener attaches, so the
	// signal would never arrive; check synchronously and run the ready path
	// by hand. The idempotency flag makes the double-fire harmless.
	if m.IsStyleLoaded() {
		mg.handleStyleLoaded()
	}
	return true
}

// handleStyleLoaded is the Initializing → Ready transition. Its body runs at
// most once per style load.
func (mg *Manager) handleStyleLoaded() {
	mg.mu.Lock()
	if mg.ready || mg.m == nil || mg.m.Removed() {
		mg.mu.Unlock()
		return
	}
	mg.ready = true
	m := mg.m
	supported := append([]string(nil), mg.supported...)
	onReady := mg.opts.OnReady
	mg.mu.Unlock()

	if !mg.ApplyRegionOverlay(supported) {
		logger.L().Warn("region overlay not applied on style load")
	}
	if onReady != nil {
		onReady(m)
	}
}

// SetTheme swaps the base style when the theme actually changed, dropping
// back to the Initializing state until the new style loads.
func (mg *Manager) SetTheme(theme marker.Theme) {
	mg.mu.Lock()
	if mg.m == nil || theme == mg.theme {
		mg.mu.Unlock()
		return
	}
	mg.theme = theme
	mg.ready = false
	m := mg.m
	url := mg.styleFor(theme)
	mg.mu.Unlock()

	m.SetStyle(url)
	if m.IsStyleLoaded() {
		mg.handleStyleLoaded()
	}
}

// SetSupportedRegions replaces the allow-list and recomputes the overlay if
// the style is already up.
func (mg *Manager) SetSupportedRegions(supported []string) {
	mg.mu.Lock()
	mg.supported = append([]string(nil), supported...)
	ready := mg.ready
	mg.mu.Unlock()
	if ready {
		mg.ApplyRegionOverlay(supported)
	}
}

// ApplyRegionOverlay dims every built-in region missing from the allow-list.
// It returns false, never panics, when the style is not loaded yet: layer
// mutation before style load is a silent no-op in real engines, and
// pretending it worked would leave the overlay permanently missing.
func (mg *Manager) ApplyRegionOverlay(supported []string) bool {
	mg.mu.Lock()
	mg.supported = append([]string(nil), supported...)
	m := mg.m
	mg.mu.Unlock()

	if m == nil || m.Removed() || !m.IsStyleLoaded() {
		return false
	}

	if m.HasLayer(overlayLayerID) {
		if err := m.RemoveLayer(overlayLayerID); err != nil {
			return false
		}
	}
	if m.HasSource(overlaySourceID) {
		if err := m.RemoveSource(overlaySourceID); err != nil {
			return false
		}
	}

	if err := m.AddSource(overlaySourceID, engine.SourceSpec{Boxes: UnsupportedBoxes(supported)}); err != nil {
		return false
	}
	err := m.AddLayer(engine.LayerSpec{
		ID:     overlayLayerID,
		Source: overlaySourceID,
		Type:   engine.LayerFill,
		Paint: map[string]interface{}{
			"fill-color":   "#0B0B0B",
			"fill-opacity": 0.25,
		},
	})
	return err == nil
}

// Ready reports whether the current style has loaded.
func (mg *Manager) Ready() bool {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.ready
}

// Theme returns the currently applied theme.
func (mg *Manager) Theme() marker.Theme {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.theme
}

// Map returns the managed engine instance, nil before Init.
func (mg *Manager) Map() engine.Map {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return mg.m
}

// Teardown removes the manager's listener, destroys the engine instance,
// and resets every flag so a rebuilt manager starts clean.
func (mg *Manager) Teardown() {
	mg.mu.Lock()
	m := mg.m
	hasListener := mg.hasListener
	id := mg.styleListener
	mg.m = nil
	mg.hasListener = false
	mg.initStarted = false
	mg.ready = false
	mg.mu.Unlock()

	if m == nil {
		return
	}
	if hasListener {
		m.Off(id)
	}
	m.Remove()
}
