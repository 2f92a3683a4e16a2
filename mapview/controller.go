package mapview

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonwillington/filter-mapkit/engine"
	"github.com/jonwillington/filter-mapkit/geo"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/marker"
	"github.com/jonwillington/filter-mapkit/metrics"
	"github.com/jonwillington/filter-mapkit/shop"
)

// Source and layer identifiers owned by the controller.
const (
	sourceShops         = "shops"
	sourceExpanded      = "shops-expanded"
	layerClusters       = "clusters"
	layerClusterCount   = "cluster-count"
	layerPoints         = "shop-points"
	layerExpandedPoints = "shop-points-expanded"
)

// Debounce keys.
const (
	keyBadgeShow      = "badge-show"
	keyRebuildRetry   = "rebuild-retry"
	keyTransitionDone = "transition-complete"
)

const (
	clusterPixelRadius = 50
	clusterMaxZoom     = 14

	// Badge shows after a programmatic camera move settle fast; shows after
	// an organic drag wait out the release glide.
	badgeShowProgrammatic = 150 * time.Millisecond
	badgeShowOrganic      = 450 * time.Millisecond

	// paintSettleDelay separates the idle event from the transition-complete
	// callback so the last frame lands first.
	paintSettleDelay = 100 * time.Millisecond

	rebuildRetryBackoff = 200 * time.Millisecond
	maxRebuildRetries   = 3

	// flyZoomDelta is the zoom gap past which a selection move flies instead
	// of easing.
	flyZoomDelta = 2.0

	// densityPixelRadius is the neighborhood radius for dot-vs-detailed mode
	// picks on expanded-pool markers.
	densityPixelRadius = 40.0
)

// panelOffset keeps an animated-to target clear of the side panel.
var panelOffset = engine.ScreenPoint{X: -180}

// Props is everything the controller needs per update. The controller keeps
// the latest value in a mutable cell and resolves shops and callbacks from
// it at event time, never from values captured when handlers were attached.
type Props struct {
	Shops         []shop.Shop
	SelectedID    string
	Theme         marker.Theme
	Zoom          float64
	Loading       bool
	ExpandedGroup string
	OnShopSelect  func(shop.Shop)
	// OnRebuild fires after a rebuild lands on the engine, including a
	// delayed retry that finally succeeds.
	OnRebuild            func()
	OnTransitionComplete func()
}

// Controller maintains exactly one consistent on-map representation of a
// shop list: a clustered circle-layer stack for most shops, individual
// markers for the expanded group, and a lazily created badge overlay for
// close zooms. Rebuilding the index is expensive and flickery, so it happens
// only when the shop set, expanded group, or theme actually changes;
// selection and zoom run cheap paths that never touch the index.
//
// Engine events, debounce timers, and retry timers fire on different
// goroutines; one mutex guards all controller state, and the id→handle maps
// are only mutated inside the locked rebuild body and the locked cheap
// paths, so no caller ever observes a partially rebuilt state.
type Controller struct {
	mu     sync.Mutex
	m      engine.Map
	images marker.ImageLoader
	deb    *Debouncer

	props Props

	built         bool
	builtKey      string
	builtExpanded string
	builtTheme    marker.Theme

	handles       map[string]*marker.Handle // expanded-pool markers
	badges        map[string]*marker.Handle
	badgesCreated bool

	globalListeners []engine.ListenerID
	layerListeners  []engine.ListenerID
	layerIDs        []string
	sourceIDs       []string

	zooming          bool
	dragging         bool
	programmaticMove bool
	transitionActive bool
	retryCount       int
	torndown         bool

	// updateSelection is marker.UpdateSelection behind a seam so tests can
	// count restyle calls.
	updateSelection func(h *marker.Handle, selected bool, s *shop.Shop)
}

// NewController attaches lifecycle listeners to the engine and returns a
// controller with nothing built yet; the first Update does the first build.
func NewController(m engine.Map, images marker.ImageLoader) *Controller {
	c := &Controller{
		m:               m,
		images:          images,
		deb:             NewDebouncer(),
		handles:         make(map[string]*marker.Handle),
		badges:          make(map[string]*marker.Handle),
		updateSelection: marker.UpdateSelection,
	}
	c.globalListeners = []engine.ListenerID{
		m.On(engine.EventMoveStart, c.onMoveStart),
		m.On(engine.EventZoomStart, c.onZoomStart),
		m.On(engine.EventZoomEnd, c.onZoomEnd),
		m.On(engine.EventDragStart, c.onDragStart),
		m.On(engine.EventDragEnd, c.onDragEnd),
		m.On(engine.EventIdle, c.onIdle),
	}
	return c
}

// rebuildKey derives the content identity of a shop list: sorted ids joined.
// Two lists with the same shops in any order produce the same key, so render
// passes that merely re-allocate the slice never trigger a rebuild.
func rebuildKey(shops []shop.Shop) string {
	ids := make([]string, 0, len(shops))
	for i := range shops {
		ids = append(ids, shops[i].ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func findShop(shops []shop.Shop, id string) *shop.Shop {
	if id == "" {
		return nil
	}
	for i := range shops {
		if shops[i].ID == id {
			return &shops[i]
		}
	}
	return nil
}

// Update feeds the controller the latest UI state. Rebuilds happen only when
// the shop set, expanded group, or theme changed (or on first run); selection
// and zoom changes run the cheap paths.
func (c *Controller) Update(p Props) {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}

	prev := c.props
	c.props = p

	if p.Loading && !prev.Loading {
		c.transitionActive = true
	}

	key := rebuildKey(p.Shops)
	if !c.built || key != c.builtKey || p.ExpandedGroup != c.builtExpanded || p.Theme != c.builtTheme {
		c.retryCount = 0
		c.deb.Cancel(keyRebuildRetry)
		rebuilt := c.attemptRebuildLocked()
		cb := c.props.OnRebuild
		c.mu.Unlock()
		if rebuilt && cb != nil {
			cb()
		}
		return
	}

	if p.SelectedID != prev.SelectedID {
		c.restyleSelectionLocked(prev.SelectedID, p.SelectedID)
	}
	if p.Zoom != prev.Zoom {
		c.handleZoomLocked(p.Zoom)
	}
	c.mu.Unlock()
}

func (c *Controller) live() bool {
	return c.m != nil && !c.m.Removed()
}

// attemptRebuildLocked runs one rebuild attempt and schedules a linearly
// backed-off retry when the engine was not ready. After the retry budget is
// spent the rebuild is abandoned with a log line only; a failed map never
// takes the host down with it.
func (c *Controller) attemptRebuildLocked() bool {
	if c.rebuildLocked() {
		c.retryCount = 0
		return true
	}

	c.retryCount++
	if c.retryCount > maxRebuildRetries {
		metrics.RebuildAbandonedTotal.Inc()
		logger.L().Warn("map rebuild abandoned", "attempts", maxRebuildRetries)
		c.retryCount = 0
		return false
	}

	metrics.RebuildRetriesTotal.Inc()
	backoff := time.Duration(c.retryCount) * rebuildRetryBackoff
	c.deb.Schedule(keyRebuildRetry, backoff, func() {
		c.mu.Lock()
		if c.torndown || !c.live() {
			c.mu.Unlock()
			return
		}
		rebuilt := c.attemptRebuildLocked()
		cb := c.props.OnRebuild
		c.mu.Unlock()
		if rebuilt && cb != nil {
			cb()
		}
	})
	return false
}

// rebuildLocked tears down the previous representation and builds the new
// one. Returns false without side effects beyond teardown when the engine
// is not ready for layer mutation.
func (c *Controller) rebuildLocked() bool {
	if !c.live() || !c.m.IsStyleLoaded() {
		return false
	}

	start := time.Now()
	c.teardownLayersLocked()

	clustered, unclustered := geo.Partition(c.props.Shops, c.props.ExpandedGroup)

	spec := engine.SourceSpec{
		Points:         geo.ClusterPoints(clustered),
		Cluster:        true,
		ClusterRadius:  clusterPixelRadius,
		ClusterMaxZoom: clusterMaxZoom,
	}
	if err := c.m.AddSource(sourceShops, spec); err != nil {
		return false
	}
	c.sourceIDs = append(c.sourceIDs, sourceShops)

	if err := c.addClusterLayersLocked(); err != nil {
		return false
	}

	if len(unclustered) > 0 {
		if err := c.m.AddSource(sourceExpanded, engine.SourceSpec{Points: geo.ClusterPoints(unclustered)}); err != nil {
			return false
		}
		c.sourceIDs = append(c.sourceIDs, sourceExpanded)
		err := c.m.AddLayer(engine.LayerSpec{
			ID:     layerExpandedPoints,
			Source: sourceExpanded,
			Type:   engine.LayerCircle,
			Paint:  leafPaint(),
		})
		if err != nil {
			return false
		}
		c.layerIDs = append(c.layerIDs, layerExpandedPoints)
	}

	c.attachLayerHandlersLocked(len(unclustered) > 0)
	c.buildExpandedMarkersLocked(unclustered)

	c.badgesCreated = false
	c.refreshBadgesLocked()
	c.m.Resize()

	c.built = true
	c.builtKey = rebuildKey(c.props.Shops)
	c.builtExpanded = c.props.ExpandedGroup
	c.builtTheme = c.props.Theme

	metrics.RebuildsTotal.Inc()
	metrics.RebuildDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	return true
}

// addClusterLayersLocked adds the three layers over the clustered source.
// Every paint parameter is a deterministic function of zoom and point count;
// cluster circles step larger with count so they always read bigger than
// leaves.
func (c *Controller) addClusterLayersLocked() error {
	layers := []engine.LayerSpec{
		{
			ID:     layerClusters,
			Source: sourceShops,
			Type:   engine.LayerCircle,
			Filter: engine.FilterClusters,
			Paint: map[string]interface{}{
				"circle-color":  clusterColor(c.props.Theme),
				"circle-radius": []interface{}{"step", "point_count", 16.0, 10.0, 20.0, 50.0, 26.0, 200.0, 34.0},
				"circle-opacity": []interface{}{
					"interpolate", "zoom", 4.0, 0.85, float64(clusterMaxZoom), 0.95,
				},
			},
		},
		{
			ID:     layerPoints,
			Source: sourceShops,
			Type:   engine.LayerCircle,
			Filter: engine.FilterLeaves,
			Paint:  leafPaint(),
		},
		{
			ID:     layerClusterCount,
			Source: sourceShops,
			Type:   engine.LayerSymbol,
			Filter: engine.FilterClusters,
			Paint: map[string]interface{}{
				"text-field": "point_count",
				"text-size":  12.0,
				"text-color": "#FFFFFF",
			},
		},
	}
	for _, spec := range layers {
		if err := c.m.AddLayer(spec); err != nil {
			return err
		}
		c.layerIDs = append(c.layerIDs, spec.ID)
	}
	return nil
}

func leafPaint() map[string]interface{} {
	return map[string]interface{}{
		"circle-radius": []interface{}{
			"interpolate", "zoom", 4.0, 4.0, float64(clusterMaxZoom), 9.0,
		},
		"circle-opacity":      0.95,
		"circle-stroke-width": 1.0,
		"circle-stroke-color": "#FFFFFF",
	}
}

func clusterColor(theme marker.Theme) string {
	if theme == marker.ThemeDark {
		return "#7A5233"
	}
	return shop.DefaultColor
}

func (c *Controller) attachLayerHandlersLocked(hasExpanded bool) {
	interactive := []string{layerClusters, layerPoints}
	if hasExpanded {
		interactive = append(interactive, layerExpandedPoints)
	}

	c.layerListeners = append(c.layerListeners,
		c.m.OnLayer(engine.EventClick, layerClusters, c.onClusterClick))
	c.layerListeners = append(c.layerListeners,
		c.m.OnLayer(engine.EventClick, layerPoints, c.onLeafClick))
	if hasExpanded {
		c.layerListeners = append(c.layerListeners,
			c.m.OnLayer(engine.EventClick, layerExpandedPoints, c.onLeafClick))
	}
	for _, id := range interactive {
		c.layerListeners = append(c.layerListeners,
			c.m.OnLayer(engine.EventMouseEnter, id, c.onHoverEnter),
			c.m.OnLayer(engine.EventMouseLeave, id, c.onHoverLeave))
	}
}

// buildExpandedMarkersLocked creates individual markers for expanded-group
// members, picking dot or detailed form from zoom and local crowding.
func (c *Controller) buildExpandedMarkersLocked(unclustered []shop.Shop) {
	if len(unclustered) == 0 {
		return
	}
	di := geo.NewDensityIndex(c.props.Shops)
	for i := range unclustered {
		s := unclustered[i]
		if _, ok := c.handles[s.ID]; ok {
			continue
		}
		neighbors := di.WithinPixelRadius(&s, densityPixelRadius, c.props.Zoom)
		h := marker.New(&s, marker.Options{
			Selected: s.ID == c.props.SelectedID,
			Theme:    c.props.Theme,
			Mode:     marker.PickMode(c.props.Zoom, neighbors),
			Zoom:     c.props.Zoom,
			Images:   c.images,
			OnTap:    c.tapHandler(s.ID),
		})
		if h != nil {
			c.handles[s.ID] = h
		}
	}
}

// teardownLayersLocked removes everything a rebuild owns: per-layer
// listeners, layers, sources, and every tracked handle.
func (c *Controller) teardownLayersLocked() {
	for _, id := range c.layerListeners {
		c.m.Off(id)
	}
	c.layerListeners = c.layerListeners[:0]

	if c.live() {
		for _, id := range c.layerIDs {
			if c.m.HasLayer(id) {
				_ = c.m.RemoveLayer(id)
			}
		}
		for _, id := range c.sourceIDs {
			if c.m.HasSource(id) {
				_ = c.m.RemoveSource(id)
			}
		}
	}
	c.layerIDs = c.layerIDs[:0]
	c.sourceIDs = c.sourceIDs[:0]

	c.handles = make(map[string]*marker.Handle)
	c.badges = make(map[string]*marker.Handle)
	c.badgesCreated = false
}

// --- cheap paths ---

// restyleSelectionLocked touches exactly two handles: the previous selection
// back to normal and the new selection to selected. The index is never
// touched.
func (c *Controller) restyleSelectionLocked(prevID, nextID string) {
	if prevID != "" {
		c.updateSelection(c.handleForLocked(prevID), false, findShop(c.props.Shops, prevID))
	}
	if nextID != "" {
		c.updateSelection(c.handleForLocked(nextID), true, findShop(c.props.Shops, nextID))
	}
}

// handleForLocked picks the one visual handle a shop is represented by: its
// expanded-pool marker when it has one, else its badge. May return nil; the
// factory treats nil as a no-op.
func (c *Controller) handleForLocked(id string) *marker.Handle {
	if h, ok := c.handles[id]; ok {
		return h
	}
	return c.badges[id]
}

func (c *Controller) handleZoomLocked(zoom float64) {
	if zoom < geo.BadgeMinZoom {
		c.hideBadgesLocked()
		return
	}
	c.createBadgesLocked()
	if c.zooming || c.dragging {
		return
	}
	c.deb.Schedule(keyBadgeShow, badgeShowProgrammatic, c.deferredBadgeShow)
}

// --- badges ---

// createBadgesLocked lazily builds the badge overlay the first time the
// badge bracket is entered. Shops missing required data are skipped
// silently. New badges start hidden; visibility is a separate decision.
func (c *Controller) createBadgesLocked() {
	if c.badgesCreated {
		return
	}
	for i := range c.props.Shops {
		s := c.props.Shops[i]
		if _, ok := c.badges[s.ID]; ok {
			continue
		}
		b := marker.Badge(&s, c.props.Theme, c.images, c.tapHandler(s.ID))
		if b == nil {
			continue
		}
		if s.ID == c.props.SelectedID {
			c.updateSelection(b, true, &s)
		}
		c.badges[s.ID] = b
	}
	c.badgesCreated = true
}

// badgeEligibleLocked is the conjunction of the three suppressors: all must
// be false for badges to show.
func (c *Controller) badgeEligibleLocked(zoom float64) bool {
	return zoom >= geo.BadgeMinZoom && !c.zooming && !c.dragging
}

// refreshBadgesLocked re-runs lazy creation and applies visibility
// immediately. Used from the rebuild body, where no gesture can be mid-turn.
func (c *Controller) refreshBadgesLocked() {
	if c.props.Zoom >= geo.BadgeMinZoom {
		c.createBadgesLocked()
	}
	if c.badgeEligibleLocked(c.props.Zoom) {
		c.showBadgesLocked()
	} else {
		c.hideBadgesLocked()
	}
}

func (c *Controller) showBadgesLocked() {
	shown := 0
	for _, b := range c.badges {
		if !b.Visible() {
			b.Show()
			shown++
		}
	}
	if shown > 0 {
		metrics.BadgeShowsTotal.Add(float64(shown))
	}
}

func (c *Controller) hideBadgesLocked() {
	hidden := 0
	for _, b := range c.badges {
		if b.Visible() {
			b.Hide()
			hidden++
		}
	}
	if hidden > 0 {
		metrics.BadgeHidesTotal.Add(float64(hidden))
	}
}

// deferredBadgeShow runs from a debounce timer; it re-checks liveness and
// the suppressors because the world may have moved on since scheduling.
func (c *Controller) deferredBadgeShow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown || !c.live() {
		return
	}
	if c.badgeEligibleLocked(c.m.GetZoom()) {
		c.showBadgesLocked()
	}
}

// --- interaction handlers ---

// tapHandler resolves the shop from the current props at tap time, not from
// the list the badge was built against.
func (c *Controller) tapHandler(shopID string) func() {
	return func() {
		c.selectShop(shopID)
	}
}

func (c *Controller) onClusterClick(ev engine.Event) {
	var f *engine.Feature
	for i := range ev.Features {
		if ev.Features[i].Cluster {
			f = &ev.Features[i]
			break
		}
	}
	if f == nil {
		return
	}

	c.mu.Lock()
	if c.torndown || !c.live() {
		c.mu.Unlock()
		return
	}
	m := c.m
	c.mu.Unlock()

	zoom, err := m.ClusterExpansionZoom(sourceShops, f.ClusterID)
	if err != nil {
		logger.L().Warn("cluster expansion zoom unavailable", "cluster", f.ClusterID, "err", err)
		zoom = geo.ExpansionFallbackZoom
	}

	c.mu.Lock()
	c.programmaticMove = true
	c.mu.Unlock()

	m.EaseTo(engine.CameraOptions{Center: f.LngLat, Zoom: zoom, Offset: panelOffset})
}

func (c *Controller) onLeafClick(ev engine.Event) {
	for i := range ev.Features {
		f := &ev.Features[i]
		if !f.Cluster && f.ShopID != "" {
			c.selectShop(f.ShopID)
			return
		}
	}
}

// selectShop fires the selection callback and animates to the shop. The
// camera never zooms out: if it is already past the inspection minimum it
// keeps its zoom, otherwise it zooms in to the minimum. Small zoom gaps
// ease; large ones fly.
func (c *Controller) selectShop(shopID string) {
	c.mu.Lock()
	if c.torndown || !c.live() {
		c.mu.Unlock()
		return
	}
	s := findShop(c.props.Shops, shopID)
	onSelect := c.props.OnShopSelect
	m := c.m
	c.mu.Unlock()

	if s == nil {
		return
	}
	if onSelect != nil {
		onSelect(*s)
	}

	lng, lat, ok := s.Coordinates()
	if !ok {
		return
	}

	cur := m.GetZoom()
	target := cur
	if target < geo.InspectMinZoom {
		target = geo.InspectMinZoom
	}

	c.mu.Lock()
	c.programmaticMove = true
	c.mu.Unlock()

	opts := engine.CameraOptions{
		Center: engine.LngLat{Lng: lng, Lat: lat},
		Zoom:   target,
		Offset: panelOffset,
	}
	if target-cur > flyZoomDelta {
		m.FlyTo(opts)
	} else {
		m.EaseTo(opts)
	}
}

func (c *Controller) onHoverEnter(engine.Event) {
	c.mu.Lock()
	live := !c.torndown && c.live()
	m := c.m
	c.mu.Unlock()
	if live {
		m.SetCursor("pointer")
	}
}

func (c *Controller) onHoverLeave(engine.Event) {
	c.mu.Lock()
	live := !c.torndown && c.live()
	m := c.m
	c.mu.Unlock()
	if live {
		m.SetCursor("")
	}
}

// --- lifecycle event handlers ---

// onMoveStart hides every badge in the same turn, no debounce, so badges
// never trail the camera.
func (c *Controller) onMoveStart(engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown {
		return
	}
	c.deb.Cancel(keyBadgeShow)
	c.hideBadgesLocked()
}

func (c *Controller) onZoomStart(engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zooming = true
	c.hideBadgesLocked()
}

func (c *Controller) onZoomEnd(engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zooming = false
}

func (c *Controller) onDragStart(engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = true
	c.programmaticMove = false
	c.hideBadgesLocked()
}

func (c *Controller) onDragEnd(engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = false
}

// onIdle is where deferred work lands: badge shows get scheduled with the
// debounce matching how the camera got here, and a loading-triggered
// transition completes once the map is gesture-free.
func (c *Controller) onIdle(engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown || !c.live() {
		return
	}

	gestureFree := !c.zooming && !c.dragging
	if !gestureFree {
		return
	}

	if c.m.GetZoom() >= geo.BadgeMinZoom {
		c.createBadgesLocked()
		delay := badgeShowOrganic
		if c.programmaticMove {
			delay = badgeShowProgrammatic
		}
		c.deb.Schedule(keyBadgeShow, delay, c.deferredBadgeShow)
	}
	c.programmaticMove = false

	if c.transitionActive {
		c.transitionActive = false
		c.deb.Schedule(keyTransitionDone, paintSettleDelay, func() {
			c.mu.Lock()
			live := !c.torndown && c.live()
			done := c.props.OnTransitionComplete
			c.mu.Unlock()
			if live && done != nil {
				done()
			}
		})
	}
}

// Teardown cancels every timer, detaches every listener, removes owned
// layers and sources, and drops all handles. The controller is inert after.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown {
		return
	}
	c.torndown = true

	c.deb.CancelAll()
	c.teardownLayersLocked()
	for _, id := range c.globalListeners {
		c.m.Off(id)
	}
	c.globalListeners = nil
	c.built = false
}
