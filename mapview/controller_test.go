package mapview

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwillington/filter-mapkit/engine"
	"github.com/jonwillington/filter-mapkit/geo"
	"github.com/jonwillington/filter-mapkit/marker"
	"github.com/jonwillington/filter-mapkit/shop"
)

// nullLoader resolves every image immediately.
type nullLoader struct{}

func (nullLoader) Load(url string, done func(error)) { done(nil) }

func mapShop(id, name string, lng, lat float64, group string) shop.Shop {
	s := shop.Shop{
		ID:       id,
		Name:     name,
		Location: &shop.Location{Lng: lng, Lat: lat},
	}
	if group != "" {
		s.Neighborhood = &shop.Neighborhood{ID: group, Name: group}
	}
	return s
}

func testShops() []shop.Shop {
	return []shop.Shop{
		mapShop("a", "Alpha Coffee", -0.12, 51.50, ""),
		mapShop("b", "Borough Brew", -0.13, 51.51, "soho"),
		mapShop("c", "Crema Works", -0.14, 51.52, "soho"),
		mapShop("d", "Dose Espresso", -0.15, 51.53, ""),
	}
}

func baseProps(shops []shop.Shop, zoom float64) Props {
	return Props{Shops: shops, Theme: marker.ThemeLight, Zoom: zoom}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func badgeCount(c *Controller) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.badges)
}

func visibleBadges(c *Controller) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.badges {
		if b.Visible() {
			n++
		}
	}
	return n
}

func TestFirstUpdateBuildsLayers(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 10))

	spec, ok := f.sourceSpec(sourceShops)
	require.True(t, ok)
	assert.True(t, spec.Cluster)
	assert.Len(t, spec.Points, 4)
	assert.True(t, f.HasLayer(layerClusters))
	assert.True(t, f.HasLayer(layerPoints))
	assert.True(t, f.HasLayer(layerClusterCount))
	assert.False(t, f.HasLayer(layerExpandedPoints))
	assert.Equal(t, 1, f.resizeCalls)
}

func TestRebuildKeyIgnoresOrder(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	shops := testShops()
	c.Update(baseProps(shops, 10))

	reversed := make([]shop.Shop, 0, len(shops))
	for i := len(shops) - 1; i >= 0; i-- {
		reversed = append(reversed, shops[i])
	}
	c.Update(baseProps(reversed, 10))

	addSrc, _, _, _ := f.stats()
	assert.Equal(t, 1, addSrc, "a reordered identical list must not rebuild")
}

func TestRebuildOnShopSetChange(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 10))
	c.Update(baseProps(testShops()[:2], 10))

	addSrc, rmSrc, _, _ := f.stats()
	assert.Equal(t, 2, addSrc)
	assert.Equal(t, 1, rmSrc)
}

func TestRebuildOnThemeChange(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	p := baseProps(testShops(), 10)
	c.Update(p)
	p.Theme = marker.ThemeDark
	c.Update(p)

	addSrc, _, _, _ := f.stats()
	assert.Equal(t, 2, addSrc)
}

func TestExpandedGroupPartitionsSources(t *testing.T) {
	f := newFakeMap(true, 12)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	p := baseProps(testShops(), 12)
	p.ExpandedGroup = "soho"
	c.Update(p)

	clustered, ok := f.sourceSpec(sourceShops)
	require.True(t, ok)
	expanded, ok := f.sourceSpec(sourceExpanded)
	require.True(t, ok)

	// Every shop lands in exactly one pool.
	assert.Len(t, clustered.Points, 2)
	assert.Len(t, expanded.Points, 2)
	for _, p := range expanded.Points {
		assert.Contains(t, []string{"b", "c"}, p.ShopID)
	}
	assert.False(t, expanded.Cluster)
	assert.True(t, f.HasLayer(layerExpandedPoints))

	// Expanded members get individual markers.
	c.mu.Lock()
	assert.Len(t, c.handles, 2)
	c.mu.Unlock()
}

func TestExpandedGroupChangeRebuilds(t *testing.T) {
	f := newFakeMap(true, 12)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	p := baseProps(testShops(), 12)
	c.Update(p)
	p.ExpandedGroup = "soho"
	c.Update(p)
	p.ExpandedGroup = ""
	c.Update(p)

	addSrc, rmSrc, _, _ := f.stats()
	// Build one: shops. Build two: shops + expanded. Build three: shops.
	assert.Equal(t, 4, addSrc)
	assert.Equal(t, 3, rmSrc)
	assert.False(t, f.HasSource(sourceExpanded))
}

func TestBalancedAddRemoveAcrossRebuilds(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})

	sets := [][]shop.Shop{
		testShops(),
		testShops()[:3],
		testShops()[1:],
		testShops()[:2],
	}
	for _, s := range sets {
		c.Update(baseProps(s, 10))
	}
	c.Teardown()

	addSrc, rmSrc, addLayer, rmLayer := f.stats()
	assert.Equal(t, addSrc, rmSrc)
	assert.Equal(t, addLayer, rmLayer)
	assert.Equal(t, 0, f.listenerCount())
	assert.False(t, f.HasSource(sourceShops))
}

func TestSelectionRestyleExactlyTwoCalls(t *testing.T) {
	f := newFakeMap(true, 14)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	var mu sync.Mutex
	var calls []string
	c.updateSelection = func(h *marker.Handle, selected bool, s *shop.Shop) {
		mu.Lock()
		defer mu.Unlock()
		state := "off"
		if selected {
			state = "on"
		}
		calls = append(calls, s.ID+":"+state)
		marker.UpdateSelection(h, selected, s)
	}

	p := baseProps(testShops(), 14)
	c.Update(p)

	p.SelectedID = "b"
	c.Update(p)
	mu.Lock()
	assert.Equal(t, []string{"b:on"}, calls)
	calls = nil
	mu.Unlock()

	p.SelectedID = "c"
	c.Update(p)
	mu.Lock()
	assert.Equal(t, []string{"b:off", "c:on"}, calls)
	mu.Unlock()

	// The cheap path never touches the index.
	addSrc, _, _, _ := f.stats()
	assert.Equal(t, 1, addSrc)
}

func TestSelectionRestylesBadgeHandle(t *testing.T) {
	f := newFakeMap(true, 14)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	p := baseProps(testShops(), 14)
	c.Update(p)

	p.SelectedID = "a"
	c.Update(p)

	c.mu.Lock()
	b := c.badges["a"]
	c.mu.Unlock()
	require.NotNil(t, b)
	assert.True(t, b.Selected())
}

func TestLeafClickNeverZoomsOut(t *testing.T) {
	f := newFakeMap(true, 16)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	var selected []string
	p := baseProps(testShops(), 16)
	p.OnShopSelect = func(s shop.Shop) { selected = append(selected, s.ID) }
	c.Update(p)

	f.fire(engine.EventClick, layerPoints, engine.Event{
		Features: []engine.Feature{{ShopID: "a", LngLat: engine.LngLat{Lng: -0.12, Lat: 51.50}}},
	})

	assert.Equal(t, []string{"a"}, selected)
	require.Len(t, f.easeCalls, 1)
	assert.Equal(t, 16.0, f.easeCalls[0].Zoom, "camera already past the inspection zoom must keep it")
}

func TestLeafClickFliesWhenFar(t *testing.T) {
	f := newFakeMap(true, 9)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	p := baseProps(testShops(), 9)
	c.Update(p)

	f.fire(engine.EventClick, layerPoints, engine.Event{
		Features: []engine.Feature{{ShopID: "a"}},
	})

	require.Len(t, f.flyCalls, 1)
	assert.Equal(t, geo.InspectMinZoom, f.flyCalls[0].Zoom)
	assert.Empty(t, f.easeCalls)
}

func TestLeafClickResolvesFromCurrentList(t *testing.T) {
	f := newFakeMap(true, 16)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	var got string
	p := baseProps(testShops(), 16)
	p.OnShopSelect = func(s shop.Shop) { got = s.Name }
	c.Update(p)

	// Rename a shop through the cheap path; the click handler must see the
	// updated entry, not the one captured at rebuild time.
	shops := testShops()
	shops[0].Name = "Alpha Roasters"
	p.Shops = shops
	c.Update(p)

	f.fire(engine.EventClick, layerPoints, engine.Event{
		Features: []engine.Feature{{ShopID: "a"}},
	})
	assert.Equal(t, "Alpha Roasters", got)
}

func TestClusterClickUsesExpansionZoom(t *testing.T) {
	f := newFakeMap(true, 8)
	f.expansionZoom = 11.5
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 8))

	f.fire(engine.EventClick, layerClusters, engine.Event{
		Features: []engine.Feature{{Cluster: true, ClusterID: 7, PointCount: 3, LngLat: engine.LngLat{Lng: -0.13, Lat: 51.51}}},
	})

	require.Len(t, f.easeCalls, 1)
	assert.Equal(t, 11.5, f.easeCalls[0].Zoom)
	assert.Equal(t, panelOffset, f.easeCalls[0].Offset)
}

func TestClusterClickFallsBackOnEngineError(t *testing.T) {
	f := newFakeMap(true, 8)
	f.expansionErr = assert.AnError
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 8))

	f.fire(engine.EventClick, layerClusters, engine.Event{
		Features: []engine.Feature{{Cluster: true, ClusterID: 7}},
	})

	require.Len(t, f.easeCalls, 1)
	assert.Equal(t, geo.ExpansionFallbackZoom, f.easeCalls[0].Zoom)
}

func TestHoverTogglesCursorOnly(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 10))
	addSrcBefore, _, _, _ := f.stats()

	f.fire(engine.EventMouseEnter, layerClusters, engine.Event{})
	assert.Equal(t, "pointer", f.Cursor())

	f.fire(engine.EventMouseLeave, layerClusters, engine.Event{})
	assert.Equal(t, "", f.Cursor())

	addSrcAfter, _, _, _ := f.stats()
	assert.Equal(t, addSrcBefore, addSrcAfter)
}

func TestBadgesCreatedLazilyOnZoomCross(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	p := baseProps(testShops(), 10)
	c.Update(p)
	assert.Equal(t, 0, badgeCount(c), "no badges below the badge zoom")

	f.setZoom(14)
	p.Zoom = 14
	c.Update(p)
	assert.Equal(t, 4, badgeCount(c))

	waitFor(t, time.Second, func() bool { return visibleBadges(c) == 4 })

	p.Zoom = 10
	c.Update(p)
	assert.Equal(t, 0, visibleBadges(c), "dropping below the threshold hides synchronously")
}

func TestRebuildAtBadgeZoomShowsBadges(t *testing.T) {
	f := newFakeMap(true, 14)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 14))
	assert.Equal(t, 4, badgeCount(c))
	assert.Equal(t, 4, visibleBadges(c))
}

func TestMovementStartHidesBadgesSynchronously(t *testing.T) {
	f := newFakeMap(true, 14)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 14))
	require.Equal(t, 4, visibleBadges(c))

	f.fire(engine.EventDragStart, "", engine.Event{})
	f.fire(engine.EventMoveStart, "", engine.Event{})
	assert.Equal(t, 0, visibleBadges(c), "movement start must hide in the same turn")
}

func TestOrganicDragUsesLongShowDebounce(t *testing.T) {
	f := newFakeMap(true, 14)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 14))

	f.fire(engine.EventDragStart, "", engine.Event{})
	f.fire(engine.EventMoveStart, "", engine.Event{})
	f.fire(engine.EventDragEnd, "", engine.Event{})
	f.fire(engine.EventIdle, "", engine.Event{})

	// Past the programmatic debounce but before the organic one: still hidden.
	time.Sleep(badgeShowProgrammatic + 100*time.Millisecond)
	assert.Equal(t, 0, visibleBadges(c))

	waitFor(t, time.Second, func() bool { return visibleBadges(c) == 4 })
}

func TestProgrammaticMoveUsesShortShowDebounce(t *testing.T) {
	f := newFakeMap(true, 14)
	f.expansionZoom = 14
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 14))

	// A cluster click marks the move programmatic.
	f.fire(engine.EventClick, layerClusters, engine.Event{
		Features: []engine.Feature{{Cluster: true, ClusterID: 1}},
	})
	f.fire(engine.EventMoveStart, "", engine.Event{})
	require.Equal(t, 0, visibleBadges(c))
	f.fire(engine.EventIdle, "", engine.Event{})

	// Well before the organic debounce would fire.
	waitFor(t, badgeShowOrganic-150*time.Millisecond, func() bool { return visibleBadges(c) == 4 })
}

func TestTransitionCompleteOncePerEpisode(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	var count int32
	p := baseProps(testShops(), 10)
	p.OnTransitionComplete = func() { atomic.AddInt32(&count, 1) }
	c.Update(p)

	p.Loading = true
	c.Update(p)
	f.fire(engine.EventIdle, "", engine.Event{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&count) == 1 })

	// Further idles in the same episode stay silent.
	f.fire(engine.EventIdle, "", engine.Event{})
	time.Sleep(paintSettleDelay + 100*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))

	// A new loading episode fires again.
	p.Loading = false
	c.Update(p)
	p.Loading = true
	c.Update(p)
	f.fire(engine.EventIdle, "", engine.Event{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&count) == 2 })
}

func TestTransitionCompleteWaitsForGestureFreeIdle(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	var count int32
	p := baseProps(testShops(), 10)
	p.OnTransitionComplete = func() { atomic.AddInt32(&count, 1) }
	c.Update(p)

	p.Loading = true
	c.Update(p)

	f.fire(engine.EventZoomStart, "", engine.Event{})
	f.fire(engine.EventIdle, "", engine.Event{})
	time.Sleep(paintSettleDelay + 100*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count), "idle during a gesture must not complete the transition")

	f.fire(engine.EventZoomEnd, "", engine.Event{})
	f.fire(engine.EventIdle, "", engine.Event{})
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&count) == 1 })
}

func TestRebuildRetriesUntilEngineReady(t *testing.T) {
	f := newFakeMap(false, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 10))
	assert.False(t, f.HasSource(sourceShops))

	f.mu.Lock()
	f.styleLoaded = true
	f.mu.Unlock()

	waitFor(t, 2*time.Second, func() bool { return f.HasSource(sourceShops) })
}

func TestOnRebuildFiresOnSuccessfulBuilds(t *testing.T) {
	f := newFakeMap(true, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	var count int32
	p := baseProps(testShops(), 10)
	p.OnRebuild = func() { atomic.AddInt32(&count, 1) }

	c.Update(p)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count), "first build must announce itself")

	// Cheap path: same shops, new selection. No rebuild, no callback.
	p.SelectedID = "b"
	c.Update(p)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))

	p.Shops = p.Shops[:2]
	c.Update(p)
	assert.Equal(t, int32(2), atomic.LoadInt32(&count), "catalog change rebuilds and announces")
}

func TestOnRebuildFiresAfterDelayedRetry(t *testing.T) {
	f := newFakeMap(false, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	var count int32
	p := baseProps(testShops(), 10)
	p.OnRebuild = func() { atomic.AddInt32(&count, 1) }

	c.Update(p)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count), "a failed attempt must stay silent")

	f.mu.Lock()
	f.styleLoaded = true
	f.mu.Unlock()

	// The retry that finally lands also announces the build.
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&count) == 1 })
	assert.True(t, f.HasSource(sourceShops))
}

func TestRebuildAbandonsAfterRetryBudget(t *testing.T) {
	f := newFakeMap(false, 10)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 10))

	waitFor(t, 3*time.Second, func() bool { return !c.deb.Pending(keyRebuildRetry) })
	assert.False(t, f.HasSource(sourceShops))

	c.mu.Lock()
	built := c.built
	c.mu.Unlock()
	assert.False(t, built)
}

func TestTeardownLeavesEngineClean(t *testing.T) {
	f := newFakeMap(true, 14)
	c := NewController(f, nullLoader{})

	c.Update(baseProps(testShops(), 14))
	require.NotZero(t, f.listenerCount())

	c.Teardown()

	assert.Equal(t, 0, f.listenerCount())
	assert.False(t, f.HasSource(sourceShops))
	assert.False(t, f.HasLayer(layerClusters))
	assert.False(t, c.deb.Pending(keyBadgeShow))

	// A torn-down controller ignores further updates.
	addSrcBefore, _, _, _ := f.stats()
	c.Update(baseProps(testShops(), 14))
	addSrcAfter, _, _, _ := f.stats()
	assert.Equal(t, addSrcBefore, addSrcAfter)
}

func TestStaleTimerSkipsRemovedEngine(t *testing.T) {
	f := newFakeMap(true, 14)
	c := NewController(f, nullLoader{})
	defer c.Teardown()

	c.Update(baseProps(testShops(), 14))
	f.fire(engine.EventMoveStart, "", engine.Event{})
	f.fire(engine.EventIdle, "", engine.Event{})

	// The engine dies while a show is pending; the timer must no-op.
	f.Remove()
	time.Sleep(badgeShowOrganic + 100*time.Millisecond)
	assert.Equal(t, 0, visibleBadges(c))
}
