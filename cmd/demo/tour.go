package main

import (
	"fmt"
	"time"

	"github.com/jonwillington/filter-mapkit/engine"
	"github.com/jonwillington/filter-mapkit/mapview"
	"github.com/jonwillington/filter-mapkit/marker"
	"github.com/jonwillington/filter-mapkit/shop"
)

var london = engine.LngLat{Lng: -0.1276, Lat: 51.5072}

var featureLayers = []string{"clusters", "shop-points", "shop-points-expanded"}

// demoLoader pretends every logo fetch succeeds.
type demoLoader struct{}

func (demoLoader) Load(url string, done func(error)) { go done(nil) }

type stepStats struct {
	Clusters int
	Leaves   int
	Zoom     float64
	Took     time.Duration
	Note     string
}

// tour drives a full map session against the in-process engine: world
// overview, a camera transition into London, a selection, a theme flip,
// and a neighborhood expansion.
type tour struct {
	shops  []shop.Shop
	center engine.LngLat
	sim    *engine.Sim
	mgr    *mapview.Manager
	ctl    *mapview.Controller
	props  mapview.Props

	transition chan struct{}
	report     func(string)
}

func newTour(n int, cfg demoConfig, report func(string)) *tour {
	t := &tour{
		shops:      shop.GenerateShops(n, 42),
		center:     cfg.Center,
		transition: make(chan struct{}, 1),
		report:     report,
	}

	t.mgr = mapview.NewManager(func(styleURL string) engine.Map {
		t.sim = engine.NewSim(engine.SimOptions{
			StyleURL: styleURL,
			Center:   cfg.Center,
			Zoom:     2,
		})
		return t.sim
	}, mapview.ManagerOptions{
		LightStyleURL:    cfg.Styles.Light,
		DarkStyleURL:     cfg.Styles.Dark,
		SupportedRegions: []string{"United Kingdom", "Netherlands", "Germany", "France"},
	})
	t.mgr.Init(marker.ThemeLight)

	t.ctl = mapview.NewController(t.mgr.Map(), demoLoader{})
	t.props = mapview.Props{
		Shops: t.shops,
		Theme: marker.ThemeLight,
		Zoom:  2,
		OnShopSelect: func(s shop.Shop) {
			report("selected " + s.Name)
		},
		OnTransitionComplete: func() {
			select {
			case t.transition <- struct{}{}:
			default:
			}
		},
	}
	t.ctl.Update(t.props)
	return t
}

func (t *tour) teardown() {
	t.ctl.Teardown()
	t.mgr.Teardown()
}

func (t *tour) stats(took time.Duration, note string) stepStats {
	var clusters, leaves int
	for _, f := range t.sim.VisibleFeatures(featureLayers...) {
		if f.Cluster {
			clusters++
		} else {
			leaves++
		}
	}
	return stepStats{
		Clusters: clusters,
		Leaves:   leaves,
		Zoom:     t.sim.GetZoom(),
		Took:     took,
		Note:     note,
	}
}

func (t *tour) waitTransition(timeout time.Duration) {
	select {
	case <-t.transition:
	case <-time.After(timeout):
		t.report("transition timed out")
	}
}

// worldView reports the clustered overview at the initial zoom.
func (t *tour) worldView() stepStats {
	start := time.Now()
	return t.stats(time.Since(start), fmt.Sprintf("%d shops indexed", len(t.shops)))
}

// flyToCity eases the camera into London past the badge zoom and waits for
// the settled-idle transition signal.
func (t *tour) flyToCity() stepStats {
	start := time.Now()

	t.props.Loading = true
	t.ctl.Update(t.props)

	t.sim.EaseTo(engine.CameraOptions{
		Center:   t.center,
		Zoom:     14,
		Duration: 600 * time.Millisecond,
	})
	t.waitTransition(3 * time.Second)

	t.props.Loading = false
	t.props.Zoom = t.sim.GetZoom()
	t.ctl.Update(t.props)

	// Give the deferred badge reveal time to fire.
	time.Sleep(600 * time.Millisecond)

	return t.stats(time.Since(start), "eased into London")
}

// selectShop highlights one shop and moves the camera to it.
func (t *tour) selectShop() stepStats {
	start := time.Now()

	s := t.pickShop()
	if s == nil {
		return t.stats(time.Since(start), "no locatable shop to select")
	}

	t.props.SelectedID = s.ID
	t.ctl.Update(t.props)

	lng, lat, _ := s.Coordinates()
	t.sim.EaseTo(engine.CameraOptions{
		Center:   engine.LngLat{Lng: lng, Lat: lat},
		Zoom:     t.sim.GetZoom(),
		Duration: 400 * time.Millisecond,
	})
	time.Sleep(500 * time.Millisecond)

	t.props.Zoom = t.sim.GetZoom()
	t.ctl.Update(t.props)

	return t.stats(time.Since(start), "selected "+s.Name)
}

// themeFlip swaps to the dark style and rebuilds the layer stack on it.
func (t *tour) themeFlip() stepStats {
	start := time.Now()

	t.mgr.SetTheme(marker.ThemeDark)
	t.props.Theme = marker.ThemeDark
	t.ctl.Update(t.props)

	return t.stats(time.Since(start), "rebuilt on dark style")
}

// expandGroup pulls the busiest neighborhood out of the cluster index into
// individual markers.
func (t *tour) expandGroup() stepStats {
	start := time.Now()

	group, count := t.busiestGroup()
	if group == "" {
		return t.stats(time.Since(start), "no neighborhood to expand")
	}

	t.props.ExpandedGroup = group
	t.ctl.Update(t.props)

	return t.stats(time.Since(start), fmt.Sprintf("expanded %s (%d shops)", group, count))
}

// pickShop returns a locatable shop, preferring one near the tour center.
func (t *tour) pickShop() *shop.Shop {
	var fallback *shop.Shop
	for i := range t.shops {
		s := &t.shops[i]
		lng, lat, ok := s.Coordinates()
		if !ok {
			continue
		}
		if fallback == nil {
			fallback = s
		}
		if lng > t.center.Lng-1 && lng < t.center.Lng+1 &&
			lat > t.center.Lat-1 && lat < t.center.Lat+1 {
			return s
		}
	}
	return fallback
}

func (t *tour) busiestGroup() (string, int) {
	counts := map[string]int{}
	for i := range t.shops {
		if g := t.shops[i].GroupID(); g != "" {
			counts[g]++
		}
	}
	best, n := "", 0
	for g, c := range counts {
		if c > n {
			best, n = g, c
		}
	}
	return best, n
}
