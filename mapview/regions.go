package mapview

import (
	"sort"

	"github.com/jonwillington/filter-mapkit/engine"
)

// Overlay source/layer identifiers. One pair per map instance.
const (
	overlaySourceID = "region-dim"
	overlayLayerID  = "region-dim-fill"
)

// countryBoxes is the built-in region source for the dim overlay: rough
// bounding boxes per country, good enough for a translucent wash at the
// zoom levels where the overlay is visible.
var countryBoxes = map[string]engine.Box{
	"United Kingdom": {MinLng: -8.6, MinLat: 49.9, MaxLng: 1.8, MaxLat: 60.9},
	"Ireland":        {MinLng: -10.5, MinLat: 51.4, MaxLng: -5.9, MaxLat: 55.4},
	"France":         {MinLng: -5.1, MinLat: 41.3, MaxLng: 9.6, MaxLat: 51.1},
	"Germany":        {MinLng: 5.9, MinLat: 47.3, MaxLng: 15.0, MaxLat: 55.1},
	"Netherlands":    {MinLng: 3.3, MinLat: 50.8, MaxLng: 7.2, MaxLat: 53.6},
	"Belgium":        {MinLng: 2.5, MinLat: 49.5, MaxLng: 6.4, MaxLat: 51.5},
	"Denmark":        {MinLng: 8.0, MinLat: 54.6, MaxLng: 12.7, MaxLat: 57.8},
	"Norway":         {MinLng: 4.6, MinLat: 57.9, MaxLng: 31.1, MaxLat: 71.2},
	"Sweden":         {MinLng: 11.1, MinLat: 55.3, MaxLng: 24.2, MaxLat: 69.1},
	"Finland":        {MinLng: 20.6, MinLat: 59.8, MaxLng: 31.6, MaxLat: 70.1},
	"Spain":          {MinLng: -9.3, MinLat: 36.0, MaxLng: 3.3, MaxLat: 43.8},
	"Portugal":       {MinLng: -9.5, MinLat: 37.0, MaxLng: -6.2, MaxLat: 42.2},
	"Italy":          {MinLng: 6.6, MinLat: 36.6, MaxLng: 18.5, MaxLat: 47.1},
	"Switzerland":    {MinLng: 6.0, MinLat: 45.8, MaxLng: 10.5, MaxLat: 47.8},
	"Austria":        {MinLng: 9.5, MinLat: 46.4, MaxLng: 17.2, MaxLat: 49.0},
	"Poland":         {MinLng: 14.1, MinLat: 49.0, MaxLng: 24.2, MaxLat: 54.8},
	"Czechia":        {MinLng: 12.1, MinLat: 48.6, MaxLng: 18.9, MaxLat: 51.1},
	"Greece":         {MinLng: 19.4, MinLat: 34.8, MaxLng: 28.2, MaxLat: 41.7},
}

// UnsupportedBoxes returns the dim boxes: every known country absent from
// the allow-list, in a deterministic order. Unknown allow-list entries are
// ignored rather than rejected.
func UnsupportedBoxes(supported []string) []engine.Box {
	allowed := make(map[string]bool, len(supported))
	for _, name := range supported {
		allowed[name] = true
	}

	names := make([]string, 0, len(countryBoxes))
	for name := range countryBoxes {
		if !allowed[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	boxes := make([]engine.Box, 0, len(names))
	for _, name := range names {
		boxes = append(boxes, countryBoxes[name])
	}
	return boxes
}
