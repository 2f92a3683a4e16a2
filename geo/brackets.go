// Package geo holds the map-side classification helpers: zoom bracketing,
// local point density, and conversion of shops into index points.
package geo

// Zoom thresholds shared by the marker factory and the map controller.
const (
	// DetailMinZoom is where individual markers switch from plain dots to
	// logo-bearing visuals (density permitting).
	DetailMinZoom = 12.0
	// BadgeMinZoom is where the logo-badge overlay becomes eligible.
	BadgeMinZoom = 13.5
	// LabelMinZoom is where marker name labels appear. Labels gate
	// independently of the logo itself.
	LabelMinZoom = 15.0
	// InspectMinZoom is the closest comfortable zoom for looking at a single
	// shop. Selecting a shop never zooms out past it.
	InspectMinZoom = 15.0
	// ExpansionFallbackZoom is used when the engine cannot report a cluster's
	// expansion zoom.
	ExpansionFallbackZoom = 14.0
)

// Bracket is a coarse classification of continuous zoom. Marker visuals are
// regenerated when the bracket changes, not on every fractional zoom tick.
type Bracket int

const (
	BracketWorld Bracket = iota
	BracketRegion
	BracketCity
	BracketStreet
	BracketBuilding
)

// String returns a string representation of the bracket
func (b Bracket) String() string {
	switch b {
	case BracketWorld:
		return "World"
	case BracketRegion:
		return "Region"
	case BracketCity:
		return "City"
	case BracketStreet:
		return "Street"
	case BracketBuilding:
		return "Building"
	default:
		return "Unknown"
	}
}

// ZoomBracket buckets a continuous zoom level.
func ZoomBracket(zoom float64) Bracket {
	switch {
	case zoom < 4:
		return BracketWorld
	case zoom < 8:
		return BracketRegion
	case zoom < 11.5:
		return BracketCity
	case zoom < BadgeMinZoom:
		return BracketStreet
	default:
		return BracketBuilding
	}
}
