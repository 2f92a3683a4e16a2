package shop

// DefaultColor is the marker tint used when neither the shop's region nor its
// neighborhood carries one.
const DefaultColor = "#A8703D"

// Location is the nested coordinate pair as the catalog delivers it.
type Location struct {
	Lng float64 `json:"lng" yaml:"lng"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Region is the country-level grouping a shop belongs to.
type Region struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Neighborhood is the parent group a shop can be expanded under on the map.
type Neighborhood struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Shop is one plottable location. Coordinates come either nested in Location
// or as the flat Longitude/Latitude pair older catalog entries still use;
// both may be absent, in which case the shop never reaches the map.
type Shop struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Location     *Location     `json:"location,omitempty" yaml:"location,omitempty"`
	Longitude    *float64      `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Latitude     *float64      `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	LogoURL      string        `json:"logoUrl,omitempty" yaml:"logoUrl,omitempty"`
	Region       *Region       `json:"region,omitempty" yaml:"region,omitempty"`
	Neighborhood *Neighborhood `json:"neighborhood,omitempty" yaml:"neighborhood,omitempty"`
}

// Coordinates resolves the shop's position. The nested Location wins over the
// flat fields. ok is false when neither is present; that is not an error.
func (s *Shop) Coordinates() (lng, lat float64, ok bool) {
	if s == nil {
		return 0, 0, false
	}
	if s.Location != nil {
		return s.Location.Lng, s.Location.Lat, true
	}
	if s.Longitude != nil && s.Latitude != nil {
		return *s.Longitude, *s.Latitude, true
	}
	return 0, 0, false
}

// DisplayColor resolves the marker tint: region color, then neighborhood
// color, then DefaultColor.
func (s *Shop) DisplayColor() string {
	if s == nil {
		return DefaultColor
	}
	if s.Region != nil && s.Region.Color != "" {
		return s.Region.Color
	}
	if s.Neighborhood != nil && s.Neighborhood.Color != "" {
		return s.Neighborhood.Color
	}
	return DefaultColor
}

// GroupID returns the neighborhood id, or "" when the shop has none.
func (s *Shop) GroupID() string {
	if s == nil || s.Neighborhood == nil {
		return ""
	}
	return s.Neighborhood.ID
}
