package shop

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk shop list format.
type Catalog struct {
	Shops []Shop `yaml:"shops" json:"shops"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) ([]Shop, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %v", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %v", err)
	}
	return cat.Shops, nil
}

// SaveCatalog writes shops to a YAML catalog file.
func SaveCatalog(path string, shops []Shop) error {
	data, err := yaml.Marshal(Catalog{Shops: shops})
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog: %v", err)
	}
	return nil
}

type citySeed struct {
	name    string
	country string
	color   string
	lng     float64
	lat     float64
	weight  int
}

var cities = []citySeed{
	{"London", "United Kingdom", "#C8553D", -0.1276, 51.5072, 30},
	{"Amsterdam", "Netherlands", "#F28F3B", 4.8952, 52.3702, 12},
	{"Berlin", "Germany", "#588B8B", 13.4050, 52.5200, 12},
	{"Paris", "France", "#2D3047", 2.3522, 48.8566, 10},
	{"Copenhagen", "Denmark", "#BD6B73", 12.5683, 55.6761, 8},
	{"Oslo", "Norway", "#8C5E58", 10.7522, 59.9139, 6},
	{"Dublin", "Ireland", "#3F784C", -6.2603, 53.3498, 6},
	{"Lisbon", "Portugal", "#E4B363", -9.1393, 38.7223, 5},
	{"New York", "United States", "#297373", -74.0060, 40.7128, 8},
	{"Melbourne", "Australia", "#6D466B", 144.9631, -37.8136, 5},
}

var neighborhoods = []string{"Old Town", "Riverside", "Market Quarter", "Docklands"}

var namePrefixes = []string{
	"Kiln", "Lantern", "Harbour", "Fable", "Moss", "Copper", "Quill", "Ember",
	"Drift", "Alder", "Slate", "Meridian", "Hollow", "Anchor", "Birch",
}

var nameSuffixes = []string{"Coffee", "Roastery", "Espresso", "Brew Bar", "Coffee Works"}

// GenerateShops produces a synthetic catalog of n shops scattered around
// weighted city centers, with the same imperfections real catalog data has:
// most shops carry nested coordinates, a few only the flat pair, a couple
// none at all, and not every shop has a logo.
func GenerateShops(n int, seed int64) []Shop {
	r := rand.New(rand.NewSource(seed))
	shops := make([]Shop, 0, n)

	totalWeight := 0
	for _, c := range cities {
		totalWeight += c.weight
	}

	for i := 0; i < n; i++ {
		city := pickCity(r, totalWeight)

		// Scatter within roughly the city's footprint.
		lng := city.lng + (r.Float64()-0.5)*0.18
		lat := city.lat + (r.Float64()-0.5)*0.12

		hood := neighborhoods[r.Intn(len(neighborhoods))]
		s := Shop{
			ID:   fmt.Sprintf("shop-%04d", i+1),
			Name: fmt.Sprintf("%s %s", namePrefixes[r.Intn(len(namePrefixes))], nameSuffixes[r.Intn(len(nameSuffixes))]),
			Region: &Region{
				Name:  city.country,
				Color: city.color,
			},
			Neighborhood: &Neighborhood{
				ID:   slug(city.name + " " + hood),
				Name: hood,
			},
		}

		switch roll := r.Float64(); {
		case roll < 0.02:
			// No resolvable coordinates at all.
		case roll < 0.08:
			// Legacy flat pair only.
			s.Longitude = &lng
			s.Latitude = &lat
		default:
			s.Location = &Location{Lng: lng, Lat: lat}
		}

		if r.Float64() < 0.85 {
			s.LogoURL = fmt.Sprintf("https://cdn.filterdirectory.app/logos/%s.png", s.ID)
		}
		if r.Float64() < 0.15 {
			s.Region = nil // falls back to neighborhood/default color
			s.Neighborhood.Color = city.color
		}

		shops = append(shops, s)
	}

	return shops
}

func pickCity(r *rand.Rand, totalWeight int) citySeed {
	roll := r.Intn(totalWeight)
	for _, c := range cities {
		roll -= c.weight
		if roll < 0 {
			return c
		}
	}
	return cities[0]
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}
