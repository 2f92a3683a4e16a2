package geo

import (
	"math"

	"github.com/dhconnelly/rtreego"

	"github.com/jonwillington/filter-mapkit/shop"
)

const (
	tolerance   = 0.0001
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
	earthRadius = 6371.0 // km

	// Ground resolution of one pixel at the equator at zoom 0, in meters,
	// for a 512px world tile.
	equatorMetersPerPixel = 78271.517
)

type densityItem struct {
	id   string
	lng  float64
	lat  float64
	rect *rtreego.Rect
}

func (d *densityItem) Bounds() *rtreego.Rect {
	return d.rect
}

// DensityIndex answers "how many shops sit near this one" queries over a
// fixed shop list. Shops without resolvable coordinates are skipped and count
// zero everywhere.
type DensityIndex struct {
	tree *rtreego.Rtree
	size int
}

// NewDensityIndex builds the index once for a classification pass.
func NewDensityIndex(shops []shop.Shop) *DensityIndex {
	di := &DensityIndex{
		tree: rtreego.NewTree(dimensions, minChildren, maxChildren),
	}
	for i := range shops {
		lng, lat, ok := shops[i].Coordinates()
		if !ok {
			continue
		}
		pt := rtreego.Point{lat, lng}
		di.tree.Insert(&densityItem{
			id:   shops[i].ID,
			lng:  lng,
			lat:  lat,
			rect: pt.ToRect(tolerance),
		})
		di.size++
	}
	return di
}

// Size returns the number of indexed shops.
func (di *DensityIndex) Size() int {
	return di.size
}

// WithinPixelRadius counts other shops whose coordinates fall within
// pixelRadius of s at the given zoom's ground resolution. A shop without
// coordinates has density zero.
func (di *DensityIndex) WithinPixelRadius(s *shop.Shop, pixelRadius, zoom float64) int {
	lng, lat, ok := s.Coordinates()
	if !ok {
		return 0
	}

	radiusKm := PixelsToMeters(pixelRadius, lat, zoom) / 1000
	deg := (radiusKm / earthRadius) * (180 / math.Pi)

	bounds, err := rtreego.NewRect(
		rtreego.Point{lat - deg, lng - deg},
		[]float64{2 * deg, 2 * deg},
	)
	if err != nil {
		return 0
	}

	count := 0
	for _, result := range di.tree.SearchIntersect(bounds) {
		item, ok := result.(*densityItem)
		if !ok {
			continue
		}
		if item.id == s.ID {
			continue
		}
		if haversineDistance(lat, lng, item.lat, item.lng) <= radiusKm {
			count++
		}
	}
	return count
}

// LocalDensity is the one-shot form: it builds a throwaway index over all and
// counts neighbors of s. Prefer DensityIndex when classifying many shops.
func LocalDensity(s *shop.Shop, all []shop.Shop, pixelRadius, zoom float64) int {
	return NewDensityIndex(all).WithinPixelRadius(s, pixelRadius, zoom)
}

// PixelsToMeters converts a pixel distance at (lat, zoom) into meters.
func PixelsToMeters(pixels, lat, zoom float64) float64 {
	mpp := equatorMetersPerPixel * math.Cos(lat*math.Pi/180) / math.Pow(2, zoom)
	return pixels * mpp
}

// haversineDistance calculates the distance between two points in km
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
