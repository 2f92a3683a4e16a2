package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwillington/filter-mapkit/shop"
)

func shopAt(id string, lng, lat float64) shop.Shop {
	return shop.Shop{ID: id, Name: id, Location: &shop.Location{Lng: lng, Lat: lat}}
}

func TestZoomBracket(t *testing.T) {
	cases := []struct {
		zoom float64
		want Bracket
	}{
		{0, BracketWorld},
		{3.9, BracketWorld},
		{4, BracketRegion},
		{7.99, BracketRegion},
		{8, BracketCity},
		{11.4, BracketCity},
		{11.5, BracketStreet},
		{13.49, BracketStreet},
		{13.5, BracketBuilding},
		{18, BracketBuilding},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ZoomBracket(tc.zoom), "zoom %v", tc.zoom)
	}
}

func TestBracketString(t *testing.T) {
	assert.Equal(t, "City", BracketCity.String())
	assert.Equal(t, "Unknown", Bracket(99).String())
}

func TestLocalDensityCountsNeighbors(t *testing.T) {
	// Three shops within ~50m of each other, one ~5km away.
	shops := []shop.Shop{
		shopAt("a", -0.1000, 51.5000),
		shopAt("b", -0.1004, 51.5002),
		shopAt("c", -0.0996, 51.4998),
		shopAt("far", -0.1700, 51.5400),
	}

	// 50px at zoom 15 is roughly 75m of ground distance at this latitude.
	assert.Equal(t, 2, LocalDensity(&shops[0], shops, 50, 15))
	assert.Equal(t, 0, LocalDensity(&shops[3], shops, 50, 15))
}

func TestLocalDensityMissingCoordinates(t *testing.T) {
	shops := []shop.Shop{
		{ID: "nowhere"},
		shopAt("a", -0.1, 51.5),
		shopAt("b", -0.1001, 51.5001),
	}

	assert.Equal(t, 0, LocalDensity(&shops[0], shops, 50, 15))
	// The coordinate-less shop contributes nothing to anyone's density.
	assert.Equal(t, 1, LocalDensity(&shops[1], shops, 50, 15))
}

func TestDensityIndexReuse(t *testing.T) {
	shops := []shop.Shop{
		shopAt("a", -0.1000, 51.5000),
		shopAt("b", -0.1003, 51.5001),
		shopAt("c", 2.3522, 48.8566),
		{ID: "nowhere"},
	}

	di := NewDensityIndex(shops)
	require.Equal(t, 3, di.Size())
	assert.Equal(t, 1, di.WithinPixelRadius(&shops[0], 50, 15))
	assert.Equal(t, 0, di.WithinPixelRadius(&shops[2], 50, 15))
}

func TestClusterPointsSkipsMissing(t *testing.T) {
	lng, lat := -0.2, 51.4
	shops := []shop.Shop{
		shopAt("a", -0.1, 51.5),
		{ID: "nowhere"},
		{ID: "flat", Longitude: &lng, Latitude: &lat},
	}

	points := ClusterPoints(shops)
	require.Len(t, points, 2)
	assert.Equal(t, "a", points[0].ShopID)
	assert.Equal(t, "flat", points[1].ShopID)
	assert.Equal(t, float32(-0.2), points[1].X)
	assert.Equal(t, float32(51.4), points[1].Y)
	assert.Equal(t, shop.DefaultColor, points[0].Color)
}

func TestClusterPointsResolvesColors(t *testing.T) {
	s := shopAt("a", -0.1, 51.5)
	s.Region = &shop.Region{Color: "#123456"}

	points := ClusterPoints([]shop.Shop{s})
	require.Len(t, points, 1)
	assert.Equal(t, "#123456", points[0].Color)
}

func TestPartition(t *testing.T) {
	mk := func(id, group string) shop.Shop {
		s := shopAt(id, 0, 0)
		if group != "" {
			s.Neighborhood = &shop.Neighborhood{ID: group}
		}
		return s
	}
	shops := []shop.Shop{
		mk("a", "soho"), mk("b", "soho"), mk("c", "hackney"), mk("d", ""),
	}

	clustered, unclustered := Partition(shops, "soho")
	assert.Len(t, unclustered, 2)
	assert.Len(t, clustered, 2)

	seen := map[string]int{}
	for i := range clustered {
		seen[clustered[i].ID]++
	}
	for i := range unclustered {
		seen[unclustered[i].ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "shop %s must be in exactly one pool", id)
	}

	clustered, unclustered = Partition(shops, "")
	assert.Len(t, clustered, 4)
	assert.Empty(t, unclustered)
}

func TestPixelsToMeters(t *testing.T) {
	// At the equator, zoom 0, one pixel of a 512px world spans ~78km.
	m := PixelsToMeters(1, 0, 0)
	assert.InDelta(t, 78271.5, m, 10)

	// Doubling zoom halves the span.
	assert.InDelta(t, m/2, PixelsToMeters(1, 0, 1), 1)
}
