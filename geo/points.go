package geo

import (
	"github.com/jonwillington/filter-mapkit/cluster"
	"github.com/jonwillington/filter-mapkit/shop"
)

// ClusterPoints converts shops into index points, resolving each shop's
// display color and silently skipping shops without coordinates. Numeric ids
// are positional and only meaningful within the produced slice.
func ClusterPoints(shops []shop.Shop) []cluster.Point {
	points := make([]cluster.Point, 0, len(shops))
	for i := range shops {
		lng, lat, ok := shops[i].Coordinates()
		if !ok {
			continue
		}
		points = append(points, cluster.Point{
			ID:     uint32(len(points) + 1),
			X:      float32(lng),
			Y:      float32(lat),
			ShopID: shops[i].ID,
			Color:  shops[i].DisplayColor(),
		})
	}
	return points
}

// Partition splits shops into the unclustered pool (members of the expanded
// group) and the clustered pool (everyone else). With no expanded group every
// shop is clustered. Every shop lands in exactly one pool.
func Partition(shops []shop.Shop, expandedGroup string) (clustered, unclustered []shop.Shop) {
	if expandedGroup == "" {
		return shops, nil
	}
	clustered = make([]shop.Shop, 0, len(shops))
	for i := range shops {
		if shops[i].GroupID() == expandedGroup {
			unclustered = append(unclustered, shops[i])
		} else {
			clustered = append(clustered, shops[i])
		}
	}
	return clustered, unclustered
}
