package scan

import (
	"math"

	"campustrust/internal/model"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b model.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Contains reports whether the point lies inside the geofence. A polygon, if
// present, takes precedence over the circle. A point exactly on the circle
// radius counts as inside.
func Contains(fence model.Geofence, point model.GeoPoint) bool {
	if len(fence.Polygon) >= 3 {
		return polygonContains(fence.Polygon, point)
	}
	return DistanceMeters(fence.Center, point) <= fence.RadiusMeters
}

// polygonContains uses ray casting over lat/lon. Campus-scale fences are
// small enough that treating coordinates as planar is fine.
func polygonContains(polygon []model.GeoPoint, point model.GeoPoint) bool {
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Longitude > point.Longitude) != (pj.Longitude > point.Longitude) {
			atLat := (pj.Latitude-pi.Latitude)*(point.Longitude-pi.Longitude)/(pj.Longitude-pi.Longitude) + pi.Latitude
			if point.Latitude < atLat {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
