package scan

import (
	"math"
	"testing"

	"campustrust/internal/model"
)

func TestDistanceMeters(t *testing.T) {
	// Mess hall to library on the same campus, roughly 111m of latitude.
	a := model.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}
	b := model.GeoPoint{Latitude: 12.9726, Longitude: 77.5946}

	dist := DistanceMeters(a, b)
	if math.Abs(dist-111.2) > 1.0 {
		t.Fatalf("expected ~111m, got %.2f", dist)
	}
	if DistanceMeters(a, a) != 0 {
		t.Fatalf("distance to self should be zero")
	}
}

func TestContainsCircle(t *testing.T) {
	fence := model.Geofence{
		Center:       model.GeoPoint{Latitude: 12.9716, Longitude: 77.5946},
		RadiusMeters: 50,
	}

	if !Contains(fence, fence.Center) {
		t.Fatalf("center should be inside")
	}
	inside := model.GeoPoint{Latitude: 12.97163, Longitude: 77.5946}
	if !Contains(fence, inside) {
		t.Fatalf("point within radius should be inside")
	}
	outside := model.GeoPoint{Latitude: 12.9726, Longitude: 77.5946}
	if Contains(fence, outside) {
		t.Fatalf("point ~111m away should be outside a 50m fence")
	}
}

func TestContainsCircleBoundary(t *testing.T) {
	center := model.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}
	edge := model.GeoPoint{Latitude: 12.9726, Longitude: 77.5946}
	fence := model.Geofence{Center: center, RadiusMeters: DistanceMeters(center, edge)}

	if !Contains(fence, edge) {
		t.Fatalf("point exactly on the radius should count as inside")
	}
}

func TestContainsPolygon(t *testing.T) {
	fence := model.Geofence{
		// The circle would say "inside" for everything; the polygon must win.
		Center:       model.GeoPoint{Latitude: 12.97, Longitude: 77.59},
		RadiusMeters: 100000,
		Polygon: []model.GeoPoint{
			{Latitude: 12.970, Longitude: 77.590},
			{Latitude: 12.970, Longitude: 77.600},
			{Latitude: 12.980, Longitude: 77.600},
			{Latitude: 12.980, Longitude: 77.590},
		},
	}

	if !Contains(fence, model.GeoPoint{Latitude: 12.975, Longitude: 77.595}) {
		t.Fatalf("point inside polygon rejected")
	}
	if Contains(fence, model.GeoPoint{Latitude: 12.985, Longitude: 77.595}) {
		t.Fatalf("point outside polygon accepted")
	}
}
