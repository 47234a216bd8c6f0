package geo

import (
	"math"
	"testing"
)

func TestDistanceSamePointIsZero(t *testing.T) {
	points := []Point{
		FromDegrees(0, 0),
		FromDegrees(42, 42),
		FromDegrees(-33.8688, 151.2093),
		FromDegrees(89.9, -179.9),
	}
	for _, p := range points {
		if d := Distance(p, p); d != 0 {
			t.Fatalf("distance(%v, %v) = %v, want 0", p, p, d)
		}
	}
}

func TestDistanceIsSymmetric(t *testing.T) {
	pairs := [][2]Point{
		{FromDegrees(42, 42), FromDegrees(43, 42)},
		{FromDegrees(48.8566, 2.3522), FromDegrees(51.5074, -0.1278)},
		{FromDegrees(-1.2921, 36.8219), FromDegrees(40.7128, -74.0060)},
	}
	for _, pair := range pairs {
		ab := Distance(pair[0], pair[1])
		ba := Distance(pair[1], pair[0])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric distance: %v vs %v", ab, ba)
		}
	}
}

func TestDistanceKnownPair(t *testing.T) {
	d := Distance(FromDegrees(42.0, 42.0), FromDegrees(43.0, 42.0))
	if math.Abs(d-111.194) > 0.001 {
		t.Fatalf("distance = %.6f km, want 111.194 ± 0.001", d)
	}
}

func TestWithin(t *testing.T) {
	center := FromDegrees(42.0, 42.0)
	if !Within(center, FromDegrees(42.5, 42.0), 60) {
		t.Fatal("point 55km away should be inside a 60km radius")
	}
	if Within(center, FromDegrees(43.0, 42.0), 100) {
		t.Fatal("point 111km away should be outside a 100km radius")
	}
}
