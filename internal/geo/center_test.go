package geo

import (
	"testing"
)

type fixedGeocoder struct {
	lat, lon float64
	city     string
}

func (g *fixedGeocoder) Geocode(city, country string) (float64, float64, error) {
	g.city = city + "," + country
	return g.lat, g.lon, nil
}

func TestResolvePrefersCoordinates(t *testing.T) {
	lat, lon := 59.9, 10.7
	g := &fixedGeocoder{lat: 1, lon: 2}

	gotLat, gotLon, err := Resolve(Center{Lat: &lat, Lon: &lon, City: "Oslo"}, g)
	if err != nil || gotLat != lat || gotLon != lon {
		t.Fatalf("expected configured coordinates, got %v %v %v", gotLat, gotLon, err)
	}
	if g.city != "" {
		t.Fatalf("expected no geocoding call, got %q", g.city)
	}
}

func TestResolveGeocodesCity(t *testing.T) {
	g := &fixedGeocoder{lat: 48.85, lon: 2.35}
	lat, lon, err := Resolve(Center{City: "Paris", Country: "France"}, g)
	if err != nil || lat != 48.85 || lon != 2.35 {
		t.Fatalf("unexpected result %v %v %v", lat, lon, err)
	}
	if g.city != "Paris,France" {
		t.Fatalf("unexpected geocode query %q", g.city)
	}
}

func TestResolveErrors(t *testing.T) {
	if _, _, err := Resolve(Center{}, nil); err == nil {
		t.Fatalf("expected error for an empty centre")
	}
	if _, _, err := Resolve(Center{City: "Paris"}, nil); err == nil {
		t.Fatalf("expected error without a geocoder")
	}
	if _, _, err := (GoogleGeocoder{}).Geocode("Paris", "France"); err == nil {
		t.Fatalf("expected error without an api key")
	}
}
