package geo

import (
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
)

// Center is a map centre. Lat/Lon win over City/Country when both are set.
type Center struct {
	Lat     *float64 `mapstructure:"lat"`
	Lon     *float64 `mapstructure:"lon"`
	City    string   `mapstructure:"city"`
	Country string   `mapstructure:"country"`
}

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Geocode(city, country string) (lat, lon float64, err error)
}

// GoogleGeocoder uses the Google Geocoding API through kelvins/geocoder.
type GoogleGeocoder struct {
	APIKey string
}

// the geocoder package keeps its key in a package variable.
var keyMu sync.Mutex

func (g GoogleGeocoder) Geocode(city, country string) (float64, float64, error) {
	if g.APIKey == "" {
		return 0, 0, fmt.Errorf("geocoder api key is not configured")
	}

	keyMu.Lock()
	defer keyMu.Unlock()
	geocoder.ApiKey = g.APIKey

	loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %s,%s: %w", city, country, err)
	}
	return loc.Latitude, loc.Longitude, nil
}

// Resolve returns the coordinates of c, geocoding City/Country if needed.
func Resolve(c Center, g Geocoder) (lat, lon float64, err error) {
	if c.Lat != nil && c.Lon != nil {
		return *c.Lat, *c.Lon, nil
	}
	if c.City == "" {
		return 0, 0, fmt.Errorf("centre needs lat/lon or a city")
	}
	if g == nil {
		return 0, 0, fmt.Errorf("centre %q needs a geocoder", c.City)
	}
	return g.Geocode(c.City, c.Country)
}
