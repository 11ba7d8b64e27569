package geo

import (
	"math"
	"strconv"
)

// EarthRadius is the mean Earth radius in meters used for great-circle distances.
const EarthRadius = 6371000.0

// Coordinate is a WGS84 point in degrees.
// The zero value means "unknown" and is never searched around.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// IsZero reports whether the coordinate was never set.
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Valid reports whether the coordinate lies inside the WGS84 ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// String renders the coordinate as "lat,lng", the form used by query strings.
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// Distance returns the great-circle distance between a and b in meters
// using the haversine formula.
func Distance(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// FormatKilometers renders a distance in meters as kilometers with
// at most one fraction digit, e.g. 1250 -> "1.3 Km", 3000 -> "3 Km".
func FormatKilometers(meters float64) string {
	km := math.Round(meters/100) / 10
	if km == 0 {
		km = 0 // drop negative zero
	}
	return strconv.FormatFloat(km, 'f', -1, 64) + " Km"
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
