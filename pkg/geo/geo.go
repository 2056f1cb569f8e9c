// Package geo provides great-circle geodesy for release-point calculations.
// All positions use the WGS84 coordinate system (same as GPS).
package geo

import (
	"fmt"
	"math"
)

// Constants for geodetic calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusMeters is the Earth's mean radius in meters (WGS84)
	EarthRadiusMeters = 6371000.0
)

// Position represents a point on or above Earth's surface.
type Position struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64

	// Altitude in meters above the reference surface
	Altitude float64
}

// Validate checks that the position's coordinates are within their legal
// ranges and that all fields are finite.
func (p Position) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) ||
		p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("invalid latitude %v: must be between -90 and 90 degrees", p.Latitude)
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) ||
		p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("invalid longitude %v: must be between -180 and 180 degrees", p.Longitude)
	}
	if math.IsNaN(p.Altitude) || math.IsInf(p.Altitude, 0) {
		return fmt.Errorf("invalid altitude %v: must be finite", p.Altitude)
	}
	return nil
}

// NormalizeBearing ensures a bearing is in the range [0, 360).
func NormalizeBearing(bearing float64) float64 {
	b := math.Mod(bearing, 360.0)
	if b < 0 {
		b += 360.0
	}
	return b
}

// DistanceAndBearing calculates the great-circle distance in meters and the
// initial bearing in degrees from one position to another.
//
// Distance uses the Haversine formula, which is numerically stable for both
// short and antipodal separations. Bearing is the initial forward azimuth
// along the great circle, normalized to [0, 360), where 0 = North, 90 = East.
// Longitude wraparound across the antimeridian is handled by the angular
// difference inside the trigonometric terms, never by linear subtraction.
//
// The degenerate case from == to returns (0, 0) by definition.
func DistanceAndBearing(from, to Position) (float64, float64) {
	lat1 := from.Latitude * DegreesToRadians
	lon1 := from.Longitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	lon2 := to.Longitude * DegreesToRadians

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	// Clamp against floating point drift before the square roots
	if a > 1.0 {
		a = 1.0
	} else if a < 0.0 {
		a = 0.0
	}

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	distance := EarthRadiusMeters * c

	// Initial bearing (forward azimuth)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * RadiansToDegrees

	return distance, NormalizeBearing(bearing)
}
