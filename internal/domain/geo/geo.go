// Package geo converts coordinates into great-circle distances and travel
// time estimates, and keeps the last known position of each paramedic.
package geo

import (
	"fmt"
	"math"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
)

// EarthRadiusKm is the mean radius of the spherical earth approximation.
const EarthRadiusKm = 6371.0

const (
	DefaultSpeedKmH        = 40.0
	DefaultOverheadMinutes = 2
)

// Coordinate is an immutable latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Validate rejects coordinates outside [-90,90] x [-180,180], NaN and Inf.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", apperr.ErrInvalidCoordinate, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", apperr.ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", c.Latitude, c.Longitude)
}

// Distance returns the haversine distance between a and b in kilometres.
func Distance(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}

	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Clamp against rounding pushing h slightly past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h)), nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Estimator turns a distance into an ETA using an average speed plus a fixed
// dispatch overhead.
type Estimator struct {
	SpeedKmH        float64
	OverheadMinutes int
}

// NewEstimator returns an Estimator, substituting defaults for non-positive values.
func NewEstimator(speedKmH float64, overheadMinutes int) Estimator {
	if speedKmH <= 0 {
		speedKmH = DefaultSpeedKmH
	}
	if overheadMinutes < 0 {
		overheadMinutes = DefaultOverheadMinutes
	}
	return Estimator{SpeedKmH: speedKmH, OverheadMinutes: overheadMinutes}
}

// ETA returns the estimated travel time in whole minutes. It is 0 only for a
// zero distance and never decreases as distance grows.
func (e Estimator) ETA(distanceKm float64) int {
	if distanceKm <= 0 || math.IsNaN(distanceKm) {
		return 0
	}
	speed := e.SpeedKmH
	if speed <= 0 {
		speed = DefaultSpeedKmH
	}
	minutes := int(math.Ceil(distanceKm / speed * 60))
	if minutes < 1 {
		minutes = 1
	}
	overhead := e.OverheadMinutes
	if overhead < 0 {
		overhead = 0
	}
	return minutes + overhead
}
