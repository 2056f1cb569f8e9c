package release

import (
	"fmt"

	"github.com/unklstewy/drop-scope/pkg/geo"
)

// Default validation limits.
const (
	// DefaultMinReleaseAltitude is the minimum drop height in meters
	DefaultMinReleaseAltitude = 50.0

	// DefaultMaxTargetDistance is the maximum engagement range in meters
	DefaultMaxTargetDistance = 50000.0

	// DefaultWindSanityThreshold flags implausible airspeed/groundspeed
	// splits, in m/s. Exceeding it is advisory, not fatal.
	DefaultWindSanityThreshold = 20.0

	// DefaultMaxSpeed rejects sensor glitches reporting impossible speeds,
	// in m/s (200 m/s = 720 km/h)
	DefaultMaxSpeed = 200.0
)

// Limits holds the validator thresholds. Construct with DefaultLimits and
// override fields as needed; there is no ambient global configuration.
type Limits struct {
	MinReleaseAltitude  float64 `json:"min_release_altitude_m"`
	MaxTargetDistance   float64 `json:"max_target_distance_m"`
	WindSanityThreshold float64 `json:"wind_sanity_threshold_ms"`
	MaxSpeed            float64 `json:"max_speed_ms"`
}

// DefaultLimits returns the standard validation thresholds.
func DefaultLimits() Limits {
	return Limits{
		MinReleaseAltitude:  DefaultMinReleaseAltitude,
		MaxTargetDistance:   DefaultMaxTargetDistance,
		WindSanityThreshold: DefaultWindSanityThreshold,
		MaxSpeed:            DefaultMaxSpeed,
	}
}

// Request is a validated computation request. It carries the geometry
// derived during validation so the calculator does not recompute it.
type Request struct {
	Aircraft geo.Position
	Target   geo.Position
	Speed    SpeedData

	// Derived during validation
	TargetDistance     float64
	TargetBearing      float64
	AltitudeDifference float64
	WindSpeed          float64

	// Advisory warnings that do not block calculation
	Warnings []string
}

// Rejection explains why a request failed validation.
type Rejection struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Validator performs range and sanity checks on calculation inputs.
// It is stateless and safe for concurrent use.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator with the given thresholds.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Validate checks aircraft and target positions and the speed data,
// evaluating rules in order with the first failure winning:
//
//  1. coordinate ranges and drop height above the minimum release altitude
//  2. speeds positive and finite, below the sensor sanity ceiling
//  3. target within the maximum engagement range
//
// A large airspeed/groundspeed split is recorded as an advisory warning on
// the validated request, never as a failure.
func (v *Validator) Validate(aircraft, target geo.Position, speed SpeedData) (*Request, *Rejection) {
	if err := aircraft.Validate(); err != nil {
		return nil, &Rejection{InvalidCoordinates, fmt.Sprintf("aircraft position: %v", err)}
	}
	if err := target.Validate(); err != nil {
		return nil, &Rejection{InvalidCoordinates, fmt.Sprintf("target position: %v", err)}
	}

	altDiff := aircraft.Altitude - target.Altitude
	if altDiff < v.limits.MinReleaseAltitude {
		return nil, &Rejection{
			InvalidCoordinates,
			fmt.Sprintf("drop height too low: %.1fm above target, minimum is %.0fm",
				altDiff, v.limits.MinReleaseAltitude),
		}
	}

	if err := speed.Validate(); err != nil {
		return nil, &Rejection{InvalidSpeed, err.Error()}
	}
	if speed.Airspeed > v.limits.MaxSpeed {
		return nil, &Rejection{
			InvalidSpeed,
			fmt.Sprintf("airspeed %.1f m/s exceeds sanity ceiling of %.0f m/s",
				speed.Airspeed, v.limits.MaxSpeed),
		}
	}
	if speed.Groundspeed > v.limits.MaxSpeed {
		return nil, &Rejection{
			InvalidSpeed,
			fmt.Sprintf("groundspeed %.1f m/s exceeds sanity ceiling of %.0f m/s",
				speed.Groundspeed, v.limits.MaxSpeed),
		}
	}

	distance, bearing := geo.DistanceAndBearing(aircraft, target)
	if distance > v.limits.MaxTargetDistance {
		return nil, &Rejection{
			TargetTooFar,
			fmt.Sprintf("target %.0fm away, maximum engagement range is %.0fm",
				distance, v.limits.MaxTargetDistance),
		}
	}

	req := &Request{
		Aircraft:           aircraft,
		Target:             target,
		Speed:              speed,
		TargetDistance:     distance,
		TargetBearing:      bearing,
		AltitudeDifference: altDiff,
		WindSpeed:          speed.WindSpeed(),
	}

	if req.WindSpeed > v.limits.WindSanityThreshold {
		req.Warnings = append(req.Warnings, fmt.Sprintf(
			"airspeed/groundspeed split of %.1f m/s exceeds the %.0f m/s wind sanity threshold; check pitot data",
			req.WindSpeed, v.limits.WindSanityThreshold))
	}

	return req, nil
}
