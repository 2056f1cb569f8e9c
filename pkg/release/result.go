// Package release computes the moment a free-falling payload must be dropped
// from a moving aircraft to strike a ground target.
//
// The calculator composes great-circle geodesy, a quadratic-drag ballistic
// solver, and input validation into a single CalculateReleasePoint operation.
// All components are pure and safe for concurrent use.
package release

import (
	"fmt"
	"math"
)

// ErrorCode identifies why a calculation was rejected or failed.
type ErrorCode int

// The closed set of calculation outcomes.
const (
	Success ErrorCode = iota
	InvalidCoordinates
	InvalidSpeed
	TargetTooFar
	CalculationError
	NumericalInstability
)

// String returns the canonical name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case InvalidCoordinates:
		return "INVALID_COORDINATES"
	case InvalidSpeed:
		return "INVALID_SPEED"
	case TargetTooFar:
		return "TARGET_TOO_FAR"
	case CalculationError:
		return "CALCULATION_ERROR"
	case NumericalInstability:
		return "NUMERICAL_INSTABILITY"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// SpeedData carries the aircraft's airspeed and groundspeed in m/s.
type SpeedData struct {
	// Airspeed through the air mass, m/s
	Airspeed float64 `json:"airspeed"`

	// Groundspeed over the ground, m/s
	Groundspeed float64 `json:"groundspeed"`
}

// WindSpeed estimates the wind magnitude along the flight path as the
// absolute difference between airspeed and groundspeed.
func (s SpeedData) WindSpeed() float64 {
	return math.Abs(s.Airspeed - s.Groundspeed)
}

// WindAlongTrack returns the signed wind component along the direction of
// flight: positive for a tailwind, negative for a headwind.
func (s SpeedData) WindAlongTrack() float64 {
	return s.Groundspeed - s.Airspeed
}

// Validate checks that both speeds are positive and finite.
func (s SpeedData) Validate() error {
	if math.IsNaN(s.Airspeed) || math.IsInf(s.Airspeed, 0) || s.Airspeed <= 0 {
		return fmt.Errorf("invalid airspeed %v: must be positive and finite", s.Airspeed)
	}
	if math.IsNaN(s.Groundspeed) || math.IsInf(s.Groundspeed, 0) || s.Groundspeed <= 0 {
		return fmt.Errorf("invalid groundspeed %v: must be positive and finite", s.Groundspeed)
	}
	return nil
}

// Solution is the successful outcome of a release-point calculation.
type Solution struct {
	// ReleaseTime is the countdown in seconds until release
	ReleaseTime float64 `json:"release_time"`

	// ReleaseDistance is the horizontal lead distance in meters before the
	// target at which release must occur
	ReleaseDistance float64 `json:"release_distance"`

	// FlightTime is the payload fall duration in seconds
	FlightTime float64 `json:"flight_time"`

	// WindSpeed is the estimated wind magnitude in m/s
	WindSpeed float64 `json:"wind_speed"`

	// TargetDistance is the great-circle distance to the target in meters
	TargetDistance float64 `json:"target_distance"`

	// TargetBearing is the initial bearing to the target in degrees
	TargetBearing float64 `json:"target_bearing"`

	// AltitudeDifference is aircraft altitude minus target altitude in meters
	AltitudeDifference float64 `json:"altitude_difference"`
}

// Result is the tagged outcome of a release-point calculation: either a
// Solution, or an error code with a human-readable message. Advisory
// warnings may accompany either variant.
type Result struct {
	Code     ErrorCode `json:"error_code"`
	Message  string    `json:"message,omitempty"`
	Solution *Solution `json:"solution,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// OK reports whether the calculation produced a solution.
func (r Result) OK() bool {
	return r.Code == Success && r.Solution != nil
}

// failure builds an error result.
func failure(code ErrorCode, format string, args ...interface{}) Result {
	return Result{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
