// Package ballistics solves the fall of a free-dropped payload under gravity
// and quadratic aerodynamic drag.
//
// The vertical equation of motion with quadratic drag and an altitude
// boundary condition has no closed-form elementary solution, so TimeOfFlight
// integrates the velocity/position ODE with a fixed small time step until the
// accumulated fall reaches the requested altitude difference.
package ballistics

import (
	"errors"
	"fmt"
	"math"
)

// Physical constants (SI units)
const (
	// Gravity is standard gravitational acceleration in m/s²
	Gravity = 9.80665

	// SeaLevelAirDensity is the ISA standard sea-level air density in kg/m³
	SeaLevelAirDensity = 1.225
)

// Integration parameters
const (
	// DefaultTimeStep is the integration step in seconds
	DefaultTimeStep = 0.01

	// DefaultMaxSteps caps the integration at 100 seconds of simulated fall
	DefaultMaxSteps = 10000
)

var (
	// ErrNonConvergence is returned when the integration does not reach the
	// target altitude within the step cap. Callers map this to a
	// numerical-instability failure.
	ErrNonConvergence = errors.New("ballistic integration did not converge within step limit")

	// ErrNotFinite is returned when the integration produces NaN or Inf,
	// typically from degenerate payload characteristics.
	ErrNotFinite = errors.New("ballistic integration produced a non-finite value")
)

// Characteristics describes the aerodynamic properties of the payload.
type Characteristics struct {
	// MassKg is the payload mass in kilograms
	MassKg float64 `json:"mass_kg"`

	// DragCoefficient is the dimensionless drag coefficient (0.47 for a cylinder)
	DragCoefficient float64 `json:"drag_coefficient"`

	// CrossSectionM2 is the cross-sectional area in square meters
	CrossSectionM2 float64 `json:"cross_section_m2"`
}

// DefaultCharacteristics returns the reference payload: a 350 g cylindrical
// body with a 0.003 m² cross-section.
func DefaultCharacteristics() Characteristics {
	return Characteristics{
		MassKg:          0.35,
		DragCoefficient: 0.47,
		CrossSectionM2:  0.003,
	}
}

// Validate checks that the characteristics describe a physical payload.
func (c Characteristics) Validate() error {
	if !(c.MassKg > 0) {
		return fmt.Errorf("invalid payload mass %v: must be positive", c.MassKg)
	}
	if !(c.DragCoefficient > 0) {
		return fmt.Errorf("invalid drag coefficient %v: must be positive", c.DragCoefficient)
	}
	if !(c.CrossSectionM2 > 0) {
		return fmt.Errorf("invalid cross-sectional area %v: must be positive", c.CrossSectionM2)
	}
	return nil
}

// Solver integrates payload trajectories with explicit physical constants.
// The zero value is not usable; construct with NewSolver.
type Solver struct {
	gravity    float64
	airDensity float64
	timeStep   float64
	maxSteps   int
}

// Option configures a Solver.
type Option func(*Solver)

// WithAirDensity overrides the standard sea-level air density, for drops at
// significant field elevation.
func WithAirDensity(rho float64) Option {
	return func(s *Solver) { s.airDensity = rho }
}

// WithTimeStep overrides the integration step size.
func WithTimeStep(dt float64) Option {
	return func(s *Solver) { s.timeStep = dt }
}

// WithMaxSteps overrides the integration step cap.
func WithMaxSteps(n int) Option {
	return func(s *Solver) { s.maxSteps = n }
}

// NewSolver creates a ballistic solver with standard constants.
func NewSolver(opts ...Option) *Solver {
	s := &Solver{
		gravity:    Gravity,
		airDensity: SeaLevelAirDensity,
		timeStep:   DefaultTimeStep,
		maxSteps:   DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TimeOfFlight computes how long the payload falls through altitudeDiff
// meters, in seconds.
//
// The payload starts with zero vertical velocity and accelerates downward
// under gravity, decelerated by quadratic drag:
//
//	dv/dt = g - (ρ·Cd·A / 2m)·v·|v|
//
// altitudeDiff must be positive; callers are expected to have rejected
// non-positive drops during validation, so a non-positive value here is an
// internal contract violation and returns an error rather than a solution.
func (s *Solver) TimeOfFlight(altitudeDiff float64, chars Characteristics, windSpeed float64) (float64, error) {
	if err := chars.Validate(); err != nil {
		return 0, err
	}
	if !(altitudeDiff > 0) || math.IsInf(altitudeDiff, 0) {
		return 0, fmt.Errorf("invalid altitude difference %v: must be positive and finite", altitudeDiff)
	}

	// Drag constant per unit mass: (ρ·Cd·A) / 2m
	k := 0.5 * s.airDensity * chars.DragCoefficient * chars.CrossSectionM2 / chars.MassKg

	var (
		velocity float64
		fallen   float64
		elapsed  float64
	)

	for step := 0; step < s.maxSteps; step++ {
		accel := s.gravity - k*velocity*math.Abs(velocity)
		velocity += accel * s.timeStep
		fallen += velocity * s.timeStep
		elapsed += s.timeStep

		if math.IsNaN(fallen) || math.IsInf(fallen, 0) {
			return 0, fmt.Errorf("%w: at t=%.2fs", ErrNotFinite, elapsed)
		}

		if fallen >= altitudeDiff {
			if elapsed <= 0 {
				// Cannot happen with a positive time step; a zero or negative
				// flight time out of a converged solve is a logic defect.
				panic(fmt.Sprintf("ballistics: converged with non-positive flight time %v", elapsed))
			}
			return elapsed, nil
		}
	}

	return 0, fmt.Errorf("%w: fell %.1fm of %.1fm in %d steps",
		ErrNonConvergence, fallen, altitudeDiff, s.maxSteps)
}

// DropDistance computes the horizontal distance in meters the payload travels
// between release and impact.
//
// The payload leaves the aircraft at groundspeed and is progressively carried
// by the air mass during the fall, so the wind component along the target
// bearing contributes half its full displacement over the flight time.
// windAlongTrack is signed: positive for a tailwind (groundspeed exceeds
// airspeed), negative for a headwind.
func DropDistance(flightTime, groundspeed, windAlongTrack float64) float64 {
	return groundspeed*flightTime + 0.5*windAlongTrack*flightTime
}
