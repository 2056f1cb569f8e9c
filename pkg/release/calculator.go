package release

import (
	"errors"
	"fmt"
	"math"

	"github.com/unklstewy/drop-scope/pkg/ballistics"
	"github.com/unklstewy/drop-scope/pkg/geo"
)

// Calculator orchestrates validation, geodesy, and the ballistic solver into
// a single release-point operation. It holds only immutable configuration and
// is safe for concurrent use by multiple callers.
type Calculator struct {
	validator *Validator
	solver    *ballistics.Solver
	payload   ballistics.Characteristics
}

// CalcOption configures a Calculator.
type CalcOption func(*Calculator)

// WithLimits overrides the default validation limits.
func WithLimits(limits Limits) CalcOption {
	return func(c *Calculator) { c.validator = NewValidator(limits) }
}

// WithSolver overrides the default ballistic solver.
func WithSolver(s *ballistics.Solver) CalcOption {
	return func(c *Calculator) { c.solver = s }
}

// WithPayload overrides the default payload characteristics.
func WithPayload(p ballistics.Characteristics) CalcOption {
	return func(c *Calculator) { c.payload = p }
}

// NewCalculator creates a calculator with default limits, solver constants,
// and the reference payload.
func NewCalculator(opts ...CalcOption) *Calculator {
	c := &Calculator{
		validator: NewValidator(DefaultLimits()),
		solver:    ballistics.NewSolver(),
		payload:   ballistics.DefaultCharacteristics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Payload returns the payload characteristics the calculator solves for.
func (c *Calculator) Payload() ballistics.Characteristics {
	return c.payload
}

// CalculateReleasePoint computes when and where the payload must be released
// for the aircraft to hit the target. Deterministic for identical inputs; no
// side effects beyond the returned Result.
//
// Expected domain violations (bad coordinates, bad speeds, target out of
// range) come back as typed failure results, never as errors or panics.
func (c *Calculator) CalculateReleasePoint(aircraft, target geo.Position, speed SpeedData) Result {
	req, rej := c.validator.Validate(aircraft, target, speed)
	if rej != nil {
		return failure(rej.Code, "%s", rej.Message)
	}

	flightTime, err := c.solver.TimeOfFlight(req.AltitudeDifference, c.payload, req.WindSpeed)
	if err != nil {
		if errors.Is(err, ballistics.ErrNonConvergence) || errors.Is(err, ballistics.ErrNotFinite) {
			return failure(NumericalInstability, "ballistic solve failed: %v", err)
		}
		return failure(CalculationError, "ballistic solve failed: %v", err)
	}

	releaseDistance := ballistics.DropDistance(flightTime, speed.Groundspeed, speed.WindAlongTrack())
	if !isFinite(releaseDistance) {
		return failure(CalculationError, "release distance: non-finite value at drop-distance step")
	}

	releaseTime := (req.TargetDistance - releaseDistance) / speed.Groundspeed
	if !isFinite(releaseTime) {
		return failure(CalculationError, "release time: non-finite value at countdown step")
	}

	warnings := req.Warnings
	if releaseTime < 0 {
		// Past the release point already. The drop is still solvable on an
		// overshoot pass, so clamp the countdown and advise instead of failing.
		warnings = append(warnings, fmt.Sprintf(
			"release point passed %.1fs ago; countdown clamped to zero, re-approach required",
			-releaseTime))
		releaseTime = 0
	}

	return Result{
		Code: Success,
		Solution: &Solution{
			ReleaseTime:        releaseTime,
			ReleaseDistance:    releaseDistance,
			FlightTime:         flightTime,
			WindSpeed:          req.WindSpeed,
			TargetDistance:     req.TargetDistance,
			TargetBearing:      req.TargetBearing,
			AltitudeDifference: req.AltitudeDifference,
		},
		Warnings: warnings,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
