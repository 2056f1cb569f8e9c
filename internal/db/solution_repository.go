package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/unklstewy/drop-scope/pkg/geo"
	"github.com/unklstewy/drop-scope/pkg/release"
)

// ErrSolutionNotFound is returned when a solution record cannot be found
var ErrSolutionNotFound = errors.New("solution not found")

// SolutionRecord is a persisted release-point computation together with
// the inputs it was computed from. Failed computations are stored too,
// with the numeric solution fields null.
type SolutionRecord struct {
	ID         int64     `json:"id"`
	TargetName string    `json:"target_name"`
	Code       string    `json:"code"`
	Message    string    `json:"message,omitempty"`

	Aircraft geo.Position      `json:"aircraft"`
	Target   geo.Position      `json:"target"`
	Speed    release.SpeedData `json:"speed"`

	Solution *release.Solution `json:"solution,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SolutionRepository provides methods for solution history operations
type SolutionRepository struct {
	db *sql.DB
}

// NewSolutionRepository creates a new solution repository
func NewSolutionRepository(db *sql.DB) *SolutionRepository {
	return &SolutionRepository{db: db}
}

// Insert persists one computation outcome. The record's ID and CreatedAt
// are filled in from the database.
func (r *SolutionRepository) Insert(ctx context.Context, rec *SolutionRecord) error {
	query := `
		INSERT INTO solutions (
			target_name, code, message,
			aircraft_latitude, aircraft_longitude, aircraft_altitude,
			target_latitude, target_longitude, target_altitude,
			airspeed, groundspeed,
			release_time, release_distance, flight_time,
			target_distance, target_bearing, altitude_difference, wind_speed,
			warnings
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at
	`

	var releaseTime, releaseDistance, flightTime sql.NullFloat64
	var targetDistance, targetBearing, altDiff, windSpeed sql.NullFloat64
	if s := rec.Solution; s != nil {
		releaseTime = sql.NullFloat64{Float64: s.ReleaseTime, Valid: true}
		releaseDistance = sql.NullFloat64{Float64: s.ReleaseDistance, Valid: true}
		flightTime = sql.NullFloat64{Float64: s.FlightTime, Valid: true}
		targetDistance = sql.NullFloat64{Float64: s.TargetDistance, Valid: true}
		targetBearing = sql.NullFloat64{Float64: s.TargetBearing, Valid: true}
		altDiff = sql.NullFloat64{Float64: s.AltitudeDifference, Valid: true}
		windSpeed = sql.NullFloat64{Float64: s.WindSpeed, Valid: true}
	}

	warnings := rec.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		rec.TargetName,
		rec.Code,
		rec.Message,
		rec.Aircraft.Latitude,
		rec.Aircraft.Longitude,
		rec.Aircraft.Altitude,
		rec.Target.Latitude,
		rec.Target.Longitude,
		rec.Target.Altitude,
		rec.Speed.Airspeed,
		rec.Speed.Groundspeed,
		releaseTime,
		releaseDistance,
		flightTime,
		targetDistance,
		targetBearing,
		altDiff,
		windSpeed,
		pq.Array(warnings),
	).Scan(&rec.ID, &rec.CreatedAt)
}

// InsertResult records a release.Result for a named target with the inputs
// it was computed from.
func (r *SolutionRepository) InsertResult(ctx context.Context, targetName string, aircraft, target geo.Position, speed release.SpeedData, result release.Result) (*SolutionRecord, error) {
	rec := &SolutionRecord{
		TargetName: targetName,
		Code:       result.Code.String(),
		Message:    result.Message,
		Aircraft:   aircraft,
		Target:     target,
		Speed:      speed,
		Solution:   result.Solution,
		Warnings:   result.Warnings,
	}
	if err := r.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

const solutionColumns = `
	id, target_name, code, message,
	aircraft_latitude, aircraft_longitude, aircraft_altitude,
	target_latitude, target_longitude, target_altitude,
	airspeed, groundspeed,
	release_time, release_distance, flight_time,
	target_distance, target_bearing, altitude_difference, wind_speed,
	warnings, created_at
`

// scanSolution scans one row into a SolutionRecord, reassembling the
// Solution struct when the numeric fields are present.
func scanSolution(scanner interface{ Scan(...interface{}) error }) (*SolutionRecord, error) {
	rec := &SolutionRecord{}
	var releaseTime, releaseDistance, flightTime sql.NullFloat64
	var targetDistance, targetBearing, altDiff, windSpeed sql.NullFloat64
	var warnings pq.StringArray

	err := scanner.Scan(
		&rec.ID,
		&rec.TargetName,
		&rec.Code,
		&rec.Message,
		&rec.Aircraft.Latitude,
		&rec.Aircraft.Longitude,
		&rec.Aircraft.Altitude,
		&rec.Target.Latitude,
		&rec.Target.Longitude,
		&rec.Target.Altitude,
		&rec.Speed.Airspeed,
		&rec.Speed.Groundspeed,
		&releaseTime,
		&releaseDistance,
		&flightTime,
		&targetDistance,
		&targetBearing,
		&altDiff,
		&windSpeed,
		&warnings,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Warnings = []string(warnings)
	if releaseTime.Valid {
		rec.Solution = &release.Solution{
			ReleaseTime:        releaseTime.Float64,
			ReleaseDistance:    releaseDistance.Float64,
			FlightTime:         flightTime.Float64,
			TargetDistance:     targetDistance.Float64,
			TargetBearing:      targetBearing.Float64,
			AltitudeDifference: altDiff.Float64,
			WindSpeed:          windSpeed.Float64,
		}
	}

	return rec, nil
}

// GetByID retrieves a single solution record.
func (r *SolutionRepository) GetByID(ctx context.Context, id int64) (*SolutionRecord, error) {
	query := `SELECT ` + solutionColumns + ` FROM solutions WHERE id = $1`

	rec, err := scanSolution(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrSolutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecent retrieves the most recent solution records, newest first.
func (r *SolutionRepository) GetRecent(ctx context.Context, limit int) ([]*SolutionRecord, error) {
	query := `SELECT ` + solutionColumns + ` FROM solutions ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SolutionRecord
	for rows.Next() {
		rec, err := scanSolution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// GetRecentByTarget retrieves the most recent records for one target.
func (r *SolutionRepository) GetRecentByTarget(ctx context.Context, targetName string, limit int) ([]*SolutionRecord, error) {
	query := `SELECT ` + solutionColumns + ` FROM solutions WHERE target_name = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, targetName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SolutionRecord
	for rows.Next() {
		rec, err := scanSolution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
