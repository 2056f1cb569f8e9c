// Package mavlink consumes the typed telemetry feed exposed by an external
// flight-control link.
//
// The package does not speak the wire-level autopilot protocol itself; it
// reads the line-delimited JSON message stream a telemetry bridge exposes
// over an opaque transport (serial device, UDP, or TCP endpoint) and decodes
// the two message families the release solver needs: VFR_HUD (airspeed and
// groundspeed) and GLOBAL_POSITION_INT (scaled position).
package mavlink

import (
	"errors"
	"fmt"

	"github.com/unklstewy/drop-scope/pkg/geo"
)

// Message type identifiers as they appear on the feed.
const (
	TypeVFRHUD            = "VFR_HUD"
	TypeGlobalPositionInt = "GLOBAL_POSITION_INT"
	TypeHeartbeat         = "HEARTBEAT"
)

// Message is a typed telemetry message from the feed.
type Message interface {
	// Type returns the feed message type identifier.
	Type() string
}

// VFRHUD carries the aircraft's speed readings in m/s.
type VFRHUD struct {
	// Airspeed through the air mass, m/s
	Airspeed float64 `json:"airspeed"`

	// Groundspeed over the ground, m/s
	Groundspeed float64 `json:"groundspeed"`
}

// Type implements Message.
func (VFRHUD) Type() string { return TypeVFRHUD }

// GlobalPositionInt carries the aircraft's position in the feed's scaled
// integer encoding: degrees ×1e7 for latitude/longitude, millimeters for
// altitude. Decode to degrees/meters with Position before use.
type GlobalPositionInt struct {
	// LatE7 is latitude in degrees ×1e7
	LatE7 int32 `json:"lat"`

	// LonE7 is longitude in degrees ×1e7
	LonE7 int32 `json:"lon"`

	// AltMM is altitude in millimeters above the reference
	AltMM int32 `json:"alt"`
}

// Type implements Message.
func (GlobalPositionInt) Type() string { return TypeGlobalPositionInt }

// Position decodes the scaled integers to a geographic position in
// degrees and meters.
func (m GlobalPositionInt) Position() geo.Position {
	return geo.Position{
		Latitude:  float64(m.LatE7) / 1e7,
		Longitude: float64(m.LonE7) / 1e7,
		Altitude:  float64(m.AltMM) / 1000.0,
	}
}

// Heartbeat signals the link is alive. It carries no payload the solver
// uses, but receiving one still refreshes link liveness.
type Heartbeat struct {
	// SystemID identifies the sending autopilot
	SystemID int `json:"system_id"`
}

// Type implements Message.
func (Heartbeat) Type() string { return TypeHeartbeat }

// ErrKind classifies connection failures for retry decisions.
type ErrKind int

// Connection error kinds.
const (
	// ErrOpenFailed: the transport could not be opened
	ErrOpenFailed ErrKind = iota

	// ErrTimeout: no message arrived within the bounded wait
	ErrTimeout

	// ErrClosed: the transport was closed, locally or by the peer
	ErrClosed
)

func (k ErrKind) String() string {
	switch k {
	case ErrOpenFailed:
		return "open failed"
	case ErrTimeout:
		return "timeout"
	case ErrClosed:
		return "closed"
	default:
		return fmt.Sprintf("ErrKind(%d)", int(k))
	}
}

// ConnError is a classified transport failure.
type ConnError struct {
	Kind     ErrKind
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *ConnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telemetry link %s: %s: %v", e.Endpoint, e.Kind, e.Err)
	}
	return fmt.Sprintf("telemetry link %s: %s", e.Endpoint, e.Kind)
}

// Unwrap exposes the underlying transport error.
func (e *ConnError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a bounded-wait timeout. A timeout is not
// a link failure; callers treat it as "no new data" and feed the staleness
// check.
func IsTimeout(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce) && ce.Kind == ErrTimeout
}

// IsClosed reports whether err indicates the transport is gone and the link
// must be reopened.
func IsClosed(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce) && ce.Kind == ErrClosed
}

// DecodeError marks a message that arrived but could not be decoded. The
// receive loop discards and logs these; they are never fatal.
type DecodeError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed telemetry message %q: %v", e.Line, e.Err)
}

// Unwrap exposes the underlying decode error.
func (e *DecodeError) Unwrap() error { return e.Err }
