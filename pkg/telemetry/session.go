// Package telemetry maintains a live, validated feed of aircraft state from
// the flight-control link.
//
// A Session owns the connection, tracks data freshness, reconnects with a
// fixed backoff when the link drops, and exposes the latest validated
// position/speed snapshot to callers through a non-blocking read.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/unklstewy/drop-scope/pkg/geo"
	"github.com/unklstewy/drop-scope/pkg/mavlink"
	"github.com/unklstewy/drop-scope/pkg/release"
)

// State is the connection state of the telemetry session.
type State int

// Session states.
const (
	// StateDisconnected: initial state, and terminal after Disconnect
	StateDisconnected State = iota

	// StateConnecting: opening the transport, retrying on failure
	StateConnecting

	// StateConnected: actively receiving fresh telemetry
	StateConnected

	// StateStale: nominally connected but the freshness timeout has elapsed
	// without an accepted message
	StateStale
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateStale:
		return "STALE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrAlreadyConnected is returned by Connect on a session that is running.
var ErrAlreadyConnected = errors.New("telemetry session already connected")

// Config holds session timeouts and the transport endpoint. All values are
// explicit; the session reads no ambient global state.
type Config struct {
	// Endpoint is the opaque transport connection string
	Endpoint string

	// ConnectTimeout bounds a single transport open attempt (default 10s)
	ConnectTimeout time.Duration

	// ReceiveTimeout bounds a single receive wait (default 5s)
	ReceiveTimeout time.Duration

	// FreshnessTimeout is how old the last accepted message may be before
	// the session reports its snapshot as stale (default 5s)
	FreshnessTimeout time.Duration

	// Reconnect is the retry policy applied while CONNECTING
	Reconnect Policy
}

// DefaultConfig returns the standard session timeouts for an endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:         endpoint,
		ConnectTimeout:   10 * time.Second,
		ReceiveTimeout:   5 * time.Second,
		FreshnessTimeout: 5 * time.Second,
		Reconnect:        DefaultPolicy(),
	}
}

// Snapshot is a point-in-time copy of the latest validated aircraft state.
type Snapshot struct {
	Position  geo.Position      `json:"position"`
	Speed     release.SpeedData `json:"speed"`
	Timestamp time.Time         `json:"timestamp"`
	Stale     bool              `json:"stale"`
}

// MarshalJSON encodes the state by name so API payloads stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status summarizes session health for logs and the status API.
type Status struct {
	Endpoint   string    `json:"endpoint"`
	State      State     `json:"state"`
	RetryCount int       `json:"retry_count"`
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// Dialer opens the transport for an endpoint. Injectable so tests can run
// the session against fake receivers.
type Dialer func(endpoint string, timeout time.Duration) (mavlink.Receiver, error)

// Session is the telemetry state machine. Create with NewSession, start with
// Connect, stop with Disconnect. LatestSnapshot never blocks.
type Session struct {
	cfg  Config
	dial Dialer
	now  func() time.Time

	mu           sync.RWMutex
	state        State
	retryCount   int
	lastPosition *geo.Position
	lastSpeed    *release.SpeedData
	lastUpdate   time.Time
	recv         mavlink.Receiver

	cancel context.CancelFunc
	done   chan struct{}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialer replaces the transport opener.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) { s.dial = d }
}

// WithClock replaces the time source, for staleness tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a disconnected session for the configured endpoint.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = 5 * time.Second
	}
	if cfg.FreshnessTimeout == 0 {
		cfg.FreshnessTimeout = 5 * time.Second
	}
	if cfg.Reconnect.Interval == 0 {
		cfg.Reconnect = DefaultPolicy()
	}

	s := &Session{
		cfg:   cfg,
		state: StateDisconnected,
		now:   time.Now,
		dial: func(endpoint string, timeout time.Duration) (mavlink.Receiver, error) {
			return mavlink.Dial(endpoint, timeout)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the transport and starts the receive loop. The initial open
// is synchronous: on failure the session stays DISCONNECTED and the error is
// returned, so callers can walk a fallback endpoint list. Once connected,
// link drops are handled internally by the reconnect cycle and never
// surface here.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	recv, err := s.dial(s.cfg.Endpoint, s.cfg.ConnectTimeout)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.recv = recv
	s.state = StateConnected
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(loopCtx)
	}()

	return nil
}

// LatestSnapshot returns the most recent validated state, or ok=false when
// no complete snapshot has been received yet. It is a non-blocking
// point-in-time read; the Stale flag is derived from the freshness timeout
// at call time.
func (s *Session) LatestSnapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastPosition == nil || s.lastSpeed == nil {
		return Snapshot{}, false
	}

	return Snapshot{
		Position:  *s.lastPosition,
		Speed:     *s.lastSpeed,
		Timestamp: s.lastUpdate,
		Stale:     s.now().Sub(s.lastUpdate) > s.cfg.FreshnessTimeout,
	}, true
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RetryCount returns the number of reconnection attempts since the last
// accepted message.
func (s *Session) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

// CurrentStatus returns a copy of the session health for status surfaces.
func (s *Session) CurrentStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Endpoint:   s.cfg.Endpoint,
		State:      s.state,
		RetryCount: s.retryCount,
		LastUpdate: s.lastUpdate,
	}
}

// Disconnect cancels the receive loop, closes the transport, and forces the
// session to DISCONNECTED. Safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	recv := s.recv
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if recv != nil {
		// Unblocks an in-progress receive wait
		recv.Close()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.recv = nil
	s.done = nil
	s.mu.Unlock()
}

// run is the receive loop. It owns all state transitions after Connect.
func (s *Session) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.RLock()
		recv := s.recv
		s.mu.RUnlock()
		if recv == nil {
			return
		}

		msg, err := recv.Receive(ctx, s.cfg.ReceiveTimeout)
		switch {
		case err == nil:
			s.handleMessage(msg)

		case isDecodeError(err):
			// Malformed or out-of-range messages are discarded, never fatal
			log.Printf("telemetry: discarding message: %v", err)

		case mavlink.IsTimeout(err):
			// No new data inside the bounded wait. Not a failure; check
			// whether the snapshot has gone stale and keep receiving.
			s.checkStaleness()

		default:
			// Hard transport error: closed, reset, or cancelled
			if ctx.Err() != nil {
				return
			}
			log.Printf("telemetry: link error: %v", err)
			if !s.reconnect(ctx) {
				return
			}
		}
	}
}

// handleMessage validates and applies one accepted telemetry message.
// Every accepted message refreshes the snapshot timestamp and resets the
// retry count.
func (s *Session) handleMessage(msg mavlink.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case mavlink.GlobalPositionInt:
		pos := m.Position()
		if err := pos.Validate(); err != nil {
			log.Printf("telemetry: discarding position: %v", err)
			return
		}
		s.lastPosition = &pos

	case mavlink.VFRHUD:
		if !validSpeeds(m) {
			log.Printf("telemetry: discarding speeds: airspeed=%v groundspeed=%v", m.Airspeed, m.Groundspeed)
			return
		}
		speed := release.SpeedData{Airspeed: m.Airspeed, Groundspeed: m.Groundspeed}
		s.lastSpeed = &speed

	case mavlink.Heartbeat:
		// Liveness only; falls through to the freshness update

	default:
		log.Printf("telemetry: discarding unhandled message type %s", msg.Type())
		return
	}

	s.lastUpdate = s.now()
	s.retryCount = 0
	if s.state == StateStale || s.state == StateConnected {
		s.state = StateConnected
	}
}

// checkStaleness transitions CONNECTED -> STALE when the freshness timeout
// elapses without an accepted message.
func (s *Session) checkStaleness() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return
	}
	if s.lastUpdate.IsZero() || s.now().Sub(s.lastUpdate) > s.cfg.FreshnessTimeout {
		s.state = StateStale
		log.Printf("telemetry: no fresh data for %v, snapshot is stale", s.cfg.FreshnessTimeout)
	}
}

// reconnect cycles the transport with the fixed-interval policy until it
// succeeds or the context is cancelled. Returns false when cancelled.
// Snapshot reads are never blocked: the session lock is held only for the
// brief state updates, not across dial attempts or backoff waits.
func (s *Session) reconnect(ctx context.Context) bool {
	s.mu.Lock()
	if s.recv != nil {
		s.recv.Close()
		s.recv = nil
	}
	state, wait := s.cfg.Reconnect.Next(s.state, s.retryCount)
	s.state = state
	s.mu.Unlock()

	for {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(wait):
			}
		}
		if ctx.Err() != nil {
			return false
		}

		s.mu.Lock()
		s.retryCount++
		attempt := s.retryCount
		s.mu.Unlock()

		recv, err := s.dial(s.cfg.Endpoint, s.cfg.ConnectTimeout)
		if err == nil {
			s.mu.Lock()
			s.recv = recv
			s.state = StateConnected
			s.mu.Unlock()
			log.Printf("telemetry: reconnected to %s after %d attempts", s.cfg.Endpoint, attempt)
			return true
		}

		log.Printf("telemetry: reconnect attempt %d failed: %v", attempt, err)

		s.mu.Lock()
		_, wait = s.cfg.Reconnect.Next(s.state, s.retryCount)
		s.mu.Unlock()
	}
}

func validSpeeds(m mavlink.VFRHUD) bool {
	for _, v := range []float64{m.Airspeed, m.Groundspeed} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

func isDecodeError(err error) bool {
	var de *mavlink.DecodeError
	return errors.As(err, &de)
}
