package telemetry

import "time"

// Policy is the reconnection policy: a pure function of the current state
// and retry count, so it can be tested without a transport.
type Policy struct {
	// Interval is the fixed wait between reconnection attempts
	Interval time.Duration
}

// DefaultPolicy returns the standard 5-second fixed reconnect interval.
func DefaultPolicy() Policy {
	return Policy{Interval: 5 * time.Second}
}

// Next returns the state to enter and how long to wait before the next
// connection attempt.
//
// The first attempt out of any non-connecting state is immediate; once in
// CONNECTING, every subsequent attempt waits the fixed interval regardless
// of retry count. There is no upper bound on retries; only explicit
// cancellation stops the cycle.
func (p Policy) Next(state State, retryCount int) (State, time.Duration) {
	if state == StateConnecting && retryCount > 0 {
		return StateConnecting, p.Interval
	}
	return StateConnecting, 0
}
