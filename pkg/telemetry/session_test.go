package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unklstewy/drop-scope/pkg/mavlink"
)

// fakeReceiver is an in-memory Receiver driven by the test.
type fakeReceiver struct {
	msgs      chan mavlink.Message
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{
		msgs:   make(chan mavlink.Message, 16),
		errs:   make(chan error, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeReceiver) Receive(ctx context.Context, timeout time.Duration) (mavlink.Message, error) {
	select {
	case msg := <-f.msgs:
		return msg, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, &mavlink.ConnError{Kind: mavlink.ErrClosed, Endpoint: "fake"}
	case <-ctx.Done():
		return nil, &mavlink.ConnError{Kind: mavlink.ErrClosed, Endpoint: "fake", Err: ctx.Err()}
	case <-time.After(timeout):
		return nil, &mavlink.ConnError{Kind: mavlink.ErrTimeout, Endpoint: "fake"}
	}
}

func (f *fakeReceiver) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// testConfig returns fast timeouts for session tests.
func testConfig() Config {
	return Config{
		Endpoint:         "test:fake",
		ConnectTimeout:   50 * time.Millisecond,
		ReceiveTimeout:   10 * time.Millisecond,
		FreshnessTimeout: 50 * time.Millisecond,
		Reconnect:        Policy{Interval: 10 * time.Millisecond},
	}
}

var (
	testPosition = mavlink.GlobalPositionInt{LatE7: 223193000, LonE7: 1141694000, AltMM: 500000}
	testSpeeds   = mavlink.VFRHUD{Airspeed: 50, Groundspeed: 45}
)

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestSessionSnapshot tests snapshot assembly from the message stream.
func TestSessionSnapshot(t *testing.T) {
	t.Run("No snapshot before both message kinds arrive", func(t *testing.T) {
		recv := newFakeReceiver()
		sess := NewSession(testConfig(), WithDialer(func(string, time.Duration) (mavlink.Receiver, error) {
			return recv, nil
		}))
		if err := sess.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		defer sess.Disconnect()

		if _, ok := sess.LatestSnapshot(); ok {
			t.Error("Expected no snapshot before any message")
		}

		recv.msgs <- testPosition
		waitFor(t, time.Second, func() bool {
			_, ok := sess.LatestSnapshot()
			return !ok && sess.State() == StateConnected
		}, "state should remain connected")

		// Position alone is not a complete snapshot
		if _, ok := sess.LatestSnapshot(); ok {
			t.Error("Expected no snapshot with position only")
		}

		recv.msgs <- testSpeeds
		waitFor(t, time.Second, func() bool {
			_, ok := sess.LatestSnapshot()
			return ok
		}, "snapshot should appear after both message kinds")

		snap, _ := sess.LatestSnapshot()
		if snap.Position.Latitude != 22.3193 || snap.Position.Altitude != 500 {
			t.Errorf("Position not decoded: %+v", snap.Position)
		}
		if snap.Speed.Airspeed != 50 || snap.Speed.Groundspeed != 45 {
			t.Errorf("Speeds not stored: %+v", snap.Speed)
		}
		if snap.Stale {
			t.Error("Fresh snapshot must not be stale")
		}
	})

	t.Run("Malformed and out-of-range messages are discarded", func(t *testing.T) {
		recv := newFakeReceiver()
		sess := NewSession(testConfig(), WithDialer(func(string, time.Duration) (mavlink.Receiver, error) {
			return recv, nil
		}))
		if err := sess.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		defer sess.Disconnect()

		// Decode failure, out-of-range position, negative speed: all skipped
		recv.errs <- &mavlink.DecodeError{Line: "junk", Err: errors.New("bad json")}
		recv.msgs <- mavlink.GlobalPositionInt{LatE7: 2000000000, LonE7: 0, AltMM: 0} // latitude 200
		recv.msgs <- mavlink.VFRHUD{Airspeed: -5, Groundspeed: 45}

		recv.msgs <- testPosition
		recv.msgs <- testSpeeds

		waitFor(t, time.Second, func() bool {
			snap, ok := sess.LatestSnapshot()
			return ok && snap.Position.Latitude == 22.3193
		}, "valid messages should survive interleaved garbage")

		snap, _ := sess.LatestSnapshot()
		if snap.Speed.Airspeed != 50 {
			t.Errorf("Discarded speed leaked into snapshot: %+v", snap.Speed)
		}
	})
}

// TestSessionStaleness tests the freshness timeout transitions.
func TestSessionStaleness(t *testing.T) {
	recv := newFakeReceiver()
	sess := NewSession(testConfig(), WithDialer(func(string, time.Duration) (mavlink.Receiver, error) {
		return recv, nil
	}))
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Disconnect()

	recv.msgs <- testPosition
	recv.msgs <- testSpeeds
	waitFor(t, time.Second, func() bool {
		_, ok := sess.LatestSnapshot()
		return ok
	}, "snapshot should appear")

	// Starve the feed past the freshness timeout
	waitFor(t, time.Second, func() bool {
		snap, _ := sess.LatestSnapshot()
		return snap.Stale && sess.State() == StateStale
	}, "session should go stale without fresh data")

	// A successful receive recovers to CONNECTED and clears staleness
	recv.msgs <- testSpeeds
	waitFor(t, time.Second, func() bool {
		snap, _ := sess.LatestSnapshot()
		return !snap.Stale && sess.State() == StateConnected
	}, "session should recover from stale on fresh data")

	if sess.RetryCount() != 0 {
		t.Errorf("Retry count should be 0 after accepted message, got %d", sess.RetryCount())
	}
}

// TestSessionReconnect tests the fixed-backoff reconnect cycle.
func TestSessionReconnect(t *testing.T) {
	var mu sync.Mutex
	var dials int
	failuresBeforeSuccess := 3

	current := newFakeReceiver()

	dialer := func(string, time.Duration) (mavlink.Receiver, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		// First dial comes from Connect; the next few simulate a dead link
		if dials > 1 && dials <= 1+failuresBeforeSuccess {
			return nil, &mavlink.ConnError{Kind: mavlink.ErrOpenFailed, Endpoint: "test:fake"}
		}
		current = newFakeReceiver()
		return current, nil
	}

	sess := NewSession(testConfig(), WithDialer(dialer))
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Disconnect()

	first := current
	first.errs <- &mavlink.ConnError{Kind: mavlink.ErrClosed, Endpoint: "test:fake"}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 2+failuresBeforeSuccess
	}, "session should keep dialing until the link comes back")

	waitFor(t, time.Second, func() bool {
		return sess.State() == StateConnected
	}, "session should return to CONNECTED after reconnect")

	// Retry count reflects the failed attempts until a message arrives
	if rc := sess.RetryCount(); rc < failuresBeforeSuccess {
		t.Errorf("Expected retry count >= %d before fresh data, got %d", failuresBeforeSuccess, rc)
	}

	mu.Lock()
	last := current
	mu.Unlock()
	last.msgs <- testSpeeds

	waitFor(t, time.Second, func() bool {
		return sess.RetryCount() == 0
	}, "retry count should reset on accepted message")
}

// TestSessionConnect tests the synchronous initial open.
func TestSessionConnect(t *testing.T) {
	t.Run("Open failure surfaces and leaves DISCONNECTED", func(t *testing.T) {
		sess := NewSession(testConfig(), WithDialer(func(string, time.Duration) (mavlink.Receiver, error) {
			return nil, &mavlink.ConnError{Kind: mavlink.ErrOpenFailed, Endpoint: "test:fake"}
		}))

		err := sess.Connect(context.Background())
		if err == nil {
			t.Fatal("Expected connect error")
		}
		if sess.State() != StateDisconnected {
			t.Errorf("Expected DISCONNECTED after failed connect, got %s", sess.State())
		}
	})

	t.Run("Double connect rejected", func(t *testing.T) {
		sess := NewSession(testConfig(), WithDialer(func(string, time.Duration) (mavlink.Receiver, error) {
			return newFakeReceiver(), nil
		}))
		if err := sess.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		defer sess.Disconnect()

		if err := sess.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("Expected ErrAlreadyConnected, got: %v", err)
		}
	})
}

// TestSessionDisconnect tests cooperative shutdown.
func TestSessionDisconnect(t *testing.T) {
	recv := newFakeReceiver()
	cfg := testConfig()
	cfg.ReceiveTimeout = 10 * time.Second // force the loop to block in Receive

	sess := NewSession(cfg, WithDialer(func(string, time.Duration) (mavlink.Receiver, error) {
		return recv, nil
	}))
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sess.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not unblock the receive wait")
	}

	if sess.State() != StateDisconnected {
		t.Errorf("Expected DISCONNECTED after Disconnect, got %s", sess.State())
	}

	// Idempotent
	sess.Disconnect()
}

// TestPolicyNext tests the pure reconnect policy.
func TestPolicyNext(t *testing.T) {
	p := Policy{Interval: 5 * time.Second}

	tests := []struct {
		name       string
		state      State
		retryCount int
		wantState  State
		wantWait   time.Duration
	}{
		{"First attempt from connected", StateConnected, 0, StateConnecting, 0},
		{"First attempt from stale", StateStale, 0, StateConnecting, 0},
		{"Retry waits fixed interval", StateConnecting, 1, StateConnecting, 5 * time.Second},
		{"Interval does not grow", StateConnecting, 50, StateConnecting, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, wait := p.Next(tt.state, tt.retryCount)
			if state != tt.wantState || wait != tt.wantWait {
				t.Errorf("Next(%s, %d) = (%s, %v), want (%s, %v)",
					tt.state, tt.retryCount, state, wait, tt.wantState, tt.wantWait)
			}
		})
	}
}
