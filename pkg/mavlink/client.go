package mavlink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// Receiver is the interface the telemetry session consumes. Receive performs
// a bounded wait for the next message; Close unblocks any in-progress wait.
type Receiver interface {
	// Receive waits up to timeout for the next typed message. A timeout
	// returns a ConnError of kind ErrTimeout; a closed link returns kind
	// ErrClosed; an undecodable line returns a DecodeError.
	Receive(ctx context.Context, timeout time.Duration) (Message, error)

	// Close shuts the transport down and unblocks any pending Receive.
	Close() error
}

// deadlineConn is the transport contract: a byte stream with read deadlines.
// net.Conn satisfies it, and so does *os.File for serial devices on Linux.
type deadlineConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Client reads line-delimited JSON telemetry messages from a transport.
type Client struct {
	endpoint string
	conn     deadlineConn
	reader   *bufio.Reader
}

// Dial opens the transport named by an opaque endpoint string and returns a
// client ready to receive.
//
// Endpoint forms:
//
//	udp:host:port   - UDP listener/connection to a telemetry bridge
//	tcp:host:port   - TCP connection to a telemetry bridge
//	/dev/ttyUSB0    - any other string is treated as a serial device path
func Dial(endpoint string, timeout time.Duration) (*Client, error) {
	conn, err := openTransport(endpoint, timeout)
	if err != nil {
		return nil, &ConnError{Kind: ErrOpenFailed, Endpoint: endpoint, Err: err}
	}
	return NewClient(endpoint, conn), nil
}

// NewClient wraps an already-open transport. Tests use this with in-memory
// pipes.
func NewClient(endpoint string, conn deadlineConn) *Client {
	return &Client{
		endpoint: endpoint,
		conn:     conn,
		reader:   bufio.NewReader(conn),
	}
}

// openTransport maps the endpoint string onto a concrete transport without
// interpreting it beyond the scheme prefix.
func openTransport(endpoint string, timeout time.Duration) (deadlineConn, error) {
	switch {
	case strings.HasPrefix(endpoint, "udp:"):
		return net.DialTimeout("udp", strings.TrimPrefix(endpoint, "udp:"), timeout)
	case strings.HasPrefix(endpoint, "tcp:"):
		return net.DialTimeout("tcp", strings.TrimPrefix(endpoint, "tcp:"), timeout)
	default:
		// Serial device path. Modern kernels support read deadlines on ttys
		// through the poller, which gives us the same bounded-wait behavior
		// as the network transports.
		return os.OpenFile(endpoint, os.O_RDWR, 0)
	}
}

// Endpoint returns the opaque connection string the client was opened with.
func (c *Client) Endpoint() string { return c.endpoint }

// Receive implements Receiver.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnError{Kind: ErrClosed, Endpoint: c.endpoint, Err: err}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, &ConnError{Kind: ErrClosed, Endpoint: c.endpoint, Err: err}
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if isDeadlineExceeded(err) {
			return nil, &ConnError{Kind: ErrTimeout, Endpoint: c.endpoint, Err: err}
		}
		return nil, &ConnError{Kind: ErrClosed, Endpoint: c.endpoint, Err: err}
	}

	return DecodeMessage(line)
}

// Close implements Receiver.
func (c *Client) Close() error {
	return c.conn.Close()
}

func isDeadlineExceeded(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	// os.File wraps deadline errors in *fs.PathError
	if pe, ok := err.(*os.PathError); ok {
		if ne, ok := pe.Err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return true
		}
	}
	return false
}

// envelope is the on-the-wire shape of a feed message.
type envelope struct {
	Type string `json:"type"`
}

// DecodeMessage decodes a single feed line into a typed message.
// Unknown message types and bad JSON return a DecodeError.
func DecodeMessage(line []byte) (Message, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, &DecodeError{Line: trimmed, Err: fmt.Errorf("empty message")}
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, &DecodeError{Line: trimmed, Err: err}
	}

	switch env.Type {
	case TypeVFRHUD:
		var msg VFRHUD
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			return nil, &DecodeError{Line: trimmed, Err: err}
		}
		return msg, nil

	case TypeGlobalPositionInt:
		var msg GlobalPositionInt
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			return nil, &DecodeError{Line: trimmed, Err: err}
		}
		return msg, nil

	case TypeHeartbeat:
		var msg Heartbeat
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			return nil, &DecodeError{Line: trimmed, Err: err}
		}
		return msg, nil

	default:
		return nil, &DecodeError{Line: trimmed, Err: fmt.Errorf("unknown message type %q", env.Type)}
	}
}
