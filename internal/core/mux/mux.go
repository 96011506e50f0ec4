// Package mux correlates request/response traffic over one shared
// connection. Every outgoing request gets a unique id, strictly increasing
// within the connection's lifetime, and a background read loop dispatches
// each inbound frame to the caller waiting on that id.
package mux

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trymwestin/solmate/internal/core/transport"
	"github.com/trymwestin/solmate/internal/core/wire"
)

// DefaultTimeout is the per-request response deadline.
const DefaultTimeout = 30 * time.Second

// Mux owns one Conn and matches responses to pending requests by id.
// A new connection requires a new Mux; the id counter is scoped to it.
type Mux struct {
	conn transport.Conn
	log  *slog.Logger

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan wire.Response

	done      chan struct{} // closed when the read loop exits
	closeOnce sync.Once
	readErr   error // cause of read loop exit, set before done closes
}

// New creates a multiplexer over conn and starts its read loop.
func New(conn transport.Conn, log *slog.Logger) *Mux {
	m := &Mux{
		conn:    conn,
		log:     log,
		pending: make(map[int64]chan wire.Response),
		done:    make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// Call sends {route, id, data} and waits for the response bearing the same
// id. It fails with ErrTimeout after timeout (DefaultTimeout when zero),
// with a BadRequestError when the response carries an error field, and with
// ErrConnectionClosed when the connection drops while waiting. A timed-out
// id is forgotten; its stray response, if one ever arrives, is dropped.
func (m *Mux) Call(ctx context.Context, route string, data any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id := m.nextID.Add(1)

	frame, err := json.Marshal(wire.Request{Route: route, ID: id, Data: data})
	if err != nil {
		return nil, fmt.Errorf("mux: marshal %s: %w", route, err)
	}

	respCh := make(chan wire.Response, 1)
	m.pendingMu.Lock()
	m.pending[id] = respCh
	m.pendingMu.Unlock()

	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
	}()

	m.log.Debug("sending request", "route", route, "id", id)
	if err := m.conn.Send(ctx, frame); err != nil {
		// A write can be the first place a dead connection shows up. When
		// the read loop is already gone, report the closure, not the raw
		// write error, so reconnect policies recognize it.
		select {
		case <-m.done:
			return nil, fmt.Errorf("mux: send %s: %w", route, m.closedErr())
		default:
		}
		return nil, fmt.Errorf("mux: send %s: %w", route, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &BadRequestError{Message: *resp.Error}
		}
		return resp.Data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: route %s id %d after %s", ErrTimeout, route, id, timeout)
	case <-m.done:
		return nil, m.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the underlying connection. All pending calls fail with
// ErrConnectionClosed rather than hang. Safe to call more than once.
func (m *Mux) Close(code int, reason string) error {
	var err error
	m.closeOnce.Do(func() {
		err = m.conn.Close(code, reason)
	})
	return err
}

// Done is closed once the read loop has exited, i.e. the connection is gone.
func (m *Mux) Done() <-chan struct{} {
	return m.done
}

// Err returns the error that ended the read loop, or nil while it runs.
func (m *Mux) Err() error {
	select {
	case <-m.done:
		return m.readErr
	default:
		return nil
	}
}

func (m *Mux) closedErr() error {
	if transport.ClosedNormally(m.readErr) {
		return fmt.Errorf("%w: closing handshake: %v", ErrConnectionClosed, m.readErr)
	}
	if m.readErr != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, m.readErr)
	}
	return ErrConnectionClosed
}

func (m *Mux) readLoop() {
	defer close(m.done)

	for {
		frame, err := m.conn.Recv(context.Background())
		if err != nil {
			m.readErr = err
			m.log.Debug("read loop exiting", "error", err)
			return
		}

		var resp wire.Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			m.log.Warn("dropping malformed frame", "error", err)
			continue
		}

		m.dispatch(resp)
	}
}

func (m *Mux) dispatch(resp wire.Response) {
	m.pendingMu.Lock()
	ch, ok := m.pending[resp.ID]
	m.pendingMu.Unlock()

	if !ok {
		// Stale response for a timed-out or unknown id.
		m.log.Debug("dropping unmatched response", "id", resp.ID)
		return
	}

	select {
	case ch <- resp:
	default:
	}
}
