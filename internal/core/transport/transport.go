package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn represents a WebSocket connection carrying JSON text frames.
type Conn interface {
	// Send sends one text frame over the wire.
	Send(ctx context.Context, text []byte) error
	// Recv blocks until a text frame is received or the connection closes.
	Recv(ctx context.Context) ([]byte, error)
	// Close performs a closing handshake with the given status code and reason.
	Close(code int, reason string) error
	// Ping sends a WebSocket-level ping frame.
	Ping() error
	// SetReadDeadline sets the read deadline on the underlying connection.
	SetReadDeadline(t time.Time) error
}

// Dialer creates WebSocket connections to a SolMate endpoint.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Conn, error)
}

// ClosedNormally reports whether err stems from a deliberate closing
// handshake (status 1000). The device drops the connection this way after a
// Wi-Fi reconfiguration, and callers must not treat that as a failure.
func ClosedNormally(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure
}

// --- WebSocket Conn implementation ---

type wsConn struct {
	ws  *websocket.Conn
	mu  sync.Mutex // protects writes
	log *slog.Logger
}

func newWSConn(ws *websocket.Conn, log *slog.Logger) *wsConn {
	c := &wsConn{ws: ws, log: log}
	ws.SetPongHandler(func(appData string) error {
		return ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	return c
}

func (c *wsConn) Send(_ context.Context, text []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, text); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *wsConn) Recv(_ context.Context) ([]byte, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}

	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("transport: unexpected message type %d", msgType)
	}
	return data, nil
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	err := c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(5*time.Second),
	)
	c.mu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.ws.Close()
		return fmt.Errorf("transport: close: %w", err)
	}
	return c.ws.Close()
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(5*time.Second))
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// --- Remote Dialer ---

// RemoteDialer connects to the public Sol endpoint (or wherever its load
// balancer redirects us).
type RemoteDialer struct {
	log *slog.Logger
}

// NewRemoteDialer creates a dialer for the public endpoint.
func NewRemoteDialer(log *slog.Logger) *RemoteDialer {
	return &RemoteDialer{log: log}
}

// Dial connects to the given wss:// URI.
func (d *RemoteDialer) Dial(ctx context.Context, uri string) (Conn, error) {
	d.log.Info("dialing endpoint", "uri", uri)

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	ws, resp, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: HTTP %d: %w", uri, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", uri, err)
	}

	d.log.Info("connected", "uri", uri)
	return newWSConn(ws, d.log), nil
}

// --- Local Dialer ---

// LocalDialer connects directly to a SolMate on the local network, typically
// ws://<hostname>:9124 or ws://192.168.4.1:9124 via its access point.
type LocalDialer struct {
	log *slog.Logger
}

// NewLocalDialer creates a direct LAN dialer.
func NewLocalDialer(log *slog.Logger) *LocalDialer {
	return &LocalDialer{log: log}
}

// Dial connects to the device directly over the local network.
func (d *LocalDialer) Dial(ctx context.Context, uri string) (Conn, error) {
	d.log.Info("dialing device locally", "uri", uri)

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	if strings.HasPrefix(uri, "wss://") {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // device uses self-signed cert
	}

	ws, resp, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: local dial %s: HTTP %d: %w", uri, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: local dial %s: %w", uri, err)
	}

	d.log.Info("connected locally", "uri", uri)
	return newWSConn(ws, d.log), nil
}
