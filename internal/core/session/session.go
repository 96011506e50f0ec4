// Package session manages the login/authenticate state machine over one
// multiplexed connection: token bootstrapping and caching, server-directed
// endpoint redirection, and the call surface protected routes sit behind.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trymwestin/solmate/internal/core/authstore"
	"github.com/trymwestin/solmate/internal/core/mux"
	"github.com/trymwestin/solmate/internal/core/transport"
)

// DefaultURI is the public Sol endpoint behind the load balancer.
const DefaultURI = "wss://sol.eet.energy:9124"

// Device identifiers sent with login/authenticate. The server partitions
// issued tokens by device id, so local and remote sessions must not share
// one.
const (
	RemoteDeviceID = "solmate-sdk"
	LocalDeviceID  = "local_webinterface"
)

// Mode selects remote (load-balanced public endpoint) or local (direct
// device connection) access.
type Mode int

const (
	ModeRemote Mode = iota
	ModeLocal
)

func (m Mode) String() string {
	if m == ModeLocal {
		return "local"
	}
	return "remote"
}

// State is the session lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateLoggedIn
	StateURIVerified
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateLoggedIn:
		return "logged_in"
	case StateURIVerified:
		return "uri_verified"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Config configures a session. SerialNum is required; everything else has a
// mode-dependent default.
type Config struct {
	SerialNum string
	URI       string        // endpoint to dial, DefaultURI when empty
	Mode      Mode          // remote or local access
	DeviceID  string        // overrides the mode's device identifier
	Timeout   time.Duration // per-request deadline, mux.DefaultTimeout when zero
}

// Session owns one connection at a time and walks it through
// Disconnected → Connected → LoggedIn → UriVerified → Authenticated.
type Session struct {
	cfg    Config
	dialer transport.Dialer
	store  authstore.Store
	log    *slog.Logger

	mu            sync.Mutex
	m             *mux.Mux
	state         State
	uri           string // current endpoint, rewritten by redirects
	verified      bool
	connectedOnce bool
}

// New creates a session. Local-mode sessions are pre-verified: there is no
// load balancer on a direct connection, so no redirection tier exists.
func New(cfg Config, dialer transport.Dialer, store authstore.Store, log *slog.Logger) *Session {
	if cfg.URI == "" {
		cfg.URI = DefaultURI
	}
	if cfg.DeviceID == "" {
		if cfg.Mode == ModeLocal {
			cfg.DeviceID = LocalDeviceID
		} else {
			cfg.DeviceID = RemoteDeviceID
		}
	}
	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		store:    store,
		log:      log,
		uri:      cfg.URI,
		verified: cfg.Mode == ModeLocal,
	}
}

// Connect dials the current endpoint URI, replacing and closing any prior
// connection first. The request id counter starts over with the new
// connection.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m != nil {
		s.m.Close(websocket.CloseNormalClosure, "reconnecting")
		s.m = nil
	}

	conn, err := s.dialer.Dial(ctx, s.uri)
	if err != nil {
		s.state = StateDisconnected
		return fmt.Errorf("session: connect: %w", err)
	}

	s.m = mux.New(conn, s.log)
	s.state = StateConnected
	s.connectedOnce = true
	s.log.Info("session connected", "uri", s.uri, "mode", s.cfg.Mode.String())
	return nil
}

// Call issues a request on the current connection and returns the response
// payload. ErrNotConnected when no connection exists.
func (s *Session) Call(ctx context.Context, route string, data any) (json.RawMessage, error) {
	s.mu.Lock()
	m := s.m
	s.mu.Unlock()

	if m == nil {
		return nil, ErrNotConnected
	}
	return m.Call(ctx, route, data, s.cfg.Timeout)
}

// Login exchanges the user password for a signature token. The password is
// digested as base64(SHA-256(password)) before it leaves the process. A
// success:false reply is a terminal ErrAuthenticationFailed; the token is
// never cached here — that is Quickstart's job.
func (s *Session) Login(ctx context.Context, password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	digest := base64.StdEncoding.EncodeToString(sum[:])

	raw, err := s.Call(ctx, "login", map[string]any{
		"serial_num":         s.cfg.SerialNum,
		"user_password_hash": digest,
		"device_id":          s.cfg.DeviceID,
	})
	if err != nil {
		return "", fmt.Errorf("session: login: %w", err)
	}

	var reply struct {
		Success   bool   `json:"success"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("session: login: decode: %w", err)
	}
	if !reply.Success {
		return "", ErrAuthenticationFailed
	}

	s.mu.Lock()
	s.state = StateLoggedIn
	s.mu.Unlock()

	s.log.Info("login succeeded", "serial_num", s.cfg.SerialNum)
	return reply.Signature, nil
}

// CheckURI verifies the endpoint against the load balancer's redirect
// answer. Idempotent: once verified, no wire call is made. When the server
// redirects to a different URI the endpoint is rewritten and redirected is
// true — the caller must reconnect before issuing further calls; the old
// connection is stale. Local sessions are always pre-verified.
func (s *Session) CheckURI(ctx context.Context, token string) (redirected bool, err error) {
	s.mu.Lock()
	if s.verified {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	raw, err := s.Call(ctx, "authenticate", s.authPayload(token))
	if err != nil {
		return false, fmt.Errorf("session: check uri: %w", err)
	}

	var reply struct {
		Redirect *string `json:"redirect"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return false, fmt.Errorf("session: check uri: decode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = true
	s.state = StateURIVerified
	if reply.Redirect != nil && *reply.Redirect != s.uri {
		s.log.Info("endpoint redirected", "from", s.uri, "to", *reply.Redirect)
		s.uri = *reply.Redirect
		return true, nil
	}
	return false, nil
}

// Authenticate unlocks protected routes on the current connection using the
// signature token. A server rejection here is re-signaled as
// ErrInvalidSerialNumber.
func (s *Session) Authenticate(ctx context.Context, token string) error {
	if _, err := s.Call(ctx, "authenticate", s.authPayload(token)); err != nil {
		if mux.IsBadRequest(err) {
			return fmt.Errorf("%w: %v", ErrInvalidSerialNumber, err)
		}
		return fmt.Errorf("session: authenticate: %w", err)
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.log.Info("session authenticated", "serial_num", s.cfg.SerialNum)
	return nil
}

// Quickstart is the path ordinary callers use: connect, reuse the cached
// token for this serial number or log in with password and cache the result,
// follow a redirect with a fresh connection if the load balancer issues one,
// then authenticate. The individual steps stay exposed for advanced flows.
func (s *Session) Quickstart(ctx context.Context, password string) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	var token string
	if s.store.Has(s.cfg.SerialNum) {
		t, err := s.store.Get(s.cfg.SerialNum)
		if err != nil {
			return fmt.Errorf("session: quickstart: %w", err)
		}
		token = t
		s.log.Debug("using cached token", "serial_num", s.cfg.SerialNum)
	} else {
		if password == "" {
			return ErrPasswordRequired
		}
		t, err := s.Login(ctx, password)
		if err != nil {
			return err
		}
		if err := s.store.Set(s.cfg.SerialNum, t); err != nil {
			return fmt.Errorf("session: quickstart: cache token: %w", err)
		}
		token = t
	}

	redirected, err := s.CheckURI(ctx, token)
	if err != nil {
		return err
	}
	if redirected {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	return s.Authenticate(ctx, token)
}

// Close performs the closing handshake on the current connection. Closing
// without ever having connected is a usage error (ErrNotConnected), not a
// crash; closing twice is harmless.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connectedOnce {
		return ErrNotConnected
	}
	if s.m == nil {
		return nil
	}
	err := s.m.Close(websocket.CloseNormalClosure, "")
	s.m = nil
	s.state = StateDisconnected
	return err
}

// ClosedOnPurpose rewrites a connection-closed failure of a route that is
// expected to drop the link (Wi-Fi reconfiguration) into
// ErrConnectionClosedOnPurpose. Other errors pass through untouched.
func ClosedOnPurpose(err error) error {
	if errors.Is(err, mux.ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosedOnPurpose, err)
	}
	return err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URI returns the current endpoint URI, including any redirect rewrite.
func (s *Session) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// Verified reports whether the endpoint URI has been verified.
func (s *Session) Verified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified
}

// Connected reports whether a connection currently exists.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m != nil
}

// SerialNum returns the immutable device identity this session targets.
func (s *Session) SerialNum() string {
	return s.cfg.SerialNum
}

// DeviceID returns the device identifier used in auth exchanges.
func (s *Session) DeviceID() string {
	return s.cfg.DeviceID
}

func (s *Session) authPayload(token string) map[string]any {
	return map[string]any{
		"serial_num": s.cfg.SerialNum,
		"signature":  token,
		"device_id":  s.cfg.DeviceID,
	}
}
