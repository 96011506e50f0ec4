// Package solmate is the public client for the Sol/SolMate WebSocket API.
// It re-exports the core types and wraps the individual API routes in
// typed methods over the session's call surface.
package solmate

import (
	"github.com/trymwestin/solmate/internal/core/authstore"
	"github.com/trymwestin/solmate/internal/core/mux"
	"github.com/trymwestin/solmate/internal/core/retry"
	"github.com/trymwestin/solmate/internal/core/session"
	"github.com/trymwestin/solmate/internal/core/state"
	"github.com/trymwestin/solmate/internal/core/transport"
)

// Re-export core types for external use.
type (
	// Session manages the login/authenticate state machine.
	Session = session.Session
	// SessionConfig configures a session.
	SessionConfig = session.Config
	// Mode selects remote or local access.
	Mode = session.Mode
	// State is the session lifecycle position.
	State = session.State
	// Store persists signature tokens across runs.
	Store = authstore.Store
	// FileStore is the JSON-file token store.
	FileStore = authstore.FileStore
	// Dialer creates WebSocket connections to an endpoint.
	Dialer = transport.Dialer
	// Conn represents a WebSocket connection.
	Conn = transport.Conn
	// LiveValues is the latest device reading.
	LiveValues = state.LiveValues
	// BadRequestError is a server-side rejection of a request.
	BadRequestError = mux.BadRequestError
	// ProbeResult is the outcome of probing an optional route.
	ProbeResult = retry.Result
)

// Access mode constants.
const (
	ModeRemote = session.ModeRemote
	ModeLocal  = session.ModeLocal
)

// Session state constants.
const (
	StateDisconnected  = session.StateDisconnected
	StateConnected     = session.StateConnected
	StateLoggedIn      = session.StateLoggedIn
	StateURIVerified   = session.StateURIVerified
	StateAuthenticated = session.StateAuthenticated
)

// DefaultURI is the public Sol endpoint.
const DefaultURI = session.DefaultURI

// Error sentinels re-exported from the core.
var (
	ErrNotConnected              = session.ErrNotConnected
	ErrAuthenticationFailed      = session.ErrAuthenticationFailed
	ErrInvalidSerialNumber       = session.ErrInvalidSerialNumber
	ErrPasswordRequired          = session.ErrPasswordRequired
	ErrConnectionClosedOnPurpose = session.ErrConnectionClosedOnPurpose
	ErrTimeout                   = mux.ErrTimeout
	ErrConnectionClosed          = mux.ErrConnectionClosed
)

// IsBadRequest reports whether err is (or wraps) a server rejection.
func IsBadRequest(err error) bool {
	return mux.IsBadRequest(err)
}
