package session

import "errors"

// ErrNotConnected is returned when an operation needs a live connection and
// none has been established. Fatal to the call, not to the session.
var ErrNotConnected = errors.New("session: not connected")

// ErrAuthenticationFailed is returned when the server reports a credential
// failure on login. Terminal: never retried silently, and no token is
// cached.
var ErrAuthenticationFailed = errors.New("session: authentication failed")

// ErrInvalidSerialNumber is returned when the server rejects the
// authenticate exchange, which in practice means the serial number does not
// match a known device.
var ErrInvalidSerialNumber = errors.New("session: invalid serial number")

// ErrPasswordRequired is returned by Quickstart when no token is cached for
// the serial number and no password was supplied.
var ErrPasswordRequired = errors.New("session: no cached token, password required")

// ErrConnectionClosedOnPurpose marks a connection the device dropped
// deliberately, e.g. right after accepting a Wi-Fi reconfiguration. Callers
// must not misreport it as a failure.
var ErrConnectionClosedOnPurpose = errors.New("session: connection closed on purpose")
