// Package wire defines the JSON frame shapes spoken over the SolMate
// WebSocket protocol and the fixed timestamp encodings it expects.
package wire

import (
	"encoding/json"
	"time"
)

// TimeFormat is the second-precision, zone-less encoding used for generic
// date fields in request payloads (e.g. log timeframes).
const TimeFormat = "2006-01-02T15:04:05"

// ProfileTimeFormat is the microsecond-precision encoding used exclusively
// for injection-profile timestamps. The device accepts a profile update only
// when its timestamp is newer than the stored one.
const ProfileTimeFormat = "2006-01-02T15:04:05.000000Z"

// Request is the outgoing frame. Ids are assigned by the multiplexer and
// strictly increase within one connection's lifetime.
type Request struct {
	Route string `json:"route"`
	ID    int64  `json:"id"`
	Data  any    `json:"data"`
}

// Response is the inbound frame. Exactly one of Data or Error is set;
// Error carries the server's rejection message.
type Response struct {
	ID    int64           `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error *string         `json:"error"`
}

// Timestamp marshals a time.Time using TimeFormat. Encoding is
// one-directional: the server never sends these back.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(TimeFormat))
}

// ProfileTimestamp marshals a time.Time using ProfileTimeFormat.
type ProfileTimestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t ProfileTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(ProfileTimeFormat))
}
