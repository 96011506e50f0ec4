package mux

import "errors"

// ErrTimeout is returned by Call when no matching response arrives within
// the deadline. Stray responses arriving later are dropped, never delivered
// to an unrelated call.
var ErrTimeout = errors.New("mux: request timed out")

// ErrConnectionClosed is returned by Call when the underlying connection
// closes while the request is pending.
var ErrConnectionClosed = errors.New("mux: connection closed")

// BadRequestError is returned when the server rejects a request with an
// error frame. Some routes treat it as "unsupported on this firmware",
// others as a terminal input error; the caller decides.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return "mux: bad request: " + e.Message
}

// IsBadRequest reports whether err is (or wraps) a server rejection.
func IsBadRequest(err error) bool {
	var bad *BadRequestError
	return errors.As(err, &bad)
}
