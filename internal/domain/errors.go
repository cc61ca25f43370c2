package domain

import "errors"

var (
	// ErrRoomResolution means the relay or its backing store could not be
	// reached while joining. Joining again is safe.
	ErrRoomResolution = errors.New("room resolution failed")
	// ErrNotJoined is returned when signaling is attempted outside a room.
	ErrNotJoined = errors.New("not joined to a room")
	// ErrAlreadyJoined is returned when joining while a room is bound.
	ErrAlreadyJoined = errors.New("already joined to a room")
	// ErrMediaAcquisition covers local capture and media engine setup failures.
	ErrMediaAcquisition = errors.New("media acquisition failed")
	// ErrMalformedSignal marks a payload that does not match its kind.
	ErrMalformedSignal = errors.New("malformed signal")
	// ErrStalePeer marks a message from a peer other than the bound one.
	ErrStalePeer = errors.New("message from stale peer")
	// ErrNegotiationTimeout is returned when a negotiation does not complete
	// within the configured limit.
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	// ErrManagerClosed is returned by calls made after Close.
	ErrManagerClosed = errors.New("connection manager closed")
)

// Retryable reports whether the operation that returned err may be repeated
// as is. Usage errors and recovered conditions are not retryable.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRoomResolution),
		errors.Is(err, ErrMediaAcquisition),
		errors.Is(err, ErrNegotiationTimeout):
		return true
	default:
		return false
	}
}
