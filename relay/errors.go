package relay

import "errors"

// Relay client errors.
var (
	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("relay: client closed")
	// ErrNotConnected indicates no relay connection is available.
	ErrNotConnected = errors.New("relay: not connected")
	// ErrRejected indicates the relay refused the event.
	ErrRejected = errors.New("relay: event rejected")
	// ErrUnsigned indicates an event was published without a signature.
	ErrUnsigned = errors.New("relay: event not signed")
)

// Signer errors.
var (
	// ErrSignerClosed indicates the signer has been closed.
	ErrSignerClosed = errors.New("relay: signer closed")
	// ErrBadSignRequest indicates the remote signer rejected the request.
	ErrBadSignRequest = errors.New("relay: remote signer rejected request")
)
