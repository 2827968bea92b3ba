package quicbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEndpoint is returned when Connect or Listen is given
	// an endpoint that is not a UDP address.
	ErrUnsupportedEndpoint = errors.New("quicbridge: unsupported endpoint")

	// ErrNotSupported is returned when an unsupported capability
	// operation is invoked.
	ErrNotSupported = errors.New("quicbridge: not supported")

	// ErrStreamClosed is returned when attempting to use a closed stream.
	ErrStreamClosed = errors.New("quicbridge: stream closed")

	// ErrConnClosed is returned when attempting to use a closed
	// connection.
	ErrConnClosed = errors.New("quicbridge: connection closed")

	// ErrTransportClosed is returned when connecting or listening on a
	// closed transport.
	ErrTransportClosed = errors.New("quicbridge: transport closed")

	// ErrStreamStarted is returned when Start is called more than once.
	ErrStreamStarted = errors.New("quicbridge: stream already started")

	// ErrUnidirectionalStream is returned when reading or writing the
	// absent direction of a unidirectional stream.
	ErrUnidirectionalStream = errors.New("quicbridge: unidirectional stream")

	// errCompletionConflict reports a second operation issued while one
	// is still pending on the same completion slot.
	errCompletionConflict = errors.New("quicbridge: completion already pending")
)

// AbortErrorCode is the application error code used for locally triggered
// abortive shutdowns.
const AbortErrorCode uint64 = 0

// StreamAbortedError is the cancellation cause of a stream's closed signal
// when the stream terminated abortively. Remote distinguishes peer aborts
// from local ones.
type StreamAbortedError struct {
	Code   uint64
	Remote bool
}

func (e *StreamAbortedError) Error() string {
	if e.Remote {
		return fmt.Sprintf("quicbridge: stream aborted by peer (code %d)", e.Code)
	}
	return fmt.Sprintf("quicbridge: stream aborted (code %d)", e.Code)
}
