package quicengine

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Direction fixes a stream's orientation at creation time, seen from the
// local endpoint.
type Direction uint8

const (
	// Bidirectional streams carry data both ways.
	Bidirectional Direction = iota

	// UnidirectionalSend streams are locally opened and carry data to the
	// peer only.
	UnidirectionalSend

	// UnidirectionalReceive streams are peer-opened and carry data from
	// the peer only.
	UnidirectionalReceive
)

func (d Direction) String() string {
	switch d {
	case Bidirectional:
		return "bidirectional"
	case UnidirectionalSend:
		return "unidirectional-send"
	case UnidirectionalReceive:
		return "unidirectional-receive"
	default:
		return "unknown"
	}
}

// SendFlags modify a Send call.
type SendFlags uint8

const (
	SendFlagNone SendFlags = 0

	// SendFlagFin marks the payload as the final data of the send
	// direction, closing it gracefully once delivered.
	SendFlagFin SendFlags = 1 << 0
)

// ShutdownFlags select how a stream shuts down.
type ShutdownFlags uint8

const (
	// ShutdownGraceful lets in-flight data drain before the send
	// direction closes.
	ShutdownGraceful ShutdownFlags = 1 << 0

	// ShutdownAbortSend discards queued outbound data and resets the send
	// direction with an error code.
	ShutdownAbortSend ShutdownFlags = 1 << 1

	// ShutdownAbortReceive stops reading and signals the peer to stop
	// sending, with an error code.
	ShutdownAbortReceive ShutdownFlags = 1 << 2

	// ShutdownAbort tears down both directions immediately.
	ShutdownAbort = ShutdownAbortSend | ShutdownAbortReceive
)

// Engine is the entry point into a QUIC protocol engine implementation.
type Engine interface {
	// OpenRegistration creates the engine-wide execution context under
	// which sessions and connections run.
	OpenRegistration(name string) (Registration, error)
}

// Registration is the engine-wide handle created once per process.
type Registration interface {
	// OpenSession creates a session carrying the application protocol
	// list and the TLS material connections under it will use.
	OpenSession(alpn []string, tlsConf *tls.Config) (Session, error)

	// Close releases the registration. Sessions and connections opened
	// under it must be closed first.
	Close() error
}

// Session holds negotiated parameters shared by all connections opened
// under it. Parameters may only be set before the first OpenConnection or
// Listen call; afterwards the session is immutable.
type Session interface {
	// SetIdleTimeout configures the connection idle timeout.
	SetIdleTimeout(d time.Duration) error

	// SetPeerStreamLimits configures how many concurrent peer-initiated
	// bidirectional and unidirectional streams a connection accepts.
	SetPeerStreamLimits(bidi, uni int64) error

	// OpenConnection dials the remote endpoint and returns the engine
	// connection once the handshake completes.
	OpenConnection(ctx context.Context, endpoint net.Addr) (Connection, error)

	// Listen binds the local endpoint and accepts inbound connections.
	Listen(endpoint net.Addr) (Listener, error)

	// Close releases the session.
	Close() error
}

// Listener accepts inbound engine connections.
type Listener interface {
	// Accept blocks until the next inbound connection completes its
	// handshake.
	Accept(ctx context.Context) (Connection, error)

	// Addr returns the bound local address.
	Addr() net.Addr

	// Close stops accepting and releases the listener.
	Close() error
}

// Connection is one peer association inside the engine.
type Connection interface {
	// ID returns the engine-assigned connection identifier.
	ID() string

	// OpenStream allocates a locally initiated stream. The returned
	// stream is not started and delivers no events until Attach is
	// called.
	OpenStream(ctx context.Context, dir Direction) (Stream, error)

	// AcceptStream blocks until the peer initiates a stream. The
	// returned stream delivers no events until Attach is called.
	AcceptStream(ctx context.Context) (Stream, Direction, error)

	// Close tears down the connection and every stream under it.
	Close() error
}

// Stream is the engine-side handle of one multiplexed stream. All
// operations complete asynchronously through the attached Handler unless
// they fail synchronously, in which case no event follows for that call.
type Stream interface {
	// StreamID returns the engine-assigned stream identifier.
	StreamID() int64

	// Attach registers the event handler and its context token and begins
	// event delivery. It must be called exactly once, before Start.
	Attach(handler Handler, token uint64)

	// Start initiates the stream handshake. Completion is reported via
	// EventStartComplete; a failure status means no event will follow.
	Start() Status

	// Send submits the byte segments as one scatter write. The segments
	// remain owned by the engine until EventSendComplete fires; a failure
	// status means no event will follow. At most one send may be in
	// flight per stream.
	Send(bufs [][]byte, flags SendFlags) Status

	// Shutdown terminates the stream per flags; errorCode is used for
	// abortive shutdowns.
	Shutdown(flags ShutdownFlags, errorCode uint64) error

	// ReceiveComplete acknowledges n bytes of a pending EventReceive as
	// consumed.
	ReceiveComplete(n int64)

	// EnableReceive resumes (or pauses) delivery of EventReceive events.
	EnableReceive(enabled bool)

	// Close releases the engine handle. It must be called exactly once,
	// after EventShutdownComplete or when abandoning the stream.
	Close() error
}
