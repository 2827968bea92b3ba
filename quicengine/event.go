package quicengine

import "fmt"

// EventKind discriminates the stream events an engine delivers.
type EventKind uint8

const (
	// EventStartComplete reports the outcome of a Start call.
	EventStartComplete EventKind = iota

	// EventReceive carries inbound data. Buffers holds the engine-owned
	// byte segments and ByteCount their total length; the segments are
	// only valid until the handler returns (or, when the handler returns
	// StatusPending, until ReceiveComplete is called).
	EventReceive

	// EventSendComplete reports the outcome of a Send call. Buffer
	// ownership returns to the caller when this event fires.
	EventSendComplete

	// EventPeerSendClose reports that the peer gracefully finished its
	// send direction; no further data will arrive.
	EventPeerSendClose

	// EventPeerSendAbort reports that the peer abortively terminated its
	// send direction with ErrorCode.
	EventPeerSendAbort

	// EventPeerRecvAbort reports that the peer abortively terminated its
	// receive direction with ErrorCode; data sent to it is discarded.
	EventPeerRecvAbort

	// EventSendShutdownComplete reports that the local send direction has
	// fully shut down.
	EventSendShutdownComplete

	// EventShutdownComplete reports that the stream is fully shut down in
	// both directions. It is the last event delivered for a stream.
	EventShutdownComplete
)

var eventKindTexts = map[EventKind]string{
	EventStartComplete:        "START_COMPLETE",
	EventReceive:              "RECEIVE",
	EventSendComplete:         "SEND_COMPLETE",
	EventPeerSendClose:        "PEER_SEND_CLOSE",
	EventPeerSendAbort:        "PEER_SEND_ABORT",
	EventPeerRecvAbort:        "PEER_RECV_ABORT",
	EventSendShutdownComplete: "SEND_SHUTDOWN_COMPLETE",
	EventShutdownComplete:     "SHUTDOWN_COMPLETE",
}

func (k EventKind) String() string {
	if text, ok := eventKindTexts[k]; ok {
		return text
	}
	return fmt.Sprintf("EVENT(%d)", uint8(k))
}

// Event is the record delivered to a stream's Handler. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// Status carries the completion code for EventStartComplete and
	// EventSendComplete.
	Status Status

	// ErrorCode carries the application error code for EventPeerSendAbort
	// and EventPeerRecvAbort.
	ErrorCode uint64

	// Buffers and ByteCount describe the payload of an EventReceive.
	Buffers   [][]byte
	ByteCount int64
}

// Handler consumes stream events. The engine calls it from its own
// goroutines; token is the opaque value registered via Stream.Attach.
type Handler func(token uint64, ev *Event) Status
