// Package quicengine defines the boundary to the underlying QUIC protocol
// engine. The engine performs the actual handshake, congestion control and
// stream multiplexing; this package only describes the operations the bridge
// issues against it and the event callbacks the engine delivers back.
//
// The engine invokes stream event handlers from its own goroutines,
// concurrently with application code. A handler receives an opaque context
// token registered at stream creation and an Event record, and returns a
// Status the engine inspects: StatusSuccess means the event was fully
// consumed, StatusPending means consumption continues asynchronously (for
// EventReceive, the engine must not deliver further data until
// ReceiveComplete and EnableReceive are called).
package quicengine
