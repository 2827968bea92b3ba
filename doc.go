// Package quicbridge exposes the streams of a callback-driven QUIC engine
// as backpressured duplex byte streams.
//
// The engine (see package quicengine) multiplexes streams over one
// connection and delivers events from its own goroutines. quicbridge owns
// the per-stream state machine bridging those events onto a pair of
// bounded byte pipes: application writes drain through a send loop into
// engine send calls, and engine receive events land in an inbound pipe the
// application reads from. Flow control is honored in both directions: at
// most one engine send is in flight per stream, and receive delivery is
// not re-enabled until the inbound pipe has absorbed the previous payload.
//
// A Transport bootstraps the engine registration and session exactly once
// and opens outbound connections:
//
//	transport := &quicbridge.Transport{
//		TLSConfig: tlsConf,
//	}
//	conn, err := transport.Connect(ctx, raddr)
//	if err != nil {
//		// ...
//	}
//	stream, err := conn.OpenStream(ctx, quicengine.Bidirectional)
package quicbridge
