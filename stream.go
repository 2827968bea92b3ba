package quicbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/m-ito0810/quicbridge/duplex"
	"github.com/m-ito0810/quicbridge/quicengine"
)

// StreamState is a stream's lifecycle position. States are ordered;
// transitions only move forward.
type StreamState int32

const (
	StreamStateCreated StreamState = iota
	StreamStateStarting
	StreamStateOpen
	StreamStatePeerSendClosed
	StreamStateLocalShuttingDown
	StreamStateShutdownComplete
	StreamStateClosed
)

var streamStateTexts = map[StreamState]string{
	StreamStateCreated:           "created",
	StreamStateStarting:          "starting",
	StreamStateOpen:              "open",
	StreamStatePeerSendClosed:    "peer-send-closed",
	StreamStateLocalShuttingDown: "local-shutting-down",
	StreamStateShutdownComplete:  "shutdown-complete",
	StreamStateClosed:            "closed",
}

func (s StreamState) String() string {
	if text, ok := streamStateTexts[s]; ok {
		return text
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stream is one engine stream exposed as a backpressured duplex byte
// stream. Reads and writes suspend on the stream's bounded pipes; the
// engine side is driven by a send loop and by the engine's event
// callbacks.
type Stream struct {
	conn   *Conn
	es     quicengine.Stream
	dir    quicengine.Direction
	token  uint64
	logger *slog.Logger

	inbound  *duplex.Pipe // engine -> application; nil on send-only streams
	outbound *duplex.Pipe // application -> engine; nil on receive-only streams

	// slot serializes the one in-flight start or send operation.
	slot *completionSlot

	state atomic.Int32

	// ctx is the stream's closed signal, canceled with a cause on local
	// or peer abort and on disposal.
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu              sync.Mutex
	peerSendAborted bool
	peerRecvAborted bool
	aborted         bool

	closed      atomic.Bool
	writeClosed atomic.Bool

	// abortCode is the error code a local Abort requested. The send loop
	// reads it when it observes the canceled outbound read; internal
	// cancellations leave it at AbortErrorCode.
	abortCode atomic.Uint64

	caps []Capability
}

func newStream(conn *Conn, es quicengine.Stream, dir quicengine.Direction) *Stream {
	cfg := conn.transport.config()
	ctx, cancel := context.WithCancelCause(context.Background())

	s := &Stream{
		conn:   conn,
		es:     es,
		dir:    dir,
		slot:   newCompletionSlot(),
		ctx:    ctx,
		cancel: cancel,
		caps: []Capability{
			StreamDirectionCapability{Unidirectional: dir != quicengine.Bidirectional},
			TLSIdentityCapability{},
		},
	}
	if dir != quicengine.UnidirectionalSend {
		s.inbound = duplex.New(cfg.pipePauseThreshold(), cfg.pipeResumeThreshold())
	}
	if dir != quicengine.UnidirectionalReceive {
		s.outbound = duplex.New(cfg.pipePauseThreshold(), cfg.pipeResumeThreshold())
	}
	s.logger = conn.logger.With("stream", es.StreamID())
	return s
}

// ID returns the composite stream identifier, connection ID plus stream
// ID.
func (s *Stream) ID() string {
	return s.conn.ID() + "/" + strconv.FormatInt(s.es.StreamID(), 10)
}

// StreamID returns the engine-assigned stream identifier.
func (s *Stream) StreamID() int64 {
	return s.es.StreamID()
}

// Direction returns the stream's orientation, fixed at creation.
func (s *Stream) Direction() quicengine.Direction {
	return s.dir
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// Context is the stream's closed signal. It is canceled when the stream
// aborts locally, when the peer aborts either direction, or when the
// stream is disposed; the cancellation cause carries the reason.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Capability returns the stream capability of the given kind, if attached.
func (s *Stream) Capability(kind CapabilityKind) (Capability, bool) {
	for _, c := range s.caps {
		if c.CapabilityKind() == kind {
			return c, true
		}
	}
	return nil, false
}

// Unidirectional reports whether the stream carries data in one direction
// only.
func (s *Stream) Unidirectional() bool {
	return s.dir != quicengine.Bidirectional
}

// Start initiates the engine-side stream handshake and suspends until it
// completes. Opening and starting are separate steps so the caller
// controls when the handshake begins.
func (s *Stream) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StreamStateCreated), int32(StreamStateStarting)) {
		return ErrStreamStarted
	}

	if err := s.slot.Arm(); err != nil {
		return err
	}
	if status := s.es.Start(); status.Failed() {
		// Synchronous failure: no completion event will follow.
		s.slot.Disarm()
		s.state.Store(int32(StreamStateCreated))
		return fmt.Errorf("quicbridge: stream start: %w", status.Err())
	}

	status, err := s.slot.Await(ctx)
	if err != nil {
		return err
	}
	if status.Failed() {
		return fmt.Errorf("quicbridge: stream start: %w", status.Err())
	}

	s.open()
	return nil
}

// open marks the stream live and spins up the send loop. Used after a
// successful Start and for accepted streams, which the peer already
// started.
func (s *Stream) open() {
	s.state.Store(int32(StreamStateOpen))
	if s.outbound != nil {
		go s.sendLoop()
	}
}

// Read reads inbound bytes, suspending until data arrives. It returns
// io.EOF once the peer finished sending and all delivered bytes have been
// consumed.
func (s *Stream) Read(p []byte) (int, error) {
	if s.inbound == nil {
		return 0, ErrUnidirectionalStream
	}

	for {
		result, err := s.inbound.Read(s.ctx)
		if err != nil {
			return 0, context.Cause(s.ctx)
		}
		if result.Len() > 0 {
			n := 0
			for _, seg := range result.Segments {
				n += copy(p[n:], seg)
				if n == len(p) {
					break
				}
			}
			s.inbound.Advance(n)
			return n, nil
		}
		if result.Completed {
			return 0, io.EOF
		}
		// Canceled or spurious wakeups: try again.
	}
}

// Write stages p into the outbound pipe and flushes, suspending while the
// pipe is above its pause threshold. The send loop drains the pipe into
// the engine.
func (s *Stream) Write(p []byte) (int, error) {
	if s.outbound == nil {
		return 0, ErrUnidirectionalStream
	}
	if s.writeClosed.Load() {
		return 0, ErrStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		return 0, context.Cause(s.ctx)
	}

	region := s.outbound.GetWriteRegion(len(p))
	copy(region, p)
	s.outbound.AdvanceWriter(len(p))

	flushed, done := s.outbound.Flush()
	if !flushed {
		select {
		case <-done:
		case <-s.ctx.Done():
			return 0, context.Cause(s.ctx)
		}
	}
	return len(p), nil
}

// CloseWrite completes the outbound pipe; later writes fail with
// ErrStreamClosed. The send loop drains any remaining bytes and then
// shuts the send direction down gracefully.
func (s *Stream) CloseWrite() error {
	if s.outbound == nil {
		return ErrUnidirectionalStream
	}
	if s.writeClosed.CompareAndSwap(false, true) {
		s.outbound.Complete()
	}
	return nil
}

// Abort terminates the stream immediately with the given error code,
// discarding unsent data.
func (s *Stream) Abort(code uint64) {
	if s.outbound != nil {
		// The send loop observes the canceled read and issues the
		// abortive shutdown with the requested code.
		s.abortCode.Store(code)
		s.outbound.CancelRead()
		return
	}
	s.shutdown(quicengine.ShutdownAbort, code)
}

// Close disposes the stream. It is idempotent: racing a local close
// against the engine's shutdown-complete event releases resources exactly
// once.
func (s *Stream) Close() error {
	s.release(ErrStreamClosed)
	return nil
}

// sendLoop is the only writer into the engine send path. It drains the
// outbound pipe one peek at a time: the peeked segments stay owned by the
// in-flight send until its completion event fires, and only then is the
// pipe advanced past them.
func (s *Stream) sendLoop() {
	for {
		result, err := s.outbound.Read(s.ctx)
		if err != nil {
			s.shutdown(quicengine.ShutdownAbort, s.abortCode.Load())
			return
		}
		if result.Canceled {
			s.shutdown(quicengine.ShutdownAbort, s.abortCode.Load())
			return
		}
		if n := result.Len(); n > 0 {
			if err := s.sendSegments(result.Segments, n); err != nil {
				s.logger.Debug("send failed, aborting stream", "error", err)
				s.shutdown(quicengine.ShutdownAbort, AbortErrorCode)
				return
			}
		}
		if result.Completed {
			s.shutdown(quicengine.ShutdownGraceful, 0)
			return
		}
	}
}

func (s *Stream) sendSegments(segments [][]byte, n int) error {
	if err := s.slot.Arm(); err != nil {
		return err
	}
	if status := s.es.Send(segments, quicengine.SendFlagNone); status.Failed() {
		// Synchronous failure: no completion event will follow.
		s.slot.Disarm()
		return status.Err()
	}

	status, err := s.slot.Await(s.ctx)
	if err != nil {
		return err
	}
	if status.Failed() {
		return status.Err()
	}

	// Completion returns segment ownership; release the consumed region.
	s.outbound.Advance(n)
	return nil
}

// handleEvent is the single dispatch target for the engine's stream
// events. It runs on engine goroutines, concurrently with application
// reads and writes.
func (s *Stream) handleEvent(ev *quicengine.Event) quicengine.Status {
	switch ev.Kind {
	case quicengine.EventStartComplete, quicengine.EventSendComplete:
		s.slot.Complete(ev.Status)
		return quicengine.StatusSuccess

	case quicengine.EventReceive:
		return s.handleReceive(ev)

	case quicengine.EventPeerSendClose:
		s.state.CompareAndSwap(int32(StreamStateOpen), int32(StreamStatePeerSendClosed))
		if s.inbound != nil {
			s.inbound.Complete()
		}
		return quicengine.StatusSuccess

	case quicengine.EventPeerSendAbort:
		s.mu.Lock()
		s.peerSendAborted = true
		s.mu.Unlock()
		if s.inbound != nil {
			// Readers observe end-of-stream, not an error.
			s.inbound.Complete()
		}
		s.cancel(&StreamAbortedError{Code: ev.ErrorCode, Remote: true})
		return quicengine.StatusSuccess

	case quicengine.EventPeerRecvAbort:
		s.mu.Lock()
		s.peerRecvAborted = true
		s.mu.Unlock()
		s.cancel(&StreamAbortedError{Code: ev.ErrorCode, Remote: true})
		if s.outbound != nil {
			// The peer discards further data; stop the send loop.
			s.outbound.CancelRead()
		}
		return quicengine.StatusSuccess

	case quicengine.EventSendShutdownComplete:
		return quicengine.StatusSuccess

	case quicengine.EventShutdownComplete:
		s.state.Store(int32(StreamStateShutdownComplete))
		s.release(ErrStreamClosed)
		return quicengine.StatusSuccess

	default:
		s.logger.Debug("unhandled engine event", "kind", ev.Kind)
		return quicengine.StatusSuccess
	}
}

// handleReceive copies the engine's payload into the inbound pipe on the
// engine's callback goroutine. When the flush suspends, receive delivery
// stays disabled until the application drains the pipe; only then are the
// bytes acknowledged and delivery re-enabled.
func (s *Stream) handleReceive(ev *quicengine.Event) quicengine.Status {
	if s.inbound == nil || s.closed.Load() {
		return quicengine.StatusAborted
	}

	region := s.inbound.GetWriteRegion(int(ev.ByteCount))
	n := 0
	for _, buf := range ev.Buffers {
		n += copy(region[n:], buf)
	}
	s.inbound.AdvanceWriter(n)

	flushed, done := s.inbound.Flush()
	if flushed {
		s.es.ReceiveComplete(int64(n))
		return quicengine.StatusSuccess
	}

	go func() {
		select {
		case <-done:
		case <-s.ctx.Done():
			return
		}
		s.es.ReceiveComplete(int64(n))
		s.es.EnableReceive(true)
	}()
	return quicengine.StatusPending
}

// shutdown issues the engine shutdown once the send loop (or an abort
// request) decided how the stream ends.
func (s *Stream) shutdown(flags quicengine.ShutdownFlags, code uint64) {
	if flags&quicengine.ShutdownAbort != 0 {
		s.mu.Lock()
		s.aborted = true
		s.mu.Unlock()
		s.cancel(&StreamAbortedError{Code: code})
		if s.inbound != nil {
			// Leave readers with end-of-stream rather than a hang.
			s.inbound.Complete()
		}
	}

	s.transitionShuttingDown()

	if err := s.es.Shutdown(flags, code); err != nil {
		s.logger.Debug("engine shutdown failed", "error", err)
	}
}

func (s *Stream) transitionShuttingDown() {
	for {
		current := s.state.Load()
		if current >= int32(StreamStateShutdownComplete) {
			return
		}
		if s.state.CompareAndSwap(current, int32(StreamStateLocalShuttingDown)) {
			return
		}
	}
}

// release frees the engine handle and revokes the dispatch token exactly
// once, whether triggered by the application or by the engine's final
// shutdown event.
func (s *Stream) release(cause error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.cancel(cause)
	if s.inbound != nil {
		s.inbound.Complete()
	}
	if s.outbound != nil {
		s.outbound.CancelRead()
	}

	s.conn.removeStream(s)
	s.conn.transport.registry.deregister(s.token)

	if err := s.es.Close(); err != nil {
		s.logger.Debug("engine stream close failed", "error", err)
	}
	s.state.Store(int32(StreamStateClosed))
	s.logger.Debug("stream closed")
}
