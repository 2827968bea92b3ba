package quicgoengine

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/m-ito0810/quicbridge/quicengine"
)

// receiveBufferSize bounds one receive event's payload.
const receiveBufferSize = 32 << 10

// sendHalf and recvHalf are the slices of the quic-go stream types each
// direction needs; *quic.Stream satisfies both.
type sendHalf interface {
	io.WriteCloser
	CancelWrite(quic.StreamErrorCode)
}

type recvHalf interface {
	io.Reader
	CancelRead(quic.StreamErrorCode)
}

type engineStream struct {
	id   int64
	dir  quicengine.Direction
	send sendHalf // nil on receive-only streams
	recv recvHalf // nil on send-only streams

	mu      sync.Mutex
	handler quicengine.Handler
	token   uint64
	enabled bool

	enableCh chan struct{} // signaled by EnableReceive(true)
	stop     chan struct{}
	stopOnce sync.Once

	sendDone chan struct{}
	sendOnce sync.Once
	recvDone chan struct{}
	recvOnce sync.Once

	acked  atomic.Int64
	closed atomic.Bool
}

var _ quicengine.Stream = (*engineStream)(nil)

func newEngineStream(id int64, dir quicengine.Direction, send sendHalf, recv recvHalf) *engineStream {
	s := &engineStream{
		id:       id,
		dir:      dir,
		send:     send,
		recv:     recv,
		enabled:  true,
		enableCh: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
	if send == nil {
		s.finishSend()
	}
	if recv == nil {
		s.finishRecv()
	}
	return s
}

func (s *engineStream) StreamID() int64 {
	return s.id
}

func (s *engineStream) Attach(handler quicengine.Handler, token uint64) {
	s.mu.Lock()
	s.handler = handler
	s.token = token
	s.mu.Unlock()

	if s.recv != nil {
		go s.receivePump()
	}
	go s.shutdownWatcher()
}

func (s *engineStream) Start() quicengine.Status {
	s.mu.Lock()
	attached := s.handler != nil
	s.mu.Unlock()

	if !attached || s.closed.Load() {
		return quicengine.StatusInvalidState
	}

	// quic-go streams are live as soon as they are opened; report the
	// start complete from an engine goroutine like a real handshake
	// would.
	go s.dispatch(&quicengine.Event{
		Kind:   quicengine.EventStartComplete,
		Status: quicengine.StatusSuccess,
	})
	return quicengine.StatusPending
}

func (s *engineStream) Send(bufs [][]byte, flags quicengine.SendFlags) quicengine.Status {
	if s.send == nil {
		return quicengine.StatusInvalidState
	}
	if s.closed.Load() {
		return quicengine.StatusInvalidState
	}

	// The caller guarantees a single in-flight send, so one goroutine
	// per call preserves write ordering.
	go func() {
		status := quicengine.StatusSuccess
		finished := false
		for _, buf := range bufs {
			if _, err := s.send.Write(buf); err != nil {
				status = s.sendError(err)
				finished = true
				break
			}
		}
		if status == quicengine.StatusSuccess && flags&quicengine.SendFlagFin != 0 {
			s.send.Close()
			finished = true
		}
		s.dispatch(&quicengine.Event{
			Kind:   quicengine.EventSendComplete,
			Status: status,
		})
		// Finishing the direction after the completion event keeps the
		// send-shutdown notification behind it.
		if finished {
			s.finishSend()
		}
	}()
	return quicengine.StatusPending
}

// sendError maps a write failure to a completion status, surfacing a peer
// receive-abort as its own event first.
func (s *engineStream) sendError(err error) quicengine.Status {
	var streamErr *quic.StreamError
	if errors.As(err, &streamErr) && streamErr.Remote {
		s.dispatch(&quicengine.Event{
			Kind:      quicengine.EventPeerRecvAbort,
			ErrorCode: uint64(streamErr.ErrorCode),
		})
		return quicengine.StatusAborted
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) || errors.Is(err, io.ErrClosedPipe) {
		return quicengine.StatusConnectionClosed
	}
	return quicengine.StatusInternalError
}

func (s *engineStream) Shutdown(flags quicengine.ShutdownFlags, errorCode uint64) error {
	if s.closed.Load() {
		return nil
	}

	if flags&quicengine.ShutdownGraceful != 0 && s.send != nil {
		if err := s.send.Close(); err != nil {
			return err
		}
		s.finishSend()
	}
	if flags&quicengine.ShutdownAbortSend != 0 && s.send != nil {
		s.send.CancelWrite(quic.StreamErrorCode(errorCode))
		s.finishSend()
	}
	if flags&quicengine.ShutdownAbortReceive != 0 && s.recv != nil {
		s.recv.CancelRead(quic.StreamErrorCode(errorCode))
		s.stopOnce.Do(func() { close(s.stop) })
	}
	return nil
}

func (s *engineStream) ReceiveComplete(n int64) {
	s.acked.Add(n)
}

func (s *engineStream) EnableReceive(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()

	if enabled {
		select {
		case s.enableCh <- struct{}{}:
		default:
		}
	}
}

func (s *engineStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.stopOnce.Do(func() { close(s.stop) })
	if s.send != nil {
		s.send.CancelWrite(0)
		s.finishSend()
	}
	if s.recv != nil {
		s.recv.CancelRead(0)
	}
	return nil
}

// receivePump reads from the quic-go stream and delivers receive events,
// pausing whenever the handler reports pending consumption.
func (s *engineStream) receivePump() {
	defer s.finishRecv()

	buf := make([]byte, receiveBufferSize)
	for {
		s.mu.Lock()
		enabled := s.enabled
		s.mu.Unlock()
		if !enabled {
			select {
			case <-s.enableCh:
			case <-s.stop:
				return
			}
		}

		n, err := s.recv.Read(buf)
		if n > 0 {
			status := s.dispatch(&quicengine.Event{
				Kind:      quicengine.EventReceive,
				Buffers:   [][]byte{buf[:n]},
				ByteCount: int64(n),
			})
			switch status {
			case quicengine.StatusSuccess:
			case quicengine.StatusPending:
				// The consumer re-enables us once its pipe drained.
				select {
				case <-s.enableCh:
				case <-s.stop:
					return
				}
			default:
				return
			}
		}
		if err != nil {
			var streamErr *quic.StreamError
			switch {
			case errors.Is(err, io.EOF):
				s.dispatch(&quicengine.Event{Kind: quicengine.EventPeerSendClose})
			case errors.As(err, &streamErr) && streamErr.Remote:
				s.dispatch(&quicengine.Event{
					Kind:      quicengine.EventPeerSendAbort,
					ErrorCode: uint64(streamErr.ErrorCode),
				})
			}
			return
		}
	}
}

// shutdownWatcher emits the terminal lifecycle events once each direction
// finishes.
func (s *engineStream) shutdownWatcher() {
	<-s.sendDone
	if s.send != nil {
		s.dispatch(&quicengine.Event{Kind: quicengine.EventSendShutdownComplete})
	}
	<-s.recvDone
	s.dispatch(&quicengine.Event{Kind: quicengine.EventShutdownComplete})
}

func (s *engineStream) dispatch(ev *quicengine.Event) quicengine.Status {
	s.mu.Lock()
	handler, token := s.handler, s.token
	s.mu.Unlock()

	if handler == nil {
		return quicengine.StatusInvalidState
	}
	return handler(token, ev)
}

func (s *engineStream) finishSend() {
	s.sendOnce.Do(func() { close(s.sendDone) })
}

func (s *engineStream) finishRecv() {
	s.recvOnce.Do(func() { close(s.recvDone) })
}
