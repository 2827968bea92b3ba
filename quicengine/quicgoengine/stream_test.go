package quicgoengine

import (
	"io"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-ito0810/quicbridge/quicengine"
)

// memRecv and memSend adapt an io.Pipe to the stream halves so the pumps
// can be exercised without a network.
type memRecv struct {
	r *io.PipeReader
}

func (m *memRecv) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *memRecv) CancelRead(code quic.StreamErrorCode) {
	m.r.CloseWithError(&quic.StreamError{ErrorCode: code})
}

type memSend struct {
	w *io.PipeWriter
}

func (m *memSend) Write(p []byte) (int, error) { return m.w.Write(p) }

func (m *memSend) Close() error { return m.w.Close() }

func (m *memSend) CancelWrite(code quic.StreamErrorCode) {
	m.w.CloseWithError(&quic.StreamError{ErrorCode: code})
}

type capturedEvent struct {
	kind      quicengine.EventKind
	status    quicengine.Status
	errorCode uint64
	data      []byte
}

// captureHandler copies event payloads (the pump reuses its buffer) and
// forwards them on a channel.
func captureHandler(events chan<- capturedEvent, receiveStatus quicengine.Status) quicengine.Handler {
	return func(_ uint64, ev *quicengine.Event) quicengine.Status {
		captured := capturedEvent{
			kind:      ev.Kind,
			status:    ev.Status,
			errorCode: ev.ErrorCode,
		}
		for _, buf := range ev.Buffers {
			captured.data = append(captured.data, buf...)
		}
		events <- captured
		if ev.Kind == quicengine.EventReceive {
			return receiveStatus
		}
		return quicengine.StatusSuccess
	}
}

func waitEvent(t *testing.T, events <-chan capturedEvent) capturedEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return capturedEvent{}
	}
}

func TestEngineStream_ReceiveThenPeerClose(t *testing.T) {
	pr, pw := io.Pipe()
	es := newEngineStream(1, quicengine.UnidirectionalReceive, nil, &memRecv{r: pr})

	events := make(chan capturedEvent, 16)
	es.Attach(captureHandler(events, quicengine.StatusSuccess), 7)

	go func() {
		pw.Write([]byte("abc"))
		pw.Close()
	}()

	ev := waitEvent(t, events)
	assert.Equal(t, quicengine.EventReceive, ev.kind)
	assert.Equal(t, []byte("abc"), ev.data)

	ev = waitEvent(t, events)
	assert.Equal(t, quicengine.EventPeerSendClose, ev.kind)

	// A receive-only stream has no send direction to report on; the
	// terminal event follows directly.
	ev = waitEvent(t, events)
	assert.Equal(t, quicengine.EventShutdownComplete, ev.kind)
}

func TestEngineStream_ReceivePendingGatesDelivery(t *testing.T) {
	pr, pw := io.Pipe()
	es := newEngineStream(1, quicengine.UnidirectionalReceive, nil, &memRecv{r: pr})

	events := make(chan capturedEvent, 16)
	es.Attach(captureHandler(events, quicengine.StatusPending), 7)

	go pw.Write([]byte("first"))

	ev := waitEvent(t, events)
	require.Equal(t, quicengine.EventReceive, ev.kind)

	go pw.Write([]byte("second"))

	// The handler reported pending consumption; nothing more may be
	// delivered until the receive path is re-enabled.
	select {
	case ev := <-events:
		t.Fatalf("event %s delivered while receive was paused", ev.kind)
	case <-time.After(50 * time.Millisecond):
	}

	es.ReceiveComplete(5)
	es.EnableReceive(true)

	ev = waitEvent(t, events)
	assert.Equal(t, quicengine.EventReceive, ev.kind)
	assert.Equal(t, []byte("second"), ev.data)
}

func TestEngineStream_PeerSendAbort(t *testing.T) {
	pr, pw := io.Pipe()
	es := newEngineStream(1, quicengine.UnidirectionalReceive, nil, &memRecv{r: pr})

	events := make(chan capturedEvent, 16)
	es.Attach(captureHandler(events, quicengine.StatusSuccess), 7)

	pw.CloseWithError(&quic.StreamError{ErrorCode: 9, Remote: true})

	ev := waitEvent(t, events)
	assert.Equal(t, quicengine.EventPeerSendAbort, ev.kind)
	assert.Equal(t, uint64(9), ev.errorCode)

	ev = waitEvent(t, events)
	assert.Equal(t, quicengine.EventShutdownComplete, ev.kind)
}

func TestEngineStream_SendCompletesAsynchronously(t *testing.T) {
	pr, pw := io.Pipe()
	es := newEngineStream(3, quicengine.UnidirectionalSend, &memSend{w: pw}, nil)

	events := make(chan capturedEvent, 16)
	es.Attach(captureHandler(events, quicengine.StatusSuccess), 7)

	received := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(pr)
		received <- data
	}()

	status := es.Send([][]byte{[]byte("he"), []byte("llo")}, quicengine.SendFlagNone)
	require.True(t, status.Succeeded())

	ev := waitEvent(t, events)
	assert.Equal(t, quicengine.EventSendComplete, ev.kind)
	assert.Equal(t, quicengine.StatusSuccess, ev.status)

	require.NoError(t, es.Shutdown(quicengine.ShutdownGraceful, 0))

	ev = waitEvent(t, events)
	assert.Equal(t, quicengine.EventSendShutdownComplete, ev.kind)
	ev = waitEvent(t, events)
	assert.Equal(t, quicengine.EventShutdownComplete, ev.kind)

	select {
	case data := <-received:
		assert.Equal(t, []byte("hello"), data)
	case <-time.After(time.Second):
		t.Fatal("scatter send never reached the wire")
	}
}

func TestEngineStream_PeerRecvAbortSurfacesBeforeSendComplete(t *testing.T) {
	pr, pw := io.Pipe()
	es := newEngineStream(3, quicengine.UnidirectionalSend, &memSend{w: pw}, nil)

	events := make(chan capturedEvent, 16)
	es.Attach(captureHandler(events, quicengine.StatusSuccess), 7)

	// The peer stopped reading: writes fail with a remote stream error.
	pr.CloseWithError(&quic.StreamError{ErrorCode: 5, Remote: true})

	status := es.Send([][]byte{[]byte("lost")}, quicengine.SendFlagNone)
	require.True(t, status.Succeeded())

	ev := waitEvent(t, events)
	assert.Equal(t, quicengine.EventPeerRecvAbort, ev.kind)
	assert.Equal(t, uint64(5), ev.errorCode)

	ev = waitEvent(t, events)
	assert.Equal(t, quicengine.EventSendComplete, ev.kind)
	assert.Equal(t, quicengine.StatusAborted, ev.status)
}

func TestEngineStream_CloseIsIdempotent(t *testing.T) {
	pr, pw := io.Pipe()
	es := newEngineStream(1, quicengine.Bidirectional, &memSend{w: pw}, &memRecv{r: pr})

	events := make(chan capturedEvent, 16)
	es.Attach(captureHandler(events, quicengine.StatusSuccess), 7)

	require.NoError(t, es.Close())
	require.NoError(t, es.Close())

	assert.Equal(t, quicengine.StatusInvalidState, es.Send([][]byte{[]byte("x")}, quicengine.SendFlagNone))
	assert.Equal(t, quicengine.StatusInvalidState, es.Start())
}
