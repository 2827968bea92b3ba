package quicbridge

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-ito0810/quicbridge/quicengine"
)

// fakeEngine records bootstrap activity and hands out fake connections
// whose streams the tests drive by delivering events directly, playing
// the role of the engine's callback goroutines.
type fakeEngine struct {
	mu            sync.Mutex
	registrations int
	sessions      int
	sessionClosed int
	regName       string
	alpn          []string
	idleTimeout   time.Duration
	maxBidi       int64
	maxUni        int64
}

var _ quicengine.Engine = (*fakeEngine)(nil)

func (e *fakeEngine) OpenRegistration(name string) (quicengine.Registration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registrations++
	e.regName = name
	return &fakeRegistration{engine: e}, nil
}

func (e *fakeEngine) counts() (registrations, sessions int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registrations, e.sessions
}

func (e *fakeEngine) sessionCloses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionClosed
}

type fakeRegistration struct {
	engine *fakeEngine
}

func (r *fakeRegistration) OpenSession(alpn []string, _ *tls.Config) (quicengine.Session, error) {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	r.engine.sessions++
	r.engine.alpn = alpn
	return &fakeSession{engine: r.engine}, nil
}

func (r *fakeRegistration) Close() error { return nil }

type fakeSession struct {
	engine *fakeEngine
}

func (s *fakeSession) SetIdleTimeout(d time.Duration) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.idleTimeout = d
	return nil
}

func (s *fakeSession) SetPeerStreamLimits(bidi, uni int64) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.maxBidi = bidi
	s.engine.maxUni = uni
	return nil
}

func (s *fakeSession) OpenConnection(context.Context, net.Addr) (quicengine.Connection, error) {
	return newFakeConn(), nil
}

func (s *fakeSession) Listen(net.Addr) (quicengine.Listener, error) {
	return nil, ErrNotSupported
}

func (s *fakeSession) Close() error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.sessionClosed++
	return nil
}

type fakeConn struct {
	nextID   atomic.Int64
	acceptCh chan *fakeEngineStream
	closed   atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		acceptCh: make(chan *fakeEngineStream, 8),
	}
}

func (c *fakeConn) ID() string { return "fake-conn" }

func (c *fakeConn) OpenStream(_ context.Context, dir quicengine.Direction) (quicengine.Stream, error) {
	return newFakeEngineStream(c.nextID.Add(1), dir), nil
}

func (c *fakeConn) AcceptStream(ctx context.Context) (quicengine.Stream, quicengine.Direction, error) {
	select {
	case es := <-c.acceptCh:
		return es, es.dir, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type sendCall struct {
	data  []byte
	flags quicengine.SendFlags
}

type shutdownCall struct {
	flags quicengine.ShutdownFlags
	code  uint64
}

// fakeEngineStream records every operation the bridge issues. By default
// Start and Send auto-complete successfully from a separate goroutine,
// mimicking the engine's callback thread.
type fakeEngineStream struct {
	id  int64
	dir quicengine.Direction

	mu      sync.Mutex
	handler quicengine.Handler
	token   uint64

	startStatus      quicengine.Status
	sendStatus       quicengine.Status
	autoCompleteSend bool

	sendCh         chan sendCall
	shutdownCh     chan shutdownCall
	recvCompleteCh chan int64
	enableCh       chan bool

	closeCalls atomic.Int32
}

var _ quicengine.Stream = (*fakeEngineStream)(nil)

func newFakeEngineStream(id int64, dir quicengine.Direction) *fakeEngineStream {
	return &fakeEngineStream{
		id:               id,
		dir:              dir,
		startStatus:      quicengine.StatusPending,
		sendStatus:       quicengine.StatusPending,
		autoCompleteSend: true,
		sendCh:           make(chan sendCall, 16),
		shutdownCh:       make(chan shutdownCall, 16),
		recvCompleteCh:   make(chan int64, 16),
		enableCh:         make(chan bool, 16),
	}
}

func (s *fakeEngineStream) StreamID() int64 { return s.id }

func (s *fakeEngineStream) Attach(handler quicengine.Handler, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	s.token = token
}

func (s *fakeEngineStream) Start() quicengine.Status {
	if s.startStatus.Failed() {
		return s.startStatus
	}
	go s.deliver(&quicengine.Event{
		Kind:   quicengine.EventStartComplete,
		Status: quicengine.StatusSuccess,
	})
	return s.startStatus
}

func (s *fakeEngineStream) Send(bufs [][]byte, flags quicengine.SendFlags) quicengine.Status {
	if s.sendStatus.Failed() {
		return s.sendStatus
	}

	var data []byte
	for _, buf := range bufs {
		data = append(data, buf...)
	}
	s.sendCh <- sendCall{data: data, flags: flags}

	if s.autoCompleteSend {
		go s.deliver(&quicengine.Event{
			Kind:   quicengine.EventSendComplete,
			Status: quicengine.StatusSuccess,
		})
	}
	return s.sendStatus
}

func (s *fakeEngineStream) Shutdown(flags quicengine.ShutdownFlags, code uint64) error {
	s.shutdownCh <- shutdownCall{flags: flags, code: code}
	return nil
}

func (s *fakeEngineStream) ReceiveComplete(n int64) {
	s.recvCompleteCh <- n
}

func (s *fakeEngineStream) EnableReceive(enabled bool) {
	s.enableCh <- enabled
}

func (s *fakeEngineStream) Close() error {
	s.closeCalls.Add(1)
	return nil
}

// deliver invokes the attached handler the way the engine's callback
// goroutine would.
func (s *fakeEngineStream) deliver(ev *quicengine.Event) quicengine.Status {
	s.mu.Lock()
	handler, token := s.handler, s.token
	s.mu.Unlock()
	if handler == nil {
		return quicengine.StatusInvalidState
	}
	return handler(token, ev)
}

// test helpers

func testEndpoint() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
}

// openStartedStream builds a transport on a fake engine and returns an
// open bidirectional stream together with its fake engine stream.
func openStartedStream(t *testing.T, cfg *Config) (*Stream, *fakeEngineStream) {
	t.Helper()

	transport := &Transport{Engine: &fakeEngine{}, Config: cfg}
	conn, err := transport.Connect(context.Background(), testEndpoint())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	stream, err := conn.OpenStream(context.Background(), quicengine.Bidirectional)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	return stream, stream.es.(*fakeEngineStream)
}

func waitSend(t *testing.T, es *fakeEngineStream) sendCall {
	t.Helper()
	select {
	case call := <-es.sendCh:
		return call
	case <-time.After(time.Second):
		t.Fatal("no send call observed")
		return sendCall{}
	}
}

func waitShutdown(t *testing.T, es *fakeEngineStream) shutdownCall {
	t.Helper()
	select {
	case call := <-es.shutdownCh:
		return call
	case <-time.After(time.Second):
		t.Fatal("no shutdown call observed")
		return shutdownCall{}
	}
}
