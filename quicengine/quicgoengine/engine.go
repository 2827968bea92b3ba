// Package quicgoengine implements the quicengine boundary on top of
// github.com/quic-go/quic-go.
//
// quic-go exposes a blocking stream API rather than a callback-driven
// one, so this backend runs a small pump per stream: a receive goroutine
// reads from the quic-go stream and delivers EventReceive to the attached
// handler, honoring the pending/resume contract, and send calls complete
// asynchronously through EventSendComplete. Streams are live as soon as
// quic-go opens them, so Start completes trivially.
package quicgoengine

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/m-ito0810/quicbridge/quicengine"
)

// ErrSessionStarted is returned when session parameters are modified
// after the first connection was opened.
var ErrSessionStarted = errors.New("quicgoengine: session already started")

// Engine is the quic-go backed protocol engine.
type Engine struct{}

var _ quicengine.Engine = (*Engine)(nil)

// New returns a quic-go backed engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) OpenRegistration(name string) (quicengine.Registration, error) {
	return &registration{name: name}, nil
}

type registration struct {
	name string
}

var _ quicengine.Registration = (*registration)(nil)

func (r *registration) OpenSession(alpn []string, tlsConf *tls.Config) (quicengine.Session, error) {
	if len(alpn) == 0 {
		return nil, errors.New("quicgoengine: empty ALPN list")
	}
	return &session{
		alpn:    alpn,
		tlsConf: tlsConf,
	}, nil
}

func (r *registration) Close() error {
	return nil
}

type session struct {
	alpn    []string
	tlsConf *tls.Config

	mu          sync.Mutex
	idleTimeout time.Duration
	maxBidi     int64
	maxUni      int64
	started     bool
}

var _ quicengine.Session = (*session)(nil)

func (s *session) SetIdleTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSessionStarted
	}
	s.idleTimeout = d
	return nil
}

func (s *session) SetPeerStreamLimits(bidi, uni int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSessionStarted
	}
	s.maxBidi = bidi
	s.maxUni = uni
	return nil
}

func (s *session) OpenConnection(ctx context.Context, endpoint net.Addr) (quicengine.Connection, error) {
	tlsConf, quicConf := s.configs()

	conn, err := quic.DialAddr(ctx, endpoint.String(), tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("quicgoengine: dial %s: %w", endpoint, err)
	}
	return newEngineConn(conn), nil
}

func (s *session) Listen(endpoint net.Addr) (quicengine.Listener, error) {
	tlsConf, quicConf := s.configs()

	ql, err := quic.ListenAddr(endpoint.String(), tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("quicgoengine: listen %s: %w", endpoint, err)
	}
	return &listener{ql: ql}, nil
}

func (s *session) Close() error {
	return nil
}

// configs freezes the session parameters into quic-go configuration.
func (s *session) configs() (*tls.Config, *quic.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = true

	tlsConf := s.tlsConf.Clone()
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = s.alpn
	}

	return tlsConf, &quic.Config{
		MaxIdleTimeout:        s.idleTimeout,
		MaxIncomingStreams:    s.maxBidi,
		MaxIncomingUniStreams: s.maxUni,
	}
}

type listener struct {
	ql *quic.Listener
}

var _ quicengine.Listener = (*listener)(nil)

func (l *listener) Accept(ctx context.Context) (quicengine.Connection, error) {
	conn, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return newEngineConn(conn), nil
}

func (l *listener) Addr() net.Addr {
	return l.ql.Addr()
}

func (l *listener) Close() error {
	return l.ql.Close()
}

func newConnID() string {
	var b [4]byte
	rand.Read(b[:])
	return "qc-" + hex.EncodeToString(b[:])
}
