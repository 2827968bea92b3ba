package quicbridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/m-ito0810/quicbridge/quicengine"
	"github.com/m-ito0810/quicbridge/quicengine/quicgoengine"
)

// Transport opens connections over a QUIC engine. The engine registration
// and session are bootstrapped lazily, exactly once, on the first Connect
// or Listen call; the session parameters come from Config and are
// immutable afterwards.
//
// The zero value is usable with a TLSConfig; the quic-go backed engine is
// used unless Engine is set.
type Transport struct {
	// Engine is the protocol engine to run on. Defaults to the quic-go
	// backend.
	Engine quicengine.Engine

	// TLSConfig supplies the TLS material for the session.
	TLSConfig *tls.Config

	// Config carries session parameters and per-stream pipe thresholds.
	Config *Config

	// Logger receives transport events. Defaults to a discarding logger.
	Logger *slog.Logger

	initOnce sync.Once
	registry *streamRegistry

	bootOnce sync.Once
	bootErr  error

	// bootMu guards the handles, which Close may read concurrently with
	// the first bootstrap writing them.
	bootMu       sync.Mutex
	registration quicengine.Registration
	session      quicengine.Session
}

func (t *Transport) init() {
	t.initOnce.Do(func() {
		t.registry = newStreamRegistry()
	})
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (t *Transport) config() *Config {
	return t.Config
}

func (t *Transport) engine() quicengine.Engine {
	if t.Engine != nil {
		return t.Engine
	}
	return quicgoengine.New()
}

// bootstrap creates the registration and session exactly once. Concurrent
// first uses serialize here; every caller observes the same outcome.
func (t *Transport) bootstrap() error {
	t.bootOnce.Do(func() {
		cfg := t.config()

		registration, err := t.engine().OpenRegistration(cfg.registrationName())
		if err != nil {
			t.bootErr = fmt.Errorf("quicbridge: open registration: %w", err)
			return
		}

		session, err := registration.OpenSession(cfg.alpn(), t.TLSConfig)
		if err != nil {
			registration.Close()
			t.bootErr = fmt.Errorf("quicbridge: open session: %w", err)
			return
		}
		if err := session.SetIdleTimeout(cfg.idleTimeout()); err != nil {
			session.Close()
			registration.Close()
			t.bootErr = fmt.Errorf("quicbridge: set idle timeout: %w", err)
			return
		}
		if err := session.SetPeerStreamLimits(cfg.maxPeerBidiStreams(), cfg.maxPeerUniStreams()); err != nil {
			session.Close()
			registration.Close()
			t.bootErr = fmt.Errorf("quicbridge: set stream limits: %w", err)
			return
		}

		t.bootMu.Lock()
		t.registration = registration
		t.session = session
		t.bootMu.Unlock()
		t.logger().Info("session bootstrap complete",
			"alpn", cfg.alpn(),
			"idle_timeout", cfg.idleTimeout(),
		)
	})
	return t.bootErr
}

// Connect dials the remote endpoint and returns the connection once the
// handshake completes. Only UDP endpoints are supported.
func (t *Transport) Connect(ctx context.Context, endpoint net.Addr) (*Conn, error) {
	t.init()

	udpAddr, ok := endpoint.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedEndpoint, endpoint)
	}
	if err := t.bootstrap(); err != nil {
		return nil, err
	}
	session, err := t.currentSession()
	if err != nil {
		return nil, err
	}

	ec, err := session.OpenConnection(ctx, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("quicbridge: connect %s: %w", udpAddr, err)
	}

	conn := newConn(t, ec)
	t.logger().Info("connected", "conn", conn.ID(), "remote", udpAddr.String())
	return conn, nil
}

// Listen binds the local UDP endpoint and accepts inbound connections
// under the same session parameters used for outbound ones.
func (t *Transport) Listen(endpoint net.Addr) (*Listener, error) {
	t.init()

	udpAddr, ok := endpoint.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedEndpoint, endpoint)
	}
	if err := t.bootstrap(); err != nil {
		return nil, err
	}
	session, err := t.currentSession()
	if err != nil {
		return nil, err
	}

	el, err := session.Listen(udpAddr)
	if err != nil {
		return nil, fmt.Errorf("quicbridge: listen %s: %w", udpAddr, err)
	}

	t.logger().Info("listening", "local", el.Addr().String())
	return &Listener{transport: t, el: el}, nil
}

func (t *Transport) currentSession() (quicengine.Session, error) {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()

	if t.session == nil {
		return nil, ErrTransportClosed
	}
	return t.session, nil
}

// Close releases the session and registration, if bootstrapped. It is
// idempotent.
func (t *Transport) Close() error {
	t.bootMu.Lock()
	session, registration := t.session, t.registration
	t.session, t.registration = nil, nil
	t.bootMu.Unlock()

	var err error
	if session != nil {
		err = session.Close()
	}
	if registration != nil {
		if cerr := registration.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// dispatch is the fixed-signature entry point the engine calls for every
// stream event. The token resolves to the owning stream; events for
// revoked tokens are stale and rejected.
func (t *Transport) dispatch(token uint64, ev *quicengine.Event) quicengine.Status {
	s, ok := t.registry.lookup(token)
	if !ok {
		return quicengine.StatusAborted
	}
	return s.handleEvent(ev)
}

// Listener accepts inbound connections for a Transport.
type Listener struct {
	transport *Transport
	el        quicengine.Listener
}

// Accept blocks until the next inbound connection completes its
// handshake.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	ec, err := l.el.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return newConn(l.transport, ec), nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.el.Addr()
}

// Close stops accepting inbound connections.
func (l *Listener) Close() error {
	return l.el.Close()
}
