package quicbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/m-ito0810/quicbridge/quicengine"
)

// Conn owns the streams of one peer association. Streams are created
// lazily via OpenStream and AcceptStream and torn down together when the
// connection closes.
type Conn struct {
	id        string
	ec        quicengine.Connection
	transport *Transport
	logger    *slog.Logger

	mu      sync.Mutex
	streams map[int64]*Stream
	closed  bool
}

func newConn(t *Transport, ec quicengine.Connection) *Conn {
	return &Conn{
		id:        ec.ID(),
		ec:        ec,
		transport: t,
		logger:    t.logger().With("conn", ec.ID()),
		streams:   make(map[int64]*Stream),
	}
}

// ID returns the connection identifier assigned by the engine.
func (c *Conn) ID() string {
	return c.id
}

// OpenStream allocates a new locally initiated stream under this
// connection. The stream is returned un-started; call Stream.Start to
// begin the engine-side handshake.
func (c *Conn) OpenStream(ctx context.Context, dir quicengine.Direction) (*Stream, error) {
	if dir == quicengine.UnidirectionalReceive {
		return nil, fmt.Errorf("quicbridge: cannot open a %s stream", dir)
	}

	es, err := c.ec.OpenStream(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("quicbridge: open stream: %w", err)
	}

	s, err := c.adoptStream(es, dir)
	if err != nil {
		es.Close()
		return nil, err
	}
	return s, nil
}

// AcceptStream blocks until the peer initiates a stream. Accepted streams
// are already started and ready for I/O. An error reports the end of the
// connection.
func (c *Conn) AcceptStream(ctx context.Context) (*Stream, error) {
	es, dir, err := c.ec.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("quicbridge: accept stream: %w", err)
	}

	s, err := c.adoptStream(es, dir)
	if err != nil {
		es.Close()
		return nil, err
	}
	s.open()
	return s, nil
}

// adoptStream wraps an engine stream, registers its dispatch token and
// begins event delivery.
func (c *Conn) adoptStream(es quicengine.Stream, dir quicengine.Direction) (*Stream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	s := newStream(c, es, dir)
	s.token = c.transport.registry.register(s)
	c.streams[es.StreamID()] = s
	c.mu.Unlock()

	es.Attach(c.transport.dispatch, s.token)
	return s, nil
}

func (c *Conn) removeStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, s.StreamID())
}

// Close tears down every stream and then the engine connection. It is
// idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}

	err := c.ec.Close()
	c.logger.Debug("connection closed", "streams", len(streams))
	return err
}
