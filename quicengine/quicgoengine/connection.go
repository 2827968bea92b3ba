package quicgoengine

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/m-ito0810/quicbridge/quicengine"
)

type engineConn struct {
	conn *quic.Conn
	id   string

	acceptCh chan acceptedStream
}

type acceptedStream struct {
	es  *engineStream
	dir quicengine.Direction
}

var _ quicengine.Connection = (*engineConn)(nil)

func newEngineConn(conn *quic.Conn) *engineConn {
	c := &engineConn{
		conn:     conn,
		id:       newConnID(),
		acceptCh: make(chan acceptedStream, 8),
	}
	go c.acceptBidiPump()
	go c.acceptUniPump()
	return c
}

func (c *engineConn) ID() string {
	return c.id
}

func (c *engineConn) OpenStream(ctx context.Context, dir quicengine.Direction) (quicengine.Stream, error) {
	switch dir {
	case quicengine.Bidirectional:
		st, err := c.conn.OpenStreamSync(ctx)
		if err != nil {
			return nil, err
		}
		return newEngineStream(int64(st.StreamID()), dir, st, st), nil

	case quicengine.UnidirectionalSend:
		st, err := c.conn.OpenUniStreamSync(ctx)
		if err != nil {
			return nil, err
		}
		return newEngineStream(int64(st.StreamID()), dir, st, nil), nil

	default:
		return nil, fmt.Errorf("quicgoengine: cannot open a %s stream", dir)
	}
}

func (c *engineConn) AcceptStream(ctx context.Context) (quicengine.Stream, quicengine.Direction, error) {
	select {
	case accepted := <-c.acceptCh:
		return accepted.es, accepted.dir, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-c.conn.Context().Done():
		return nil, 0, context.Cause(c.conn.Context())
	}
}

func (c *engineConn) Close() error {
	return c.conn.CloseWithError(0, "")
}

func (c *engineConn) acceptBidiPump() {
	for {
		st, err := c.conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		es := newEngineStream(int64(st.StreamID()), quicengine.Bidirectional, st, st)
		select {
		case c.acceptCh <- acceptedStream{es: es, dir: quicengine.Bidirectional}:
		case <-c.conn.Context().Done():
			return
		}
	}
}

func (c *engineConn) acceptUniPump() {
	for {
		st, err := c.conn.AcceptUniStream(context.Background())
		if err != nil {
			return
		}
		es := newEngineStream(int64(st.StreamID()), quicengine.UnidirectionalReceive, nil, st)
		select {
		case c.acceptCh <- acceptedStream{es: es, dir: quicengine.UnidirectionalReceive}:
		case <-c.conn.Context().Done():
			return
		}
	}
}
