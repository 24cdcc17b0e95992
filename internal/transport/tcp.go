package transport

import (
	"context"
	"net"

	"github.com/mobsya/thymio-broker/internal/wire"
)

// tcpConn is a Conn backed by a raw net.Conn, framed with wire's
// 4-byte-length-prefix codec (spec.md §3).
type tcpConn struct {
	conn   net.Conn
	local  bool
	remote string
}

func newTCPConn(c net.Conn) *tcpConn {
	remote := c.RemoteAddr().String()
	return &tcpConn{conn: c, local: isLoopbackAddr(remote), remote: remote}
}

func (c *tcpConn) ReadFrame(ctx context.Context, maxSize uint32) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := wire.ReadFrame(c.conn, maxSize)
		done <- result{payload, err}
	}()
	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		c.conn.Close()
		return nil, ctx.Err()
	}
}

func (c *tcpConn) WriteFrame(payload []byte) error {
	return wire.WriteFrame(c.conn, payload)
}

func (c *tcpConn) Close() error        { return c.conn.Close() }
func (c *tcpConn) IsLocal() bool       { return c.local }
func (c *tcpConn) RemoteAddr() string  { return c.remote }

// tcpListener is a Listener over a net.Listener.
type tcpListener struct {
	ln net.Listener
}

// ListenTCP binds addr and returns a Listener producing framed Conns.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		done <- result{c, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return newTCPConn(r.conn), nil
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Close() error  { return l.ln.Close() }
func (l *tcpListener) Addr() string  { return l.ln.Addr().String() }
