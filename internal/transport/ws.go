package transport

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mobsya/thymio-broker/internal/logging"
)

// wsConn is a Conn backed by a gorilla/websocket connection. Each
// binary WebSocket message is exactly one wire payload: the transport
// already delimits messages, so no extra length prefix is written or
// expected (unlike tcpConn).
type wsConn struct {
	conn   *websocket.Conn
	local  bool
	remote string
}

func newWSConn(c *websocket.Conn) *wsConn {
	remote := c.RemoteAddr().String()
	return &wsConn{conn: c, local: isLoopbackAddr(remote), remote: remote}
}

func (c *wsConn) ReadFrame(ctx context.Context, maxSize uint32) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		_, payload, err := c.conn.ReadMessage()
		done <- result{payload, err}
	}()
	select {
	case r := <-done:
		if r.err == nil && uint32(len(r.payload)) > maxSize {
			return nil, errMessageTooLarge
		}
		return r.payload, r.err
	case <-ctx.Done():
		c.conn.Close()
		return nil, ctx.Err()
	}
}

func (c *wsConn) WriteFrame(payload []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsConn) Close() error       { return c.conn.Close() }
func (c *wsConn) IsLocal() bool      { return c.local }
func (c *wsConn) RemoteAddr() string { return c.remote }

var errMessageTooLarge = &wsError{"websocket message exceeds maximum accepted size"}

type wsError struct{ msg string }

func (e *wsError) Error() string { return e.msg }

// wsListener upgrades HTTP requests on one path to WebSocket
// connections and hands each accepted Conn out through a channel,
// mirroring web_websocket_hub.go's upgrade-then-register flow but
// without its broadcast hub — each endpoint here is independent.
type wsListener struct {
	addr     string
	server   *http.Server
	upgrader websocket.Upgrader
	accepted chan Conn
	errs     chan error
}

// ListenWS binds addr and serves WebSocket upgrades at path, returning
// a Listener producing one Conn per accepted client.
func ListenWS(addr, path string) (Listener, error) {
	l := &wsListener{
		addr:     addr,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		accepted: make(chan Conn),
		errs:     make(chan error, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Default().Errorf("websocket listener: %v", err)
		}
	}()
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Default().Warnf("websocket upgrade failed: %v", err)
		return
	}
	l.accepted <- newWSConn(conn)
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Close() error { return l.server.Close() }
func (l *wsListener) Addr() string { return l.addr }
