// Package transport abstracts the two ways a client reaches the
// broker — raw framed TCP and WebSocket — behind one Conn interface,
// so internal/endpoint never has to care which transport it is on.
// Grounded on web_websocket_hub.go's gorilla/websocket upgrade-and-pump
// pattern, generalized to also cover the length-prefixed TCP listener
// spec.md §2 requires as the primary transport.
package transport

import (
	"context"
	"net"
	"strings"
)

// Conn is one accepted client connection, already speaking whichever
// framing its transport needs; callers only ever see whole message
// payloads.
type Conn interface {
	// ReadFrame blocks until a complete message payload is available,
	// the connection closes, or ctx is done.
	ReadFrame(ctx context.Context, maxSize uint32) ([]byte, error)
	// WriteFrame sends one message payload. Callers serialize their own
	// writes; WriteFrame does not buffer or reorder.
	WriteFrame(payload []byte) error
	// Close tears down the underlying transport.
	Close() error
	// IsLocal reports whether the peer is on the same host, which
	// gates both capability visibility and token requirements.
	IsLocal() bool
	// RemoteAddr names the peer for logging.
	RemoteAddr() string
}

// Listener accepts Conns from one transport.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}

// isLoopbackAddr reports whether addr (host:port or a bare host) names
// a loopback address. Used by both transports to decide IsLocal.
func isLoopbackAddr(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}
