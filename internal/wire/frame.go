// Package wire implements the length-prefixed binary framing protocol
// and the self-describing tagged message union exchanged between the
// broker and its clients.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxMessageSize is used until a handshake negotiates another
// value. It is deliberately generous; real limits are negotiated.
const DefaultMaxMessageSize = 16 * 1024 * 1024

// ErrMessageTooLarge is returned by ReadFrame when the declared size
// exceeds the configured safety limit.
var ErrMessageTooLarge = fmt.Errorf("wire: message exceeds configured maximum size")

// ReadFrame reads one `{ size: u32 LE, payload: size bytes }` frame
// from r, rejecting declared sizes above maxSize.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if maxSize != 0 && size > maxSize {
		return nil, ErrMessageTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: short payload read: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload prefixed by its little-endian u32 length.
func WriteFrame(w io.Writer, payload []byte) error {
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
