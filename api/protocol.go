package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// MaxMessageSize is the maximum allowed frame size (50MB).
const MaxMessageSize = 50 * 1024 * 1024

// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")

// ErrRejected is returned by ParseReply for an "ERR" reply.
var ErrRejected = errors.New("batch rejected")

// Ingest replies are plain text frames.
const (
	replyOK  = "OK"
	replyErr = "ERR"
)

// ReadMessage reads a length-prefixed frame.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return buf, nil
}

// WriteMessage writes a length-prefixed frame.
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d exceeds uint32 max", ErrMessageTooLarge, len(data))
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	// A single write keeps the header and body together on the wire.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data))) // #nosec G115 - bounds checked above
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// okReply formats the reply for n accepted tasks.
func okReply(n int) []byte {
	return []byte(replyOK + " " + strconv.Itoa(n))
}

// errReply formats an error reply.
func errReply(err error) []byte {
	return []byte(replyErr + " " + err.Error())
}

// ParseReply decodes an ingest reply, returning the accepted task count.
func ParseReply(reply []byte) (int, error) {
	text := string(reply)
	switch {
	case strings.HasPrefix(text, replyOK+" "):
		n, err := strconv.Atoi(strings.TrimPrefix(text, replyOK+" "))
		if err != nil {
			return 0, fmt.Errorf("malformed reply %q", text)
		}
		return n, nil
	case strings.HasPrefix(text, replyErr):
		return 0, fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(strings.TrimPrefix(text, replyErr)))
	default:
		return 0, fmt.Errorf("malformed reply %q", text)
	}
}
