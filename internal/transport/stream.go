// Package transport abstracts the full-duplex byte stream a Session runs
// over so the rest of the system does not care whether bytes travel over
// TCP, QUIC, or a WebSocket (§6).
package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// Stream is a full-duplex byte stream: one session, one Stream.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	RemoteAddr() net.Addr
}

// Listener accepts incoming Streams.
type Listener interface {
	Accept(ctx context.Context) (Stream, error)
	Close() error
	Addr() net.Addr
}

// Dialer opens an outgoing Stream to addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Stream, error)
}
