package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// QUIC carries exactly one stream per session/connection; the QUIC
// connection itself is otherwise just a transport detail the rest of
// the system never sees.

type quicListener struct {
	ln *quic.Listener
}

// ListenQUIC binds addr for QUIC connections. tlsConf must present a
// certificate (see NewACMETLSConfig / NewSelfSignedTLSConfig); quic-go
// does not support plaintext.
func ListenQUIC(addr string, tlsConf *tls.Config) (Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("transport: quic listen on %q: %w", addr, err)
	}
	return &quicListener{ln: ln}, nil
}

func (l *quicListener) Accept(ctx context.Context) (Stream, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: quic accept: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream accept failed")
		return nil, fmt.Errorf("transport: quic accept stream: %w", err)
	}
	return &quicStream{conn: conn, stream: stream}, nil
}

func (l *quicListener) Close() error   { return l.ln.Close() }
func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

// DialQUIC opens an outgoing QUIC connection and its single session
// stream.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (Stream, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: quic dial %q: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream open failed")
		return nil, fmt.Errorf("transport: quic open stream: %w", err)
	}
	return &quicStream{conn: conn, stream: stream}, nil
}

type quicStream struct {
	conn   *quic.Conn
	stream *quic.Stream
}

func (s *quicStream) Read(b []byte) (int, error)  { return s.stream.Read(b) }
func (s *quicStream) Write(b []byte) (int, error) { return s.stream.Write(b) }

func (s *quicStream) Close() error {
	err := s.stream.Close()
	s.conn.CloseWithError(0, "session closed")
	return err
}

func (s *quicStream) SetReadDeadline(t time.Time) error  { return s.stream.SetReadDeadline(t) }
func (s *quicStream) SetWriteDeadline(t time.Time) error { return s.stream.SetWriteDeadline(t) }
func (s *quicStream) RemoteAddr() net.Addr               { return s.conn.RemoteAddr() }
