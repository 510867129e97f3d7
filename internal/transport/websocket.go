package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket streams carry dmq's binary frames inside WebSocket binary
// messages, one message boundary per underlying Write call (the reader
// side reassembles across message boundaries transparently, §6).

type wsListener struct {
	ln     net.Listener
	srv    *http.Server
	accept chan *wsStream
	errs   chan error
}

// ListenWebSocket starts an HTTP server on addr that upgrades every
// request on path to a WebSocket-backed Stream. CheckOrigin is
// permissive, matching the teacher's handler (origin policy is left to
// a reverse proxy in front of dmq, as in the teacher's deployment).
func ListenWebSocket(addr, path string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket listen on %q: %w", addr, err)
	}

	l := &wsListener{
		ln:     ln,
		accept: make(chan *wsStream),
		errs:   make(chan error, 1),
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		l.accept <- &wsStream{conn: conn}
	})

	l.srv = &http.Server{Handler: mux}
	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.errs <- err
		}
	}()

	return l, nil
}

func (l *wsListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-l.errs:
		return nil, err
	case s := <-l.accept:
		return s, nil
	}
}

func (l *wsListener) Close() error   { return l.srv.Close() }
func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

// DialWebSocket opens an outgoing WebSocket-backed Stream.
func DialWebSocket(ctx context.Context, url string) (Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %q: %w", url, err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	readMu  sync.Mutex
	readBuf []byte
}

func (s *wsStream) Read(b []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for len(s.readBuf) == 0 {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		s.readBuf = data
	}
	n := copy(b, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

func (s *wsStream) Write(b []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *wsStream) Close() error                       { return s.conn.Close() }
func (s *wsStream) SetReadDeadline(t time.Time) error   { return s.conn.SetReadDeadline(t) }
func (s *wsStream) SetWriteDeadline(t time.Time) error  { return s.conn.SetWriteDeadline(t) }
func (s *wsStream) RemoteAddr() net.Addr                { return s.conn.RemoteAddr() }
