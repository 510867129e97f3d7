package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPOptions controls socket tuning, matching §6's transport line
// (NO_DELAY=true, DONT_LINGER=true, configurable buffer sizes).
type TCPOptions struct {
	NoDelay    bool
	DontLinger bool
	BufferSize int
	Backlog    int
}

// DefaultTCPOptions returns the spec's documented transport defaults.
func DefaultTCPOptions() TCPOptions {
	return TCPOptions{
		NoDelay:    true,
		DontLinger: true,
		BufferSize: 16 * 1024,
		Backlog:    100,
	}
}

type tcpListener struct {
	ln   *net.TCPListener
	opts TCPOptions
}

// ListenTCP binds addr and returns a Listener. Go's net package does not
// expose the accept backlog directly; Backlog is recorded for parity
// with §6 but enforced by the OS default on most platforms.
func ListenTCP(addr string, opts TCPOptions) (Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving %q: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %q: %w", addr, err)
	}
	return &tcpListener{ln: ln, opts: opts}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Stream, error) {
	type result struct {
		conn *net.TCPConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.AcceptTCP()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if err := tuneTCPConn(r.conn, l.opts); err != nil {
			r.conn.Close()
			return nil, err
		}
		return &tcpStream{conn: r.conn}, nil
	}
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

// DialTCP opens an outgoing TCP Stream tuned the same way as an accepted
// one.
func DialTCP(ctx context.Context, addr string, opts TCPOptions) (Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %q: %w", addr, err)
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("transport: dialed connection is not TCP")
	}
	if err := tuneTCPConn(tcpConn, opts); err != nil {
		tcpConn.Close()
		return nil, err
	}
	return &tcpStream{conn: tcpConn}, nil
}

func tuneTCPConn(conn *net.TCPConn, opts TCPOptions) error {
	if err := conn.SetNoDelay(opts.NoDelay); err != nil {
		return fmt.Errorf("transport: setting no-delay: %w", err)
	}
	if opts.DontLinger {
		// A zero linger makes Close discard unsent data and return
		// immediately instead of blocking to flush in the background.
		if err := conn.SetLinger(0); err != nil {
			return fmt.Errorf("transport: setting linger: %w", err)
		}
	}
	if opts.BufferSize > 0 {
		if err := conn.SetReadBuffer(opts.BufferSize); err != nil {
			return fmt.Errorf("transport: setting read buffer: %w", err)
		}
		if err := conn.SetWriteBuffer(opts.BufferSize); err != nil {
			return fmt.Errorf("transport: setting write buffer: %w", err)
		}
	}
	return nil
}

type tcpStream struct {
	conn *net.TCPConn
}

func (s *tcpStream) Read(b []byte) (int, error)                  { return s.conn.Read(b) }
func (s *tcpStream) Write(b []byte) (int, error)                 { return s.conn.Write(b) }
func (s *tcpStream) Close() error                                { return s.conn.Close() }
func (s *tcpStream) SetReadDeadline(t time.Time) error           { return s.conn.SetReadDeadline(t) }
func (s *tcpStream) SetWriteDeadline(t time.Time) error          { return s.conn.SetWriteDeadline(t) }
func (s *tcpStream) RemoteAddr() net.Addr                        { return s.conn.RemoteAddr() }
