// Package session ties a transport connection, a mailbox, and the
// postmaster scheduler together into one full-duplex connection's
// lifecycle: Connecting, Connected, Closing, Closed (§4.7).
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/sadewadee/dmq/internal/closereason"
	"github.com/sadewadee/dmq/internal/frame"
	"github.com/sadewadee/dmq/internal/mailbox"
	"github.com/sadewadee/dmq/internal/message"
	"github.com/sadewadee/dmq/internal/postmaster"
)

// Conn is the subset of net.Conn a Session needs. Transports satisfy it
// structurally; Session never imports the transport package.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Role distinguishes client-side (ping sender) from server-side
// (idle-timeout watcher) responsibilities.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

// State is the session's lifecycle position.
type State int32

const (
	Connecting State = iota
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Options configures a Session.
type Options struct {
	Role Role

	MaxFrameData      int
	BackPressureBytes int64
	ReadBufferSize    int

	// PingFrequency is the client-side Ping emission interval; 0 disables.
	PingFrequency time.Duration
	// PingTimeout is the server-side idle-disconnect threshold; 0 disables.
	PingTimeout time.Duration
	// SendTimeout bounds each outbound write.
	SendTimeout time.Duration

	Logger *slog.Logger

	// OnIncomingMessage fires at most once per reader pass that completed
	// at least one message (§4.3's event coalescing). The handler is
	// expected to drain DequeueIncoming in a loop.
	OnIncomingMessage func(*Session)
	// OnClose fires exactly once, after the session has fully closed.
	OnClose func(*Session, closereason.Reason)

	// Metrics receives ambient observability callbacks; nil disables
	// them. It is not part of the wire protocol (§5's metrics are
	// ancillary, not load-bearing for correctness).
	Metrics Sink
}

// Sink receives ambient session lifecycle and traffic observations. The
// metrics package's Registry implements this; tests and callers that do
// not care about metrics simply leave Options.Metrics nil.
type Sink interface {
	SessionOpened()
	SessionClosed(reason closereason.Reason)
	BytesRead(n int)
	MessageEnqueued(frameCount int)
}

// Session is the schedulable unit registered with a Postmaster; it
// implements postmaster.Handle.
type Session struct {
	ID   string
	conn Conn
	mb   *mailbox.Mailbox
	pm   weak.Pointer[postmaster.Postmaster]
	opts Options

	state        atomic.Int32
	lastReceived atomic.Int64

	writeMu sync.Mutex

	closeOnce   sync.Once
	closeReason atomic.Uint32

	stop chan struct{}
}

var _ postmaster.Handle = (*Session)(nil)

// NewID generates a 16-byte random hex session id, in the same shape as
// the teacher's connection-id generator.
func NewID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// New constructs a Session over conn, scheduled on pm. Call Start to
// begin reading and arm the ping/timeout loop.
func New(id string, conn Conn, pm *postmaster.Postmaster, opts Options) *Session {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 16 * 1024
	}
	s := &Session{
		ID:   id,
		conn: conn,
		mb:   mailbox.New(opts.MaxFrameData, opts.BackPressureBytes),
		pm:   weak.Make(pm),
		opts: opts,
		stop: make(chan struct{}),
	}
	s.state.Store(int32(Connecting))
	s.lastReceived.Store(time.Now().UnixNano())
	if opts.Metrics != nil {
		opts.Metrics.SessionOpened()
	}
	return s
}

// State reports the session's current lifecycle position.
func (s *Session) State() State {
	return State(s.state.Load())
}

// CloseReason reports why the session was closed; meaningless before
// Close has been called.
func (s *Session) CloseReason() closereason.Reason {
	return closereason.Reason(s.closeReason.Load())
}

// Start transitions Connecting -> Connected and launches the reader loop
// plus the role-appropriate ping or timeout watcher.
func (s *Session) Start() {
	s.state.Store(int32(Connected))
	go s.readLoop()

	switch s.opts.Role {
	case RoleClient:
		if s.opts.PingFrequency > 0 {
			go s.pingLoop()
		}
	case RoleServer:
		if s.opts.PingTimeout > 0 {
			go s.timeoutLoop()
		}
	}
}

// Enqueue appends msg to the outbox and signals the postmaster's writer
// pool, unless the session is no longer connected.
func (s *Session) Enqueue(msg *message.Message) error {
	if s.State() != Connected {
		return fmt.Errorf("session: enqueue on %s session", s.State())
	}
	s.mb.EnqueueOutgoing(msg)
	if s.opts.Metrics != nil {
		s.opts.Metrics.MessageEnqueued(len(msg.Frames))
	}
	if pm := s.pm.Value(); pm != nil {
		pm.SignalWrite(s)
	}
	return nil
}

// DequeueIncoming pops the oldest assembled inbound message, FIFO.
func (s *Session) DequeueIncoming() (*message.Message, bool) {
	return s.mb.DequeueIncoming()
}

// ProcessInbound implements postmaster.Handle.
func (s *Session) ProcessInbound() error {
	err := s.mb.ProcessInbox(func() {
		if s.opts.OnIncomingMessage != nil {
			s.opts.OnIncomingMessage(s)
		}
	})
	if err != nil {
		s.Close(closereason.ProtocolError)
	}
	return err
}

// ProcessOutbound implements postmaster.Handle.
func (s *Session) ProcessOutbound() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.opts.SendTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.SendTimeout))
	}
	return s.mb.ProcessOutbox(s.conn)
}

// PendingInbound implements postmaster.Handle.
func (s *Session) PendingInbound() bool {
	return s.mb.InboxByteCount() > 0
}

// PendingOutbound implements postmaster.Handle.
func (s *Session) PendingOutbound() bool {
	return !s.mb.OutboxEmpty()
}

func (s *Session) readLoop() {
	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.lastReceived.Store(time.Now().UnixNano())
			if s.opts.Metrics != nil {
				s.opts.Metrics.BytesRead(n)
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if s.mb.EnqueueIncomingBuffer(chunk) {
				s.waitForBackPressureRelief()
			}
			if pm := s.pm.Value(); pm != nil {
				pm.SignalRead(s)
			}
		}
		if err != nil {
			reason := closereason.SocketError
			if err == io.EOF {
				if s.opts.Role == RoleServer {
					reason = closereason.ClientClosing
				} else {
					reason = closereason.ServerClosing
				}
			}
			s.Close(reason)
			return
		}
	}
}

// waitForBackPressureRelief pauses the read loop while the inbox is over
// its high-water mark, polling because the mailbox has no blocking
// drain signal of its own (the postmaster may be busy with other
// mailboxes, so a fixed short poll is preferable to an unbounded block).
func (s *Session) waitForBackPressureRelief() {
	for s.mb.InboxByteCount() > s.opts.BackPressureBytes && s.State() == Connected {
		time.Sleep(time.Millisecond)
	}
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.opts.PingFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.sendPing(); err != nil {
				s.Close(closereason.SocketError)
				return
			}
		}
	}
}

func (s *Session) sendPing() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	buf, _ := frame.Encode(nil, &frame.Frame{Type: frame.Ping}, s.opts.MaxFrameData)
	// The receiving mailbox only accepts gather-wrapped bytes.
	buf = append([]byte{mailbox.GatherMarker, byte(len(buf)), byte(len(buf) >> 8)}, buf...)
	if s.opts.SendTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.SendTimeout))
	}
	_, err := s.conn.Write(buf)
	return err
}

func (s *Session) timeoutLoop() {
	interval := s.opts.PingTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastReceived.Load())
			if time.Since(last) > s.opts.PingTimeout {
				s.Close(closereason.TimeOut)
				return
			}
		}
	}
}

// Close tears the session down exactly once, recording reason and
// invoking OnClose.
func (s *Session) Close(reason closereason.Reason) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closing))
		s.closeReason.Store(uint32(reason))
		close(s.stop)
		_ = s.conn.Close()
		s.state.Store(int32(Closed))
		if s.opts.Logger != nil {
			s.opts.Logger.Info("session closed", "session_id", s.ID, "reason", reason.String())
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.SessionClosed(reason)
		}
		if s.opts.OnClose != nil {
			s.opts.OnClose(s, reason)
		}
	})
}
