// Package server wires the transport, postmaster, session, and rpc
// packages into one running dmq daemon: accept connections, hand each
// one a Session scheduled on the shared Postmaster, run the RPC
// handshake, and dispatch RPC-channel messages to registered services.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sadewadee/dmq/internal/closereason"
	"github.com/sadewadee/dmq/internal/config"
	"github.com/sadewadee/dmq/internal/message"
	"github.com/sadewadee/dmq/internal/metrics"
	"github.com/sadewadee/dmq/internal/postmaster"
	"github.com/sadewadee/dmq/internal/rpc"
	"github.com/sadewadee/dmq/internal/session"
	"github.com/sadewadee/dmq/internal/transport"
)

const protocolVersion = "1.0"

// RegisterFunc installs RPC services on a freshly accepted connection's
// endpoint, before the handshake completes. Each connection gets its own
// Endpoint and method table (§4.8 registers per Endpoint, not globally),
// so RegisterFunc runs once per session.
type RegisterFunc func(*rpc.Endpoint)

// Server owns the postmaster, the listener, and per-session wiring for
// one dmq daemon instance.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metrics.Registry
	verifier rpc.Verifier
	register RegisterFunc

	pm *postmaster.Postmaster
	ln transport.Listener

	runCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[*session.Session]struct{}

	acceptWG sync.WaitGroup
	connWG   sync.WaitGroup
}

// New builds a Server from cfg. verifier is consulted only when
// cfg.Auth.RequireAuthentication is true; register installs the RPC
// services every accepted session should expose. verifier may be nil
// when authentication is disabled.
func New(cfg *config.Config, logger *slog.Logger, reg *metrics.Registry, verifier rpc.Verifier, register RegisterFunc) *Server {
	pmCfg := postmaster.DefaultConfig()
	pmCfg.MaxWorkers = cfg.Session.MaxReadWriteWorkers
	pmCfg.InitialWorkers = cfg.Workers.InitialReadWorkers
	pmCfg.EnableSupervisor = cfg.Workers.EnableSupervisor

	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		verifier: verifier,
		register: register,
		pm:       postmaster.New(pmCfg, logger),
		sessions: make(map[*session.Session]struct{}),
	}
}

// Postmaster exposes the shared scheduler, mainly so cmd/dmqd can hand
// it to the metrics registry.
func (s *Server) Postmaster() *postmaster.Postmaster { return s.pm }

// Addr reports the bound listener address. Only meaningful after Start
// returns successfully; mainly used by tests that bind an ephemeral
// port (cfg.Server.Port == 0).
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) listen() (transport.Listener, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.IP, s.cfg.Server.Port)

	switch s.cfg.Server.Transport {
	case config.TransportTCP:
		opts := transport.TCPOptions{
			NoDelay:    true,
			DontLinger: true,
			BufferSize: s.cfg.Server.SendAndReceiveBufferSize,
			Backlog:    s.cfg.Server.ListenerBacklog,
		}
		return transport.ListenTCP(addr, opts)
	case config.TransportQUIC:
		tlsConf, err := s.tlsConfig()
		if err != nil {
			return nil, err
		}
		return transport.ListenQUIC(addr, tlsConf)
	case config.TransportWebSocket:
		return transport.ListenWebSocket(addr, s.cfg.Server.WebSocketPath)
	default:
		return nil, fmt.Errorf("server: unknown transport %q", s.cfg.Server.Transport)
	}
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if !s.cfg.TLS.Enabled {
		return nil, fmt.Errorf("server: quic transport requires tls.enabled")
	}
	if s.cfg.TLS.ACME.Email != "" {
		return transport.NewACMETLSConfig(transport.ACMEOptions{
			Email:    s.cfg.TLS.ACME.Email,
			Domains:  s.cfg.TLS.ACME.Domains,
			CacheDir: s.cfg.TLS.ACME.CacheDir,
			Staging:  s.cfg.TLS.ACME.Staging,
		})
	}
	if s.cfg.TLS.Auto {
		return transport.NewSelfSignedTLSConfig()
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.Cert, s.cfg.TLS.Key)
	if err != nil {
		return nil, fmt.Errorf("server: loading tls cert/key: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// Start binds the listener, launches the postmaster's worker pools, and
// begins accepting connections on its own goroutine. Cancelling ctx
// yourself also stops accepting, but Stop is the normal shutdown path:
// it cancels an internal context derived from ctx so the accept loop
// always terminates even if the caller's ctx outlives the server.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return fmt.Errorf("server: starting listener: %w", err)
	}
	s.ln = ln
	s.pm.Start()

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.acceptWG.Add(1)
	go s.acceptLoop(runCtx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.acceptWG.Done()
	for {
		stream, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.logger != nil {
				s.logger.Warn("server: accept failed", "error", err)
			}
			continue
		}
		s.connWG.Add(1)
		go s.handleConn(ctx, stream)
	}
}

func (s *Server) handleConn(ctx context.Context, conn transport.Stream) {
	defer s.connWG.Done()

	id := session.NewID()
	maxFrameData := s.cfg.Server.MaxFrameData()

	// endpoint is constructed after sess because its send callback
	// closes over sess.Enqueue; sess's OnIncomingMessage closes over
	// endpoint in turn. Both closures only run on goroutines started by
	// sess.Start(), which happens after both assignments below, so there
	// is no race.
	var endpoint *rpc.Endpoint
	var sess *session.Session

	// A typed-nil *metrics.Registry stored directly in the Sink interface
	// field would be non-nil as an interface and panic on first use;
	// only set it when a registry is actually configured.
	var metricsSink session.Sink
	if s.registry != nil {
		metricsSink = s.registry
	}

	sess = session.New(id, conn, s.pm, session.Options{
		Role:              session.RoleServer,
		MaxFrameData:      maxFrameData,
		BackPressureBytes: int64(s.cfg.Server.SendAndReceiveBufferSize) * 4,
		ReadBufferSize:    s.cfg.Server.SendAndReceiveBufferSize,
		PingTimeout:       s.cfg.Session.PingTimeout.Duration(),
		SendTimeout:       s.cfg.Server.SendTimeout.Duration(),
		Logger:            s.logger,
		Metrics:           metricsSink,
		OnIncomingMessage: func(ss *session.Session) {
			for {
				msg, ok := ss.DequeueIncoming()
				if !ok {
					return
				}
				if err := endpoint.HandleIncoming(msg.Payload()); err != nil {
					if s.logger != nil {
						s.logger.Warn("server: protocol violation", "session_id", ss.ID, "error", err)
					}
					ss.Close(closereason.ProtocolError)
					return
				}
			}
		},
		OnClose: func(closed *session.Session, _ closereason.Reason) {
			s.mu.Lock()
			delete(s.sessions, closed)
			s.mu.Unlock()
		},
	})

	endpoint = rpc.NewEndpoint(rpc.MsgpackCodec{}, rpc.NewInvoker(s.cfg.Session.MaxReadWriteWorkers), func(payload []byte) error {
		return sess.Enqueue(message.NewSingle(payload))
	}, s.cfg.Auth.RequireAuthentication, s.logger)

	if s.register != nil {
		s.register(endpoint)
	}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	sess.Start()

	verifier := s.verifier
	if verifier == nil {
		verifier = func([]byte) bool { return true }
	}
	timeout := s.cfg.Server.ConnectionTimeout.Duration()
	go func() {
		hctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := endpoint.ServerHandshake(hctx, protocolVersion, "dmq", s.cfg.Auth.RequireAuthentication, timeout, verifier); err != nil {
			sess.Close(closereason.AuthenticationFailure)
		}
	}()
}

// Stop closes the listener, closes every open session, and waits (up to
// a bounded grace period) for the accept and connection goroutines and
// the postmaster's worker pools to drain.
func (s *Server) Stop(ctx context.Context) error {
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.mu.Lock()
	for sess := range s.sessions {
		sess.Close(closereason.ServerClosing)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.acceptWG.Wait()
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}

	s.pm.Stop()
	return nil
}
