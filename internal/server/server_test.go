package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/sadewadee/dmq/internal/config"
	"github.com/sadewadee/dmq/internal/message"
	"github.com/sadewadee/dmq/internal/postmaster"
	"github.com/sadewadee/dmq/internal/rpc"
	"github.com/sadewadee/dmq/internal/server"
	"github.com/sadewadee/dmq/internal/session"
	"github.com/sadewadee/dmq/internal/transport"
)

// dialClient opens a TCP connection to addr and wires a client-side
// Session + rpc.Endpoint over it, mirroring how a real dmq client would
// be assembled from the library's pieces.
func dialClient(t *testing.T, addr string, requireAuth bool) (*session.Session, *rpc.Endpoint) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.DialTCP(ctx, addr, transport.DefaultTCPOptions())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}

	pmCfg := postmaster.DefaultConfig()
	pmCfg.InitialWorkers = 1
	pmCfg.EnableSupervisor = false
	pm := postmaster.New(pmCfg, nil)
	pm.Start()
	t.Cleanup(pm.Stop)

	var endpoint *rpc.Endpoint
	sess := session.New(session.NewID(), conn, pm, session.Options{
		Role:         session.RoleClient,
		MaxFrameData: 16*1024 - 3,
		OnIncomingMessage: func(s *session.Session) {
			for {
				msg, ok := s.DequeueIncoming()
				if !ok {
					return
				}
				_ = endpoint.HandleIncoming(msg.Payload())
			}
		},
	})
	endpoint = rpc.NewEndpoint(rpc.MsgpackCodec{}, rpc.NewInvoker(4), func(payload []byte) error {
		return sess.Enqueue(message.NewSingle(payload))
	}, requireAuth, nil)

	sess.Start()
	t.Cleanup(func() { sess.Close(0) })

	hctx, hcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer hcancel()
	if _, err := endpoint.ClientHandshake(hctx, []byte("test-credentials")); err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}

	return sess, endpoint
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 0 // the OS picks a free port; read it back with srv.Addr()
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, register server.RegisterFunc) (addr string, srv *server.Server) {
	t.Helper()

	cfg.Server.Port = 0 // let the OS choose a free port
	srv = server.New(cfg, nil, nil, nil, register)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		srv.Stop(stopCtx)
	})

	return srv.Addr().String(), srv
}

func TestServerRPCAddRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	addr, _ := startServer(t, cfg, func(e *rpc.Endpoint) {
		e.RegisterMethod("Calculator", "Add", func(_ context.Context, call *rpc.Call) (interface{}, error) {
			var a, b int
			if err := call.Arg(0, &a); err != nil {
				return nil, err
			}
			if err := call.Arg(1, &b); err != nil {
				return nil, err
			}
			return a + b, nil
		})
	})

	_, endpoint := dialClient(t, addr, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var sum int
	if err := endpoint.Call(ctx, "Calculator", "Add", []interface{}{100, 200}, &sum); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sum != 300 {
		t.Fatalf("sum = %d, want 300", sum)
	}
	if endpoint.PendingCalls() != 0 {
		t.Fatalf("PendingCalls = %d, want 0", endpoint.PendingCalls())
	}
}
