// Package broker wires the registry, token manager, and transport
// listeners together into one running server — the top-level
// orchestrator a teacher developer would recognize from master.go and
// simulator.go's NewSimulator/Run pair, here accepting live client
// connections instead of driving simulated protocol cycles.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/mobsya/thymio-broker/internal/backend"
	"github.com/mobsya/thymio-broker/internal/compiler"
	"github.com/mobsya/thymio-broker/internal/config"
	"github.com/mobsya/thymio-broker/internal/endpoint"
	"github.com/mobsya/thymio-broker/internal/logging"
	"github.com/mobsya/thymio-broker/internal/metrics"
	"github.com/mobsya/thymio-broker/internal/registry"
	"github.com/mobsya/thymio-broker/internal/token"
	"github.com/mobsya/thymio-broker/internal/transport"
)

// Server owns every listener and the shared registry/token manager
// they dispatch connections against. One Server is one broker process.
type Server struct {
	cfg   *config.Config
	reg   *registry.Registry
	tok   *token.Manager
	comp  compiler.Compiler
	mon   *metrics.Collector

	mu        sync.Mutex
	listeners []transport.Listener
	wg        sync.WaitGroup
}

// New constructs a Server bound to the given backend. b is typically
// an internal/backend.Simulated for development/testing, or a real
// driver satisfying backend.Backend in production.
func New(cfg *config.Config, b backend.Backend, comp compiler.Compiler) *Server {
	logging.Default().SetLevel(logging.ParseLevel(cfg.LogLevel))
	return &Server{
		cfg:  cfg,
		reg:  registry.New(b),
		tok:  token.New(tokensAsBytes(cfg.Tokens)...),
		comp: comp,
		mon:  metrics.New(cfg.MetricsInterval),
	}
}

func tokensAsBytes(tokens []string) [][]byte {
	out := make([][]byte, len(tokens))
	for i, t := range tokens {
		out[i] = []byte(t)
	}
	return out
}

// Registry exposes the broker's node registry, primarily for tests
// that want to assert on registered nodes without going over the
// wire.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Tokens exposes the token manager, so operators/tests can add or
// revoke accepted tokens at runtime.
func (s *Server) Tokens() *token.Manager { return s.tok }

// Run starts every configured listener and serves connections until
// ctx is cancelled. It returns once every listener's accept loop has
// exited.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.TCPAddress != "" {
		ln, err := transport.ListenTCP(s.cfg.TCPAddress)
		if err != nil {
			return fmt.Errorf("broker: listen tcp %s: %w", s.cfg.TCPAddress, err)
		}
		logging.Default().Infof("listening for framed TCP clients on %s", ln.Addr())
		s.serve(ctx, ln)
	}
	if s.cfg.WebSocketAddress != "" {
		ln, err := transport.ListenWS(s.cfg.WebSocketAddress, "/")
		if err != nil {
			return fmt.Errorf("broker: listen websocket %s: %w", s.cfg.WebSocketAddress, err)
		}
		logging.Default().Infof("listening for websocket clients on %s", ln.Addr())
		s.serve(ctx, ln)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) serve(ctx context.Context, ln transport.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.Default().Errorf("accept on %s: %v", ln.Addr(), err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.acceptConn(ctx, conn)
			}()
		}
	}()
}

func (s *Server) acceptConn(ctx context.Context, conn transport.Conn) {
	ep := endpoint.New(ctx, conn, s.reg, s.tok, s.comp, endpoint.Config{
		OutboundQueueCapacity: s.cfg.OutboundQueueCapacity,
		MaxMessageSize:        s.cfg.MaxMessageSize,
		RequireTokenForRemote: s.cfg.RequireTokenForRemote,
	}, s.mon)
	ep.Run()
}

// Close stops every listener. In-flight connections are left to drain
// via their own context cancellation, driven by the ctx passed to Run.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil {
			logging.Default().Warnf("closing listener %s: %v", ln.Addr(), err)
		}
	}
}
