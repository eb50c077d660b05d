package gatewayhttp

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server wraps Engine with a start/stop/restart lifecycle over a real
// net.Listener. Routes are rebuilt fresh on every Start, so configuration
// changes (new proxies, new providers) take effect on restart.
type Server struct {
	deps Deps
	addr string

	mu       sync.Mutex
	engine   *Engine
	listener net.Listener
	http     *http.Server
	done     chan struct{}
}

// NewServer builds a Server bound to addr (host:port). It does not start
// listening until Start is called.
func NewServer(addr string, deps Deps) *Server {
	return &Server{deps: deps, addr: addr}
}

// Start clears the bridge cache, binds the listener, builds a fresh Engine
// (which mounts routes from the current store state), and begins serving in
// the background. Routes are mounted before Serve is called, so no request
// is handled by a partially-mounted router.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return fmt.Errorf("gatewayhttp: server already started")
	}

	if s.deps.BridgeCache != nil {
		s.deps.BridgeCache.Clear()
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gatewayhttp: listen on %s: %w", s.addr, err)
	}

	s.deps.StartedAt = time.Now()
	engine := NewEngine(s.deps)

	hs := &http.Server{
		Handler: engine,
	}

	s.engine = engine
	s.listener = ln
	s.http = hs
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := hs.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("gatewayhttp: serve error: %v", err)
		}
	}()

	log.Printf("gatewayhttp: listening on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight
// requests to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	hs := s.http
	done := s.done
	s.mu.Unlock()

	if hs == nil {
		return nil
	}

	err := hs.Shutdown(ctx)

	s.mu.Lock()
	s.http = nil
	s.listener = nil
	s.engine = nil
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return err
}

// Restart stops and then starts the server again, rebuilding routes from
// whatever the store now contains. Stop and Start each take the server
// mutex on their own, and Restart holds no lock across the two, so two
// concurrent Restart calls can interleave; the later Start then returns an
// "already started" error.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Addr reports the bound listener address, or "" if the server isn't
// currently running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
