package session

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultAcceptTimeout = 1 * time.Second

type Config struct {
	Addr          string
	AcceptTimeout time.Duration
	Login         LoginConfig
	Conn          ConnOptions
	Handler       HandlerFactory
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry

	mu        sync.Mutex
	listener  net.Listener
	pending   map[net.Conn]struct{}
	stopped   bool
	stopHooks []func()

	stopReq  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	conns    sync.WaitGroup
}

func NewServer(cfg Config, reg *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = NewRegistry(logger)
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = DefaultAcceptTimeout
	}
	if cfg.Conn.Logger == nil {
		cfg.Conn.Logger = logger
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		pending:  make(map[net.Conn]struct{}),
	}
}

func (s *Server) Registry() *Registry { return s.registry }

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// OnStop registers fn to run once when the server stops, after all live
// connections were told to stop.
func (s *Server) OnStop(fn func()) {
	s.mu.Lock()
	s.stopHooks = append(s.stopHooks, fn)
	s.mu.Unlock()
}

func (s *Server) Start() error {
	if s.cfg.Handler == nil {
		return errors.New("session: server has no handler factory")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return ErrServerStopped
	}
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener, aborts pending logins, stops every live
// connection and runs the stop hooks. It is idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down")
		s.stopReq.Store(true)

		s.mu.Lock()
		s.stopped = true
		ln := s.listener
		for c := range s.pending {
			_ = c.Close()
		}
		hooks := s.stopHooks
		s.mu.Unlock()

		if ln != nil {
			ln.Close()
		}
		s.registry.CloseAll()
		for _, fn := range hooks {
			fn()
		}

		s.logger.Info("shutdown complete")
	})
}

// Wait blocks until the accept loop, every login in progress and every
// connection have finished.
func (s *Server) Wait() {
	s.wg.Wait()
	s.conns.Wait()
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for !s.stopReq.Load() {
		if d, ok := ln.(deadliner); ok {
			_ = d.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if s.stopReq.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.logger.Info("client connected", "addr", conn.RemoteAddr().String())

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.negotiate(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.pending[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.pending, conn)
	s.mu.Unlock()
}

func (s *Server) negotiate(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	n := NewNegotiator(conn, s.registry, s.cfg.Login, s.logger)
	res, err := n.Run()
	if err != nil {
		s.logger.Info("login abandoned", "addr", conn.RemoteAddr().String(), "error", err)
		return
	}
	s.handoff(conn, res)
}

func (s *Server) handoff(conn net.Conn, res *LoginResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.registry.Release(res.User)
		_ = conn.Close()
		return
	}

	c := NewConnection(conn, res.Reader, res.User, res.Privilege, s.registry, s.cfg.Conn)
	if err := c.Start(s.cfg.Handler); err != nil {
		s.registry.Release(res.User)
		s.logger.Warn("connection start failed", "user", res.User, "error", err)
		return
	}

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		c.Wait()
	}()
}
