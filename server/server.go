package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/vftpd/internal/ratelimit"
	"github.com/gonzalop/vftpd/vfs"
)

// Server is the FTP server.
//
// It handles listening for incoming connections and dispatching them to
// client sessions. Each connection runs in its own goroutine.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Bind with Listen(), or let ListenAndServe() do it
//  3. Serve() runs the accept loop until Close() or Shutdown()
//  4. Shutdown() also drops every open control and data connection
//
// Basic example:
//
//	s, err := server.NewServer(":2121", server.WithRoot(memfs.NewRoot()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":21").
	addr string

	// root is the top of the virtual tree. Fixed for the server lifetime.
	root vfs.Node

	// authenticate decides whether a USER/PASS pair may log in.
	authenticate func(user, pass string) bool

	// masqueradeIP, if set, is advertised in PASV replies instead of the
	// listener address.
	masqueradeIP net.IP

	// pasvMinPort and pasvMaxPort bound the passive listener scan.
	pasvMinPort int
	pasvMaxPort int

	logger *slog.Logger

	// passiveTimeout bounds the wait for the client to connect to a
	// passive listener.
	passiveTimeout time.Duration

	// welcomeMessage is the banner sent to clients on connection.
	// Defaults to "220 FTP Server Ready".
	welcomeMessage string

	// maxIdleTime is the maximum time a connection can be idle before being closed.
	// Defaults to 5 minutes.
	maxIdleTime time.Duration

	// maxConnections is the maximum number of simultaneous connections.
	// If 0, there is no limit.
	maxConnections int

	metricsCollector MetricsCollector

	// globalLimiter is shared by every session. bandwidthLimitPerSession
	// creates a fresh limiter for each one.
	globalLimiter            *ratelimit.Limiter
	bandwidthLimitPerSession int64

	// failFast re-raises provider panics instead of ending only the session.
	failFast bool

	// strictActiveMode rejects PORT targets other than the control peer.
	strictActiveMode bool

	// activeConns tracks the number of currently active sessions.
	activeConns atomic.Int32

	// accepting is true while the accept loop runs.
	accepting atomic.Bool

	// sessions counts running session goroutines for Shutdown.
	sessions sync.WaitGroup

	// Shutdown handling
	mu         sync.Mutex
	listener   net.Listener
	boundAddr  net.Addr
	conns      map[io.Closer]struct{}
	closed     atomic.Bool
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after a call to
// Close or Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port".
// The root node must be provided via the WithRoot option.
//
// Default values:
//   - Authenticator: accept every user
//   - Passive port range: 1024-65535
//   - Passive timeout: 60 seconds
//   - Logger: slog.Default()
//   - MaxIdleTime: 5 minutes
//   - MaxConnections: 0 (unlimited)
//
// With restricted passive ports and credentials:
//
//	s, _ := server.NewServer(":21",
//	    server.WithRoot(root),
//	    server.WithPassivePortRange(30000, 30100),
//	    server.WithAuthenticator(checkPassword),
//	)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		authenticate:   func(string, string) bool { return true },
		pasvMinPort:    DefaultPassiveMinPort,
		pasvMaxPort:    DefaultPassiveMaxPort,
		logger:         slog.Default(),
		passiveTimeout: DefaultPassiveTimeout,
		welcomeMessage: "220 FTP Server Ready",
		maxIdleTime:    5 * time.Minute,
		conns:          make(map[io.Closer]struct{}),
	}

	// Apply options
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// Validate required fields
	if s.root == nil {
		return nil, fmt.Errorf("root node is required (use WithRoot option)")
	}
	if !s.root.IsDir() {
		return nil, fmt.Errorf("root node %q is not a directory", s.root.Name())
	}

	return s, nil
}

// Listen binds the configured address without accepting connections yet.
// The error wraps the underlying system error, so callers can test for
// syscall.EADDRINUSE with errors.Is.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("already listening on %s", s.listener.Addr())
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.boundAddr = ln.Addr()
	return nil
}

// Addr returns the bound address, or nil before Listen or Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// IsAccepting reports whether the accept loop is running.
func (s *Server) IsAccepting() bool {
	return s.accepting.Load()
}

// ListenAndServe binds the configured address, unless Listen was already
// called, and serves on it. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	s.logger.Info("ftp_server_listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Close stops accepting new connections. Sessions already running are
// left alone; use Shutdown to drop them too.
func (s *Server) Close() error {
	s.closed.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		return ln.Close()
	}
	return nil
}

// Shutdown stops the server.
//
// It closes the listener and immediately closes all active control and data
// connections, then waits for the session goroutines to exit or for ctx to
// be done, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.inShutdown.Store(true)
	s.mu.Unlock()
	err := s.Close()

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[io.Closer]struct{})
	s.mu.Unlock()

	for c := range maps.Keys(conns) {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve accepts incoming connections on the listener l.
// It blocks until the listener is closed or an error occurs.
//
// Each connection is handled in a separate goroutine. The server enforces
// the connection limit (if configured) and idle timeouts.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.boundAddr = l.Addr()
	s.mu.Unlock()

	s.accepting.Store(true)
	defer func() {
		s.accepting.Store(false)
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.logger.Error("accept_error", "error", err)
			continue
		}

		if !s.startConnection(conn) {
			conn.Close()
			continue
		}
		go s.handleConnection(conn)
	}
}

// startConnection registers conn as a running session. It returns false
// once Shutdown has begun, so no session is added while Shutdown waits.
func (s *Server) startConnection(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inShutdown.Load() {
		return false
	}
	s.sessions.Add(1)
	s.conns[conn] = struct{}{}
	return true
}

// handleConnection handles a client connection registered by
// startConnection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.sessions.Done()
	defer s.trackConnection(conn, false)

	s.handleSession(conn)
}

// trackConnection registers or forgets a closer that Shutdown must close.
// It returns false if we're shutting down.
func (s *Server) trackConnection(c io.Closer, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.inShutdown.Load() {
			return false
		}
		s.conns[c] = struct{}{}
		return true
	}
	delete(s.conns, c)
	return true
}

// handleSession runs the protocol for one accepted connection.
func (s *Server) handleSession(conn net.Conn) {
	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		ip = conn.RemoteAddr().String()
	}

	// Check global connection limit. The slot is taken before the check so
	// concurrent accepts cannot overshoot it.
	n := s.activeConns.Add(1)
	defer s.activeConns.Add(-1)
	if s.maxConnections > 0 && n > int32(s.maxConnections) {
		s.logger.Warn("connection_rejected",
			"remote_ip", ip,
			"reason", "global_limit_reached",
			"limit", s.maxConnections,
		)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordConnection(false, "global_limit_reached")
		}
		fmt.Fprintf(conn, "421 %s\r\n", StatusText(421))
		conn.Close()
		return
	}
	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	sess := newSession(s, conn, ip)
	defer s.recoverSession(sess)
	sess.serve()
}

// recoverSession contains a panic raised while serving sess. The session
// has already been closed by its own deferred cleanup when this runs.
func (s *Server) recoverSession(sess *session) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Error("session_panic",
		"session_id", sess.sessionID,
		"remote_ip", sess.remoteIP,
		"user", sess.user,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()),
	)
	if s.failFast {
		panic(r)
	}
}
