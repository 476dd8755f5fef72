package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalop/vftpd/internal/ratelimit"
	"github.com/gonzalop/vftpd/vfs"
)

// session represents an FTP client session.
//
// A session is owned by the goroutine serving its control connection.
// Commands are processed strictly one at a time, so no field needs locking.
type session struct {
	server *Server
	conn   net.Conn
	reader *controlReader
	writer *bufio.Writer

	// ctx is canceled when the session ends; it bounds throttled transfers.
	ctx    context.Context
	cancel context.CancelFunc

	// Session tracking
	sessionID string
	remoteIP  string

	// State
	authenticated bool
	user          string
	cwd           vfs.Node
	renameFrom    vfs.Node // For RNFR/RNTO
	data          dataChannel
	limiter       *ratelimit.Limiter
	lastCode      int
	quit          bool
}

// newSession creates a new session for an accepted control connection.
func newSession(server *Server, conn net.Conn, remoteIP string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		server:    server,
		conn:      conn,
		reader:    newControlReader(conn),
		writer:    bufio.NewWriter(conn),
		ctx:       ctx,
		cancel:    cancel,
		sessionID: uuid.NewString(),
		remoteIP:  remoteIP,
		cwd:       server.root,
		limiter:   ratelimit.New(server.bandwidthLimitPerSession),
	}
}

// serve runs the command loop until the client quits or the connection
// fails. Suspension points are the line read, the passive accept and the
// transfer I/O; there is no background reader.
func (s *session) serve() {
	defer s.close()

	s.sendWelcome()

	s.server.logger.Info("session_started",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)

	for !s.quit {
		if s.server.maxIdleTime > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
		}

		line, err := s.reader.readLine()
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				s.reply(500, "Command line too long.")
				return
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.server.logger.Warn("read_error",
					"session_id", s.sessionID,
					"remote_ip", s.remoteIP,
					"user", s.user,
					"error", err,
				)
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Time{})
		s.handleCommand(line)
	}
}

func (s *session) sendWelcome() {
	msg := s.server.welcomeMessage
	switch {
	case strings.HasPrefix(msg, "220 "):
		s.reply(220, msg[4:])
	case strings.HasPrefix(msg, "220"):
		s.reply(220, msg[3:])
	default:
		s.reply(220, msg)
	}
}

// close releases the data channel and the control connection.
func (s *session) close() {
	s.cancel()
	s.resetData()
	s.conn.Close()

	s.server.logger.Info("session_closed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
}

// handleCommand parses and dispatches a command.
func (s *session) handleCommand(line string) {
	verb, arg, _ := strings.Cut(line, " ")
	cmd := strings.ToUpper(verb)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command_received",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"cmd", cmd,
		"arg", logArg,
	)

	start := time.Now()
	h, ok := commandHandlers[cmd]
	switch {
	case !ok:
		cmd = "UNKNOWN"
		s.status(500)
	case h.needsAuth && !s.authenticated:
		s.status(530)
	default:
		h.fn(s, arg)
	}

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordCommand(cmd, s.lastCode < 400, time.Since(start))
	}
}

// reply sends a single-line response to the client. An empty message
// sends the bare code.
func (s *session) reply(code int, message string) {
	s.lastCode = code
	if message == "" {
		fmt.Fprintf(s.writer, "%d\r\n", code)
	} else {
		fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	}
	if err := s.writer.Flush(); err != nil {
		s.server.logger.Debug("reply_failed",
			"session_id", s.sessionID,
			"code", code,
			"error", err,
		)
	}
}

// status sends code with its canonical text.
func (s *session) status(code int) {
	s.reply(code, StatusText(code))
}

func (s *session) handleUSER(user string) {
	s.user = user
	s.authenticated = false
	s.status(331)
}

func (s *session) handlePASS(pass string) {
	if !s.server.authenticate(s.user, pass) {
		s.authenticated = false
		// Security audit: failed authentication
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
		)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.user)
		}
		s.status(530)
		return
	}

	s.authenticated = true
	// Security audit: successful authentication
	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	s.status(230)
}

func (s *session) handleQUIT(string) {
	s.status(200)
	s.quit = true
}

func (s *session) handleNOOP(string) {
	s.status(200)
}

func (s *session) handleSYST(string) {
	s.status(215)
}

// handleTYPE accepts every representation type; data is always sent as is.
func (s *session) handleTYPE(string) {
	s.reply(200, "Type set.")
}
