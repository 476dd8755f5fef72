package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gonzalop/vftpd/internal/ratelimit"
)

// activeDialTimeout bounds the outbound connection made for PORT.
const activeDialTimeout = 10 * time.Second

type dataMode int

const (
	dataNone dataMode = iota
	dataActive
	dataPassive
)

// dataChannel is the negotiated data connection of a session. A channel
// serves exactly one transfer.
type dataChannel struct {
	mode     dataMode
	listener net.Listener
	conn     net.Conn
}

// transfer summarises one use of the data channel.
type transfer struct {
	bytes    int64
	duration time.Duration
	err      error
}

// resetData closes whatever the channel holds and returns it to dataNone.
func (s *session) resetData() {
	if s.data.listener != nil {
		s.server.trackConnection(s.data.listener, false)
		s.data.listener.Close()
	}
	if s.data.conn != nil {
		s.server.trackConnection(s.data.conn, false)
		s.data.conn.Close()
	}
	s.data = dataChannel{}
}

// listenPassive binds the first free port of the passive range on the
// server's host. Ports already in use are skipped; any other failure ends
// the scan.
func (s *session) listenPassive() (net.Listener, error) {
	host, _, err := net.SplitHostPort(s.server.addr)
	if err != nil {
		host = ""
	}

	for port := s.server.pasvMinPort; port <= s.server.pasvMaxPort; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		s.server.logger.Debug("passive_port_in_use",
			"session_id", s.sessionID,
			"port", port,
		)
	}
	return nil, fmt.Errorf("no available ports in range [%d, %d]", s.server.pasvMinPort, s.server.pasvMaxPort)
}

// passiveIP returns the address advertised for ln.
func (s *session) passiveIP(ln net.Listener) net.IP {
	if s.server.masqueradeIP != nil {
		return s.server.masqueradeIP
	}
	var ip net.IP
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		ip = a.IP
	}
	if ip == nil || ip.IsUnspecified() {
		if a, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
			ip = a.IP
		}
	}
	return ip
}

// formatPASV renders the h1,h2,h3,h4,p1,p2 tuple. Addresses without an
// IPv4 form are sent as 0,0,0,0.
func formatPASV(ip net.IP, port int) string {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", v4[0], v4[1], v4[2], v4[3], port>>8, port&0xFF)
}

func (s *session) handlePASV(string) {
	s.resetData()

	ln, err := s.listenPassive()
	if err != nil {
		s.server.logger.Warn("passive_listen_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"error", err,
		)
		s.status(425)
		return
	}
	if !s.server.trackConnection(ln, true) {
		ln.Close()
		s.status(425)
		return
	}
	s.data = dataChannel{mode: dataPassive, listener: ln}

	port := ln.Addr().(*net.TCPAddr).Port
	s.reply(227, "Entering Passive Mode ("+formatPASV(s.passiveIP(ln), port)+").")
}

// parsePORT parses h1,h2,h3,h4,p1,p2 where every field is 0..255.
func parsePORT(arg string) (net.IP, int, bool) {
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		return nil, 0, false
	}
	var b [6]byte
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, 0, false
		}
		b[i] = byte(n)
	}
	return net.IPv4(b[0], b[1], b[2], b[3]), int(b[4])<<8 | int(b[5]), true
}

// validateActiveIP ensures the data connection target matches the control connection source.
// This prevents FTP bounce attacks.
func (s *session) validateActiveIP(ip net.IP) bool {
	remote := net.ParseIP(s.remoteIP)
	return remote != nil && ip.Equal(remote)
}

func (s *session) handlePORT(arg string) {
	ip, port, ok := parsePORT(arg)
	if !ok {
		s.status(501)
		return
	}

	s.resetData()

	if s.server.strictActiveMode && !s.validateActiveIP(ip) {
		s.server.logger.Warn("port_rejected",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"target", ip.String(),
		)
		s.reply(500, "Illegal PORT command.")
		return
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, activeDialTimeout)
	if err != nil {
		s.server.logger.Debug("active_dial_failed",
			"session_id", s.sessionID,
			"addr", addr,
			"error", err,
		)
		s.status(425)
		return
	}
	if !s.server.trackConnection(conn, true) {
		conn.Close()
		s.status(425)
		return
	}
	s.data = dataChannel{mode: dataActive, conn: conn}
	s.reply(200, "PORT command successful.")
}

// withDataConn obtains the negotiated data connection, announces it with
// 150 (passive) or 125 (active) and runs fn on it. The channel is closed
// and reset before withDataConn returns, so the caller's final reply
// always follows the end of the data stream.
//
// If no connection can be obtained, 425 is sent, fn is not run and ok is
// false.
func (s *session) withDataConn(fn func(rw io.ReadWriter) error) (t transfer, ok bool) {
	defer s.resetData()

	switch s.data.mode {
	case dataPassive:
		if dl, isTCP := s.data.listener.(*net.TCPListener); isTCP {
			_ = dl.SetDeadline(time.Now().Add(s.server.passiveTimeout))
		}
		conn, err := s.data.listener.Accept()
		if err != nil {
			s.server.logger.Debug("passive_accept_failed",
				"session_id", s.sessionID,
				"error", err,
			)
			s.status(425)
			return transfer{}, false
		}
		s.server.trackConnection(conn, true)
		s.data.conn = conn
		s.status(150)
	case dataActive:
		s.status(125)
	default:
		s.status(425)
		return transfer{}, false
	}

	cc := &countingConn{
		r: ratelimit.NewReader(s.ctx, s.data.conn, s.server.globalLimiter, s.limiter),
		w: ratelimit.NewWriter(s.ctx, s.data.conn, s.server.globalLimiter, s.limiter),
	}
	start := time.Now()
	err := fn(cc)
	return transfer{bytes: cc.n, duration: time.Since(start), err: err}, true
}

// countingConn counts bytes moved in either direction.
type countingConn struct {
	r io.Reader
	w io.Writer
	n int64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
