package server

import (
	"fmt"
	"io"
	"strings"

	"github.com/gonzalop/vftpd/vfs"
)

// listTimeFormat is the timestamp column of LIST lines.
const listTimeFormat = "Jan 02 15:04"

// listOptions drops leading "-x" style option tokens from a LIST argument.
func listOptions(arg string) string {
	arg = strings.TrimSpace(arg)
	for strings.HasPrefix(arg, "-") {
		_, rest, _ := strings.Cut(arg, " ")
		arg = strings.TrimSpace(rest)
	}
	return arg
}

// listNodes selects the nodes named by a LIST or NLST argument: the
// current directory, a directory, or a pattern inside a directory. A
// pattern whose directory does not resolve selects nothing.
func (s *session) listNodes(target string) ([]vfs.Node, error) {
	if target == "" {
		return s.cwd.List("")
	}
	if dir, ok := s.resolveDir(target); ok {
		return dir.List("")
	}
	dirPath, pattern := splitParent(target)
	dir, ok := s.resolveDir(dirPath)
	if !ok {
		return nil, nil
	}
	return dir.List(pattern)
}

// formatListLine renders n as a Unix style listing line. Times are UTC,
// like MDTM.
func formatListLine(n vfs.Node) string {
	perm := "-rw-rw-rw-"
	if n.IsDir() {
		perm = "drw-rw-rw-"
	}
	return fmt.Sprintf("%s 1 ftp ftp %d %s %s\r\n",
		perm, n.Size(), n.ModTime().UTC().Format(listTimeFormat), n.Name())
}

func (s *session) handleLIST(arg string) {
	s.sendListing("LIST", listOptions(arg), formatListLine)
}

func (s *session) handleNLST(arg string) {
	s.sendListing("NLST", listOptions(arg), func(n vfs.Node) string {
		return n.Name() + "\r\n"
	})
}

func (s *session) sendListing(op, target string, format func(vfs.Node) string) {
	t, ok := s.withDataConn(func(rw io.ReadWriter) error {
		nodes, err := s.listNodes(target)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if _, err := io.WriteString(rw, format(n)); err != nil {
				return err
			}
		}
		return nil
	})
	if !ok {
		return
	}
	if t.err != nil {
		s.server.logger.Warn("listing_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"cmd", op,
			"path", target,
			"error", t.err,
		)
	}
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer(op, t.bytes, t.duration)
	}
	s.status(226)
}

func (s *session) handleRETR(p string) {
	file, ok := s.resolveFile(p)
	if !ok {
		s.status(550)
		return
	}

	t, ok := s.withDataConn(func(rw io.ReadWriter) error {
		return file.Retrieve(rw)
	})
	if !ok {
		return
	}
	if t.err != nil {
		s.server.logger.Warn("retrieve_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"path", s.pathOf(file),
			"error", t.err,
		)
		s.reply(550, "Failed to open file.")
		return
	}

	s.logTransfer("RETR", s.pathOf(file), t)
	s.reply(226, "Transfer complete.")
}

func (s *session) handleSTOR(p string) {
	if _, exists := s.resolve(p); exists {
		s.status(553)
		return
	}
	parentPath, name := splitParent(p)
	parent, ok := s.resolveDir(parentPath)
	if !ok {
		s.status(550)
		return
	}
	file, err := parent.Create(name, false)
	if err != nil {
		s.server.logger.Debug("create_failed",
			"session_id", s.sessionID,
			"path", p,
			"error", err,
		)
		s.status(550)
		return
	}

	t, ok := s.withDataConn(func(rw io.ReadWriter) error {
		return file.Store(rw)
	})
	if !ok {
		return
	}

	// The reply is 226 even when the provider rejected the content.
	if t.err != nil {
		s.server.logger.Warn("store_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"path", s.pathOf(file),
			"error", t.err,
		)
	} else {
		s.logTransfer("STOR", s.pathOf(file), t)
	}
	s.reply(226, "Transfer complete.")
}

// logTransfer logs a completed transfer and feeds the metrics collector.
func (s *session) logTransfer(op, path string, t transfer) {
	// Calculate throughput in MB/s
	throughputMBps := float64(0)
	if t.duration.Seconds() > 0 {
		throughputMBps = float64(t.bytes) / t.duration.Seconds() / 1024 / 1024
	}

	s.server.logger.Info("transfer_complete",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"operation", op,
		"path", path,
		"bytes", t.bytes,
		"duration_ms", t.duration.Milliseconds(),
		"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
	)

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer(op, t.bytes, t.duration)
	}
}
