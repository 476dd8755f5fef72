package server

import (
	"fmt"
	"strconv"
)

func (s *session) handlePWD(string) {
	s.reply(257, fmt.Sprintf("\"%s\" is the current directory", quotePath(s.pathOf(s.cwd))))
}

func (s *session) handleCWD(p string) {
	if p == "." {
		s.status(250)
		return
	}
	dir, ok := s.resolveDir(p)
	if !ok {
		s.status(550)
		return
	}
	s.cwd = dir
	s.status(250)
}

func (s *session) handleCDUP(string) {
	s.cwd = parentOf(s.cwd, s.server.root)
	s.status(250)
}

func (s *session) handleMKD(p string) {
	if _, exists := s.resolve(p); exists {
		s.status(521)
		return
	}
	parentPath, name := splitParent(p)
	parent, ok := s.resolveDir(parentPath)
	if !ok {
		s.status(550)
		return
	}
	dir, err := parent.Create(name, true)
	if err != nil {
		s.server.logger.Debug("mkdir_failed",
			"session_id", s.sessionID,
			"path", p,
			"error", err,
		)
		s.status(550)
		return
	}

	created := s.pathOf(dir)
	// Security audit: directory created
	s.server.logger.Info("directory_created",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", created,
	)
	s.reply(257, fmt.Sprintf("\"%s\" directory created.", quotePath(created)))
}

func (s *session) handleRMD(p string) {
	dir, ok := s.resolveDir(p)
	if !ok {
		s.status(550)
		return
	}
	removed := s.pathOf(dir)
	if err := dir.Delete(true); err != nil {
		s.server.logger.Debug("rmdir_failed",
			"session_id", s.sessionID,
			"path", removed,
			"error", err,
		)
		s.status(550)
		return
	}
	// Security audit: directory removed
	s.server.logger.Info("directory_removed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", removed,
	)
	s.status(250)
}

func (s *session) handleDELE(p string) {
	file, ok := s.resolveFile(p)
	if !ok {
		s.status(550)
		return
	}
	deleted := s.pathOf(file)
	if err := file.Delete(false); err != nil {
		s.server.logger.Debug("delete_failed",
			"session_id", s.sessionID,
			"path", deleted,
			"error", err,
		)
		s.status(550)
		return
	}
	// Security audit: file deleted
	s.server.logger.Info("file_deleted",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", deleted,
	)
	s.status(250)
}

func (s *session) handleRNFR(p string) {
	file, ok := s.resolveFile(p)
	if !ok {
		s.status(550)
		return
	}
	s.renameFrom = file
	s.status(350)
}

func (s *session) handleRNTO(newName string) {
	if s.renameFrom == nil {
		s.status(550)
		return
	}
	from := s.renameFrom
	s.renameFrom = nil

	oldPath := s.pathOf(from)
	if err := from.Rename(newName); err != nil {
		s.server.logger.Debug("rename_failed",
			"session_id", s.sessionID,
			"path", oldPath,
			"new_name", newName,
			"error", err,
		)
		s.status(550)
		return
	}
	s.server.logger.Info("file_renamed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", oldPath,
		"new_name", newName,
	)
	s.status(250)
}

func (s *session) handleSIZE(p string) {
	file, ok := s.resolveFile(p)
	if !ok {
		s.status(550)
		return
	}
	s.reply(213, strconv.FormatInt(file.Size(), 10))
}

// mdtmFormat is the YYYYMMDDHHMMSS timestamp used by MDTM, always in UTC.
const mdtmFormat = "20060102150405"

func (s *session) handleMDTM(p string) {
	file, ok := s.resolveFile(p)
	if !ok {
		s.status(550)
		return
	}
	s.reply(213, file.ModTime().UTC().Format(mdtmFormat))
}
