package server

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

const (
	// telnetIAC is Interpret As Command
	telnetIAC = 0xFF
	// telnetWILL negotiation command
	telnetWILL = 0xFB
	// telnetWONT negotiation command
	telnetWONT = 0xFC
	// telnetDO negotiation command
	telnetDO = 0xFD
	// telnetDONT negotiation command
	telnetDONT = 0xFE
)

var errLineTooLong = errors.New("command too long")

// controlReader reads command lines from the control connection, dropping
// Telnet negotiation sequences on the way.
type controlReader struct {
	r *bufio.Reader
}

func newControlReader(r io.Reader) *controlReader {
	return &controlReader{r: bufio.NewReader(r)}
}

// readByte returns the next data byte, skipping Telnet commands.
// IAC IAC yields a literal 0xFF.
func (c *controlReader) readByte() (byte, error) {
	for {
		b, err := c.r.ReadByte()
		if err != nil || b != telnetIAC {
			return b, err
		}

		next, err := c.r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch next {
		case telnetIAC:
			return telnetIAC, nil
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			// IAC CMD OPT
			if _, err := c.r.ReadByte(); err != nil {
				return 0, err
			}
		}
	}
}

// readLine returns the next line without its CR/LF terminator. A line
// longer than MaxCommandLength yields errLineTooLong. A final line that is
// not terminated before EOF is returned as is.
func (c *controlReader) readLine() (string, error) {
	var line []byte
	for {
		b, err := c.readByte()
		if err != nil {
			if len(line) > 0 && errors.Is(err, io.EOF) {
				return strings.TrimRight(string(line), "\r"), nil
			}
			return "", err
		}
		if b == '\n' {
			return strings.TrimRight(string(line), "\r"), nil
		}
		if len(line) >= MaxCommandLength {
			return "", errLineTooLong
		}
		line = append(line, b)
	}
}
