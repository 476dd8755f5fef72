package server

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPASV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ip   net.IP
		port int
		want string
	}{
		{net.IPv4(127, 0, 0, 1), 21212, "127,0,0,1,82,220"},
		{net.IPv4(10, 0, 0, 5), 255, "10,0,0,5,0,255"},
		{net.IPv4(192, 168, 1, 1), 65535, "192,168,1,1,255,255"},
		{net.ParseIP("::1"), 1024, "0,0,0,0,4,0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatPASV(tt.ip, tt.port))
	}
}

func TestParsePORT(t *testing.T) {
	t.Parallel()

	tests := []struct {
		arg  string
		ip   string
		port int
		ok   bool
	}{
		{"127,0,0,1,82,220", "127.0.0.1", 21212, true},
		{" 10, 0, 0, 5, 0, 255 ", "10.0.0.5", 255, true},
		{"1,2,3,4,5", "", 0, false},
		{"1,2,3,4,5,6,7", "", 0, false},
		{"1,2,3,4,5,256", "", 0, false},
		{"1,2,3,-4,5,6", "", 0, false},
		{"a,b,c,d,e,f", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		ip, port, ok := parsePORT(tt.arg)
		require.Equal(t, tt.ok, ok, "parsePORT(%q)", tt.arg)
		if ok {
			assert.Equal(t, tt.ip, ip.String())
			assert.Equal(t, tt.port, port)
		}
	}
}

// portArg renders addr as a PORT argument.
func portArg(addr net.Addr) string {
	a := addr.(*net.TCPAddr)
	ip := a.IP.To4()
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], a.Port>>8, a.Port&0xFF)
}

// busyPortPair returns a listener occupying some loopback port p where p+1
// was free when checked.
func busyPortPair(t *testing.T) (net.Listener, int) {
	t.Helper()
	for range 20 {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		p := ln.Addr().(*net.TCPAddr).Port
		if p < 65535 {
			probe, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p+1)))
			if err == nil {
				probe.Close()
				t.Cleanup(func() { ln.Close() })
				return ln, p
			}
		}
		ln.Close()
	}
	t.Skip("could not find two adjacent loopback ports")
	return nil, 0
}

func TestPassiveSkipsPortInUse(t *testing.T) {
	t.Parallel()
	_, busy := busyPortPair(t)

	s := startServer(t, newTestRoot(t), WithPassivePortRange(busy, busy+1))
	c := dialControl(t, s)
	c.login()

	msg := c.must(227, "PASV")
	assert.True(t, strings.HasPrefix(msg, "Entering Passive Mode (127,0,0,1,"), msg)
	_, port, err := net.SplitHostPort(parsePASVReply(t, msg))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(busy+1), port)
}

func TestPassiveRangeExhausted(t *testing.T) {
	t.Parallel()
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	busy := occupied.Addr().(*net.TCPAddr).Port

	s := startServer(t, newTestRoot(t), WithPassivePortRange(busy, busy))
	c := dialControl(t, s)
	c.login()

	c.must(425, "PASV")
	c.must(425, "LIST")
}

func TestMasqueradeIP(t *testing.T) {
	t.Parallel()
	s := startServer(t, newTestRoot(t), WithMasqueradeIP("203.0.113.7"))
	c := dialControl(t, s)
	c.login()

	msg := c.must(227, "PASV")
	assert.True(t, strings.HasPrefix(msg, "Entering Passive Mode (203,0,113,7,"), msg)
}

func TestActiveMode(t *testing.T) {
	t.Parallel()
	s := startServer(t, newTestRoot(t))
	c := dialControl(t, s)
	c.login()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c.must(200, "PORT %s", portArg(ln.Addr()))
	dc, err := ln.Accept()
	require.NoError(t, err)
	defer dc.Close()
	_ = dc.SetDeadline(time.Now().Add(10 * time.Second))

	c.must(125, "RETR test_file")
	data, err := io.ReadAll(dc)
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(data))
	c.expect(226)

	// The channel was used up by the transfer.
	c.must(425, "RETR test_file")
}

func TestActiveModeErrors(t *testing.T) {
	t.Parallel()
	s := startServer(t, newTestRoot(t))
	c := dialControl(t, s)
	c.login()

	c.must(501, "PORT 1,2,3")
	c.must(501, "PORT 127,0,0,1,300,1")

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	arg := portArg(closed.Addr())
	require.NoError(t, closed.Close())

	c.must(425, "PORT %s", arg)
	c.must(425, "LIST")
}

func TestStrictActiveMode(t *testing.T) {
	t.Parallel()
	s := startServer(t, newTestRoot(t), WithStrictActiveMode(true))
	c := dialControl(t, s)
	c.login()

	assert.Equal(t, "Illegal PORT command.", c.must(500, "PORT 192,0,2,1,4,0"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	c.must(200, "PORT %s", portArg(ln.Addr()))
}

func TestPASVReplacesPreviousChannel(t *testing.T) {
	t.Parallel()
	s := startServer(t, newTestRoot(t))
	c := dialControl(t, s)
	c.login()

	c.must(227, "PASV")
	dc := c.pasv()

	c.must(150, "RETR test_file")
	data, err := io.ReadAll(dc)
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(data))
	c.expect(226)
}
