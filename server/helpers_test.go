package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gonzalop/vftpd/vfs"
	"github.com/gonzalop/vftpd/vfs/memfs"
)

var testModTime = time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)

// newTestRoot returns:
//
//	/test_file        "hello world!"
//	/sub/Nested.TXT   "nested"
func newTestRoot(t testing.TB) *memfs.Dir {
	t.Helper()
	root := memfs.NewRoot()
	_, err := root.AddFile("test_file", []byte("hello world!"), testModTime)
	require.NoError(t, err)
	sub, err := root.AddDir("sub")
	require.NoError(t, err)
	_, err = sub.AddFile("Nested.TXT", []byte("nested"), testModTime)
	require.NoError(t, err)
	return root
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startServer runs a server on a random loopback port until the test ends.
func startServer(t *testing.T, root vfs.Node, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithRoot(root), WithLogger(discardLogger())}, opts...)
	s, err := NewServer("127.0.0.1:0", opts...)
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		<-done
	})
	return s
}

// testConn is a raw control connection that exposes exact reply codes.
type testConn struct {
	*textproto.Conn
	t  *testing.T
	nc net.Conn
}

func dialControl(t *testing.T, s *Server) *testConn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", s.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	_ = nc.SetDeadline(time.Now().Add(15 * time.Second))

	c := &testConn{Conn: textproto.NewConn(nc), t: t, nc: nc}
	t.Cleanup(func() { c.Close() })
	c.expect(220)
	return c
}

func (c *testConn) read() (int, string) {
	c.t.Helper()
	code, msg, err := c.ReadResponse(0)
	require.NoError(c.t, err)
	return code, msg
}

func (c *testConn) expect(code int) string {
	c.t.Helper()
	got, msg := c.read()
	require.Equal(c.t, code, got, "reply text: %q", msg)
	return msg
}

func (c *testConn) cmd(format string, args ...any) (int, string) {
	c.t.Helper()
	_, err := c.Cmd(format, args...)
	require.NoError(c.t, err)
	return c.read()
}

func (c *testConn) must(code int, format string, args ...any) string {
	c.t.Helper()
	got, msg := c.cmd(format, args...)
	require.Equal(c.t, code, got, "%s: reply text %q", format, msg)
	return msg
}

func (c *testConn) login() {
	c.t.Helper()
	c.must(331, "USER tester")
	c.must(230, "PASS secret")
}

// pasv negotiates passive mode and connects the data channel.
func (c *testConn) pasv() net.Conn {
	c.t.Helper()
	msg := c.must(227, "PASV")
	addr := parsePASVReply(c.t, msg)
	dc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(c.t, err)
	_ = dc.SetDeadline(time.Now().Add(10 * time.Second))
	c.t.Cleanup(func() { dc.Close() })
	return dc
}

// retrieve runs a data command over a fresh passive channel and returns
// what the server sent on it.
func (c *testConn) retrieve(format string, args ...any) string {
	c.t.Helper()
	dc := c.pasv()
	c.must(150, format, args...)
	data, err := io.ReadAll(dc)
	require.NoError(c.t, err)
	c.expect(226)
	return string(data)
}

func parsePASVReply(t *testing.T, msg string) string {
	t.Helper()
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	require.True(t, start >= 0 && end > start, "malformed PASV reply %q", msg)

	parts := strings.Split(msg[start+1:end], ",")
	require.Len(t, parts, 6)
	p1, err := strconv.Atoi(parts[4])
	require.NoError(t, err)
	p2, err := strconv.Atoi(parts[5])
	require.NoError(t, err)
	return net.JoinHostPort(strings.Join(parts[:4], "."), strconv.Itoa(p1<<8|p2))
}

// faultyDir is a directory of faultyFile children.
type faultyDir struct {
	children []vfs.Node
}

func (d *faultyDir) Name() string { return "/" }
func (d *faultyDir) Size() int64 { return 0 }
func (d *faultyDir) ModTime() time.Time { return testModTime }
func (d *faultyDir) IsDir() bool { return true }
func (d *faultyDir) Parent(root vfs.Node) vfs.Node { return root }
func (d *faultyDir) List(filter string) ([]vfs.Node, error) { return vfs.Filter(d.children, filter), nil }
func (d *faultyDir) Create(name string, _ bool) (vfs.Node, error) {
	f := &faultyFile{name: name, storeErr: errors.New("disk full")}
	d.children = append(d.children, f)
	return f, nil
}
func (d *faultyDir) Delete(bool) error { return vfs.ErrRoot }
func (d *faultyDir) Retrieve(io.Writer) error { return vfs.ErrIsDir }
func (d *faultyDir) Store(io.Reader) error { return vfs.ErrIsDir }
func (d *faultyDir) Rename(string) error { return vfs.ErrRoot }

// faultyFile fails or panics in its content operations.
type faultyFile struct {
	name        string
	retrieveErr error
	storeErr    error
	panicValue  any
}

func (f *faultyFile) Name() string { return f.name }
func (f *faultyFile) Size() int64 { return 0 }
func (f *faultyFile) ModTime() time.Time { return testModTime }
func (f *faultyFile) IsDir() bool { return false }
func (f *faultyFile) Parent(root vfs.Node) vfs.Node { return root }
func (f *faultyFile) List(string) ([]vfs.Node, error) { return nil, vfs.ErrNotDir }
func (f *faultyFile) Create(string, bool) (vfs.Node, error) { return nil, vfs.ErrNotDir }
func (f *faultyFile) Delete(bool) error { return errors.New("locked") }
func (f *faultyFile) Rename(string) error { return errors.New("locked") }

func (f *faultyFile) Retrieve(io.Writer) error {
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	return f.retrieveErr
}

func (f *faultyFile) Store(r io.Reader) error {
	_, _ = io.Copy(io.Discard, r)
	return f.storeErr
}
