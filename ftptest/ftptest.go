// Package ftptest runs throwaway FTP servers for tests and small tools.
//
// Build binds a server on the first free port of a list, and Runner starts
// and stops it with bounded waits:
//
//	r, err := ftptest.Build("127.0.0.1", ftptest.DefaultPorts,
//	    server.WithRoot(memfs.NewRoot()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := r.Start(2 * time.Second); err != nil {
//	    return err
//	}
//	defer r.Shutdown(2 * time.Second)
//
// Tests can use New, which does all of the above on a random port and
// registers the shutdown with t.Cleanup.
package ftptest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gonzalop/vftpd/server"
	"github.com/gonzalop/vftpd/vfs"
)

// DefaultPorts is the port list Build callers use when they have no
// preference.
var DefaultPorts = PortRange(21212, 21232)

var (
	// ErrStartTimeout is returned by Start when the accept loop is not
	// running before the timeout.
	ErrStartTimeout = errors.New("ftptest: server did not start before timeout")
	// ErrShutdownTimeout is returned by Shutdown when the server has not
	// stopped before the timeout.
	ErrShutdownTimeout = errors.New("ftptest: server did not shut down before timeout")
	// ErrNoFreePort is returned by Build when every candidate port is taken.
	ErrNoFreePort = errors.New("ftptest: no free port")
)

// pollInterval is how often Start and Shutdown check the server state.
const pollInterval = 10 * time.Millisecond

// PortRange returns the ports lo through hi inclusive.
func PortRange(lo, hi int) []int {
	if hi < lo {
		return nil
	}
	ports := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		ports = append(ports, p)
	}
	return ports
}

// Build creates a server on host and binds it to the first port in ports
// that is not already in use. Any other bind failure, or an invalid
// option, stops the scan.
func Build(host string, ports []int, opts ...server.Option) (*Runner, error) {
	for _, port := range ports {
		s, err := server.NewServer(net.JoinHostPort(host, strconv.Itoa(port)), opts...)
		if err != nil {
			return nil, err
		}
		err = s.Listen()
		if errors.Is(err, syscall.EADDRINUSE) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return NewRunner(s), nil
	}
	return nil, fmt.Errorf("%w on %s among %d candidates", ErrNoFreePort, host, len(ports))
}

// New starts a server over root on a random loopback port and stops it
// when the test ends.
func New(tb testing.TB, root vfs.Node, opts ...server.Option) *Runner {
	tb.Helper()

	r, err := Build("127.0.0.1", []int{0}, append([]server.Option{server.WithRoot(root)}, opts...)...)
	if err != nil {
		tb.Fatalf("ftptest: build failed: %v", err)
	}
	if err := r.Start(5 * time.Second); err != nil {
		tb.Fatalf("ftptest: %v", err)
	}
	tb.Cleanup(func() {
		if err := r.Shutdown(5 * time.Second); err != nil {
			tb.Errorf("ftptest: %v", err)
		}
	})
	return r
}

// Runner drives a server's accept loop in a background goroutine.
type Runner struct {
	// Server is the wrapped server.
	Server *server.Server

	serve     func() error
	accepting func() bool
	shutdown  func(context.Context) error

	mu   sync.Mutex
	done chan error // nil until Start
	err  error
}

// NewRunner wraps s. The server may already be bound with Listen.
func NewRunner(s *server.Server) *Runner {
	return &Runner{
		Server:    s,
		serve:     s.ListenAndServe,
		accepting: s.IsAccepting,
		shutdown:  s.Shutdown,
	}
}

// Addr returns the address the server is bound to, or "" before it is
// bound.
func (r *Runner) Addr() string {
	if a := r.Server.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Port returns the bound TCP port, or 0 before the server is bound.
func (r *Runner) Port() int {
	if a, ok := r.Server.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Running reports whether the accept loop is running.
func (r *Runner) Running() bool {
	return r.accepting()
}

// Start launches the accept loop and waits until it runs. Calling Start on
// a started Runner does nothing.
func (r *Runner) Start(timeout time.Duration) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return nil
	}
	done := make(chan error, 1)
	r.done = done
	r.mu.Unlock()

	go func() {
		err := r.serve()
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		done <- err
		close(done)
	}()

	deadline := time.Now().Add(timeout)
	for !r.accepting() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w (%s)", ErrStartTimeout, timeout)
		}
		select {
		case err := <-done:
			if err == nil || errors.Is(err, server.ErrServerClosed) {
				err = server.ErrServerClosed
			}
			return fmt.Errorf("ftptest: server stopped during start: %w", err)
		case <-time.After(pollInterval):
		}
	}
	return nil
}

// Shutdown stops the server, dropping its sessions, and waits for the
// accept loop to exit. A Runner that was never started is just closed.
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w (%s)", ErrShutdownTimeout, timeout)
		}
		return err
	}
	if done == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("%w (%s)", ErrShutdownTimeout, timeout)
	}
	for r.accepting() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (%s)", ErrShutdownTimeout, timeout)
		case <-time.After(pollInterval):
		}
	}
	return nil
}

// Wait blocks until the accept loop exits and returns its error. A clean
// stop through Close or Shutdown returns nil, as does a Runner that was
// never started.
func (r *Runner) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	<-done
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if errors.Is(err, server.ErrServerClosed) {
		return nil
	}
	return err
}
