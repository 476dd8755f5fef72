package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gonzalop/vftpd/internal/ratelimit"
	"github.com/gonzalop/vftpd/vfs"
)

const (
	// DefaultPassiveMinPort is the low end of the default passive range.
	DefaultPassiveMinPort = 1024
	// DefaultPassiveMaxPort is the high end of the default passive range.
	DefaultPassiveMaxPort = 65535
	// DefaultPassiveTimeout is how long a passive listener waits for the
	// client to connect.
	DefaultPassiveTimeout = 60 * time.Second
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithRoot sets the root of the virtual tree served to every client.
// This option is required and can only be set once.
//
// Example:
//
//	root := memfs.NewRoot()
//	s, _ := server.NewServer(":21", server.WithRoot(root))
func WithRoot(root vfs.Node) Option {
	return func(s *Server) error {
		if root == nil {
			return fmt.Errorf("root node is nil")
		}
		if s.root != nil {
			return fmt.Errorf("root already set")
		}
		s.root = root
		return nil
	}
}

// WithAuthenticator sets the predicate that validates USER/PASS pairs.
// If not specified, every login is accepted.
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithRoot(root),
//	    server.WithAuthenticator(func(user, pass string) bool {
//	        return user == "admin" && pass == "secret"
//	    }),
//	)
func WithAuthenticator(fn func(user, pass string) bool) Option {
	return func(s *Server) error {
		if fn == nil {
			return fmt.Errorf("authenticator is nil")
		}
		s.authenticate = fn
		return nil
	}
}

// WithMasqueradeIP sets the IPv4 address advertised in PASV replies.
// Use it when the server sits behind NAT.
func WithMasqueradeIP(ip string) Option {
	return func(s *Server) error {
		parsed := net.ParseIP(ip).To4()
		if parsed == nil {
			return fmt.Errorf("invalid masquerade IPv4 address: %q", ip)
		}
		s.masqueradeIP = parsed
		return nil
	}
}

// WithPassivePortRange restricts the ports used for passive listeners.
// The range is scanned from min upward; ports already in use are skipped.
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithRoot(root),
//	    server.WithPassivePortRange(30000, 30100),
//	)
func WithPassivePortRange(min, max int) Option {
	return func(s *Server) error {
		if min < 1 || max > 65535 || min > max {
			return fmt.Errorf("invalid passive port range %d-%d", min, max)
		}
		s.pasvMinPort = min
		s.pasvMaxPort = max
		return nil
	}
}

// ParsePortRange parses a passive range in "min-max" form, for example
// "30000-32000". A single port "n" is the range n-n.
func ParsePortRange(rng string) (min, max int, err error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(rng), "-")
	if !found {
		hi = lo
	}
	min, err = strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", rng, err)
	}
	max, err = strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", rng, err)
	}
	if min < 1 || max > 65535 || min > max {
		return 0, 0, fmt.Errorf("invalid port range %q", rng)
	}
	return min, max, nil
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithRoot(root),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithPassiveTimeout sets how long a passive listener waits for the client
// to connect before the transfer fails with 425. Defaults to 60 seconds.
func WithPassiveTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("passive timeout must be positive")
		}
		s.passiveTimeout = d
		return nil
	}
}

// WithWelcomeMessage sets the banner sent when a client connects.
// A message without a leading "220" is prefixed with it.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

// WithMaxIdleTime sets the maximum time a connection can be idle before being closed.
// If not specified, defaults to 5 minutes. Zero disables the limit.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous connections.
// If 0, there is no limit. This is the default.
//
// When the limit is reached, new connections receive a "421 Too many users" response.
func WithMaxConnections(max int) Option {
	return func(s *Server) error {
		if max < 0 {
			return fmt.Errorf("max connections must not be negative")
		}
		s.maxConnections = max
		return nil
	}
}

// WithMetricsCollector sets the collector notified of commands, transfers,
// connections and logins. See the metrics package for a Prometheus one.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = mc
		return nil
	}
}

// WithBandwidthLimit caps data channel throughput in bytes per second.
// global is shared by all sessions, perSession applies to each session
// separately. Zero means unlimited; when both are set the stricter wins.
func WithBandwidthLimit(global, perSession int64) Option {
	return func(s *Server) error {
		s.globalLimiter = ratelimit.New(global)
		s.bandwidthLimitPerSession = perSession
		return nil
	}
}

// WithFailFast controls what happens when a provider panics. By default the
// panic is logged and only the affected session ends. With fail-fast the
// panic is re-raised after the session is cleaned up, stopping the process.
func WithFailFast(enable bool) Option {
	return func(s *Server) error {
		s.failFast = enable
		return nil
	}
}

// WithStrictActiveMode rejects PORT commands whose host is not the client's
// own address, preventing FTP bounce attacks.
func WithStrictActiveMode(enable bool) Option {
	return func(s *Server) error {
		s.strictActiveMode = enable
		return nil
	}
}
