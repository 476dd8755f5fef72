package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// Config holds everything the daemon needs. It can be read from a YAML
// file; command line flags take precedence over the file.
type Config struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	PublicIP     string `yaml:"public_ip"`
	PassivePorts string `yaml:"passive_ports"`

	Backend  string `yaml:"backend"`
	RootDir  string `yaml:"root_dir"`
	BoltPath string `yaml:"bolt_path"`

	// User and Pass describe a single account. Users adds more; an empty
	// password accepts any password for that user. With no account at
	// all every login is accepted.
	User  string            `yaml:"user"`
	Pass  string            `yaml:"pass"`
	Users map[string]string `yaml:"users"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`

	BandwidthLimit        int64         `yaml:"bandwidth_limit"`
	SessionBandwidthLimit int64         `yaml:"session_bandwidth_limit"`
	MaxConnections        int           `yaml:"max_connections"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	StartTimeout          time.Duration `yaml:"start_timeout"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig is the configuration used when neither a file nor flags
// say otherwise.
var DefaultConfig = Config{
	Host:            "localhost",
	Port:            2121,
	PassivePorts:    "30000-32000",
	Backend:         "fs",
	RootDir:         ".",
	BoltPath:        "~/.vftpd.db",
	LogLevel:        "info",
	LogFormat:       "text",
	IdleTimeout:     5 * time.Minute,
	StartTimeout:    2 * time.Second,
	ShutdownTimeout: 2 * time.Second,
}

// addFlags registers the command line flags, storing their values in opt.
func addFlags(flags *pflag.FlagSet, opt *Config) {
	flags.StringVar(&opt.Host, "host", opt.Host, "IP address or host name to bind to.")
	flags.IntVarP(&opt.Port, "port", "p", opt.Port, "Port to listen on for control connections.")
	flags.StringVar(&opt.PublicIP, "public-ip", opt.PublicIP, "Public IPv4 address to advertise for passive connections.")
	flags.StringVar(&opt.PassivePorts, "passive-port", opt.PassivePorts, "Passive port range to use, as min-max.")
	flags.StringVar(&opt.Backend, "backend", opt.Backend, "Content backend: fs, memory or bolt.")
	flags.StringVarP(&opt.RootDir, "root-dir", "r", opt.RootDir, "Directory served by the fs backend.")
	flags.StringVar(&opt.BoltPath, "bolt-path", opt.BoltPath, "Database file used by the bolt backend.")
	flags.StringVar(&opt.User, "user", opt.User, "User name for authentication.")
	flags.StringVar(&opt.Pass, "pass", opt.Pass, "Password for authentication. (empty value allow every password)")
	flags.StringVar(&opt.LogLevel, "log-level", opt.LogLevel, "Log level: debug, info, warn or error.")
	flags.StringVar(&opt.LogFormat, "log-format", opt.LogFormat, "Log format: text or json.")
	flags.StringVar(&opt.MetricsAddr, "metrics-addr", opt.MetricsAddr, "Serve Prometheus metrics on this address at /metrics.")
	flags.Int64Var(&opt.BandwidthLimit, "bandwidth-limit", opt.BandwidthLimit, "Total data transfer limit in bytes per second. (0 = unlimited)")
	flags.Int64Var(&opt.SessionBandwidthLimit, "session-bandwidth-limit", opt.SessionBandwidthLimit, "Per session data transfer limit in bytes per second. (0 = unlimited)")
	flags.IntVar(&opt.MaxConnections, "max-connections", opt.MaxConnections, "Maximum simultaneous clients. (0 = unlimited)")
	flags.DurationVar(&opt.IdleTimeout, "idle-timeout", opt.IdleTimeout, "Close control connections idle for this long. (0 = never)")
	flags.DurationVar(&opt.StartTimeout, "start-timeout", opt.StartTimeout, "How long to wait for the server to start.")
	flags.DurationVar(&opt.ShutdownTimeout, "shutdown-timeout", opt.ShutdownTimeout, "How long to wait for the server to stop.")
}

// loadConfig reads the YAML file at path on top of DefaultConfig.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig
	if path == "" {
		return cfg, nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return cfg, nil
}

// overrideFromFlags copies into cfg every flag the user set explicitly.
func overrideFromFlags(cfg *Config, flags *pflag.FlagSet, opt *Config) {
	setters := map[string]func(){
		"host":                    func() { cfg.Host = opt.Host },
		"port":                    func() { cfg.Port = opt.Port },
		"public-ip":               func() { cfg.PublicIP = opt.PublicIP },
		"passive-port":            func() { cfg.PassivePorts = opt.PassivePorts },
		"backend":                 func() { cfg.Backend = opt.Backend },
		"root-dir":                func() { cfg.RootDir = opt.RootDir },
		"bolt-path":               func() { cfg.BoltPath = opt.BoltPath },
		"user":                    func() { cfg.User = opt.User },
		"pass":                    func() { cfg.Pass = opt.Pass },
		"log-level":               func() { cfg.LogLevel = opt.LogLevel },
		"log-format":              func() { cfg.LogFormat = opt.LogFormat },
		"metrics-addr":            func() { cfg.MetricsAddr = opt.MetricsAddr },
		"bandwidth-limit":         func() { cfg.BandwidthLimit = opt.BandwidthLimit },
		"session-bandwidth-limit": func() { cfg.SessionBandwidthLimit = opt.SessionBandwidthLimit },
		"max-connections":         func() { cfg.MaxConnections = opt.MaxConnections },
		"idle-timeout":            func() { cfg.IdleTimeout = opt.IdleTimeout },
		"start-timeout":           func() { cfg.StartTimeout = opt.StartTimeout },
		"shutdown-timeout":        func() { cfg.ShutdownTimeout = opt.ShutdownTimeout },
	}
	flags.Visit(func(f *pflag.Flag) {
		if set, ok := setters[f.Name]; ok {
			set()
		}
	})
}

// authenticator builds the login check for cfg's accounts.
func (cfg Config) authenticator() func(user, pass string) bool {
	users := make(map[string]string, len(cfg.Users)+1)
	for u, p := range cfg.Users {
		users[u] = p
	}
	if cfg.User != "" {
		users[cfg.User] = cfg.Pass
	}
	if len(users) == 0 {
		return func(string, string) bool { return true }
	}
	return func(user, pass string) bool {
		want, ok := users[user]
		return ok && (want == "" || want == pass)
	}
}
