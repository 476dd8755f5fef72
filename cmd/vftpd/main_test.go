package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vftpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, cfg)

	path := writeConfig(t, `
port: 2200
backend: memory
passive_ports: 40000-40010
idle_timeout: 90s
users:
  alice: wonderland
  guest: ""
`)
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2200, cfg.Port)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "40000-40010", cfg.PassivePorts)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, map[string]string{"alice": "wonderland", "guest": ""}, cfg.Users)
	assert.Equal(t, DefaultConfig.Host, cfg.Host, "unset keys keep their defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "prot: 21\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	opt := DefaultConfig
	flags := pflag.NewFlagSet("vftpd", pflag.ContinueOnError)
	addFlags(flags, &opt)
	require.NoError(t, flags.Parse([]string{"--port", "2300", "--user", "bob", "--pass", "secret"}))

	cfg, err := loadConfig(writeConfig(t, "port: 2200\nbackend: memory\nlog_level: debug\n"))
	require.NoError(t, err)
	overrideFromFlags(&cfg, flags, &opt)

	assert.Equal(t, 2300, cfg.Port)
	assert.Equal(t, "memory", cfg.Backend, "file value kept when the flag is not set")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "bob", cfg.User)
	assert.Equal(t, "secret", cfg.Pass)
}

func TestCommand(t *testing.T) {
	t.Parallel()

	cmd := newCommand()
	for _, name := range []string{"config", "host", "port", "public-ip", "passive-port", "root-dir", "backend", "metrics-addr"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}

	cmd.SetArgs([]string{"--backend", "s3"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")

	cmd = newCommand()
	cmd.SetArgs([]string{"extra-arg"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.Execute())
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	open := Config{}.authenticator()
	assert.True(t, open("anyone", "anything"))

	auth := Config{
		User:  "bob",
		Pass:  "secret",
		Users: map[string]string{"alice": "wonderland", "guest": ""},
	}.authenticator()
	assert.True(t, auth("bob", "secret"))
	assert.False(t, auth("bob", "wrong"))
	assert.True(t, auth("alice", "wonderland"))
	assert.True(t, auth("guest", "whatever"))
	assert.False(t, auth("mallory", ""))
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = newLogger(&buf, "DEBUG", "text")
	require.NoError(t, err)
	logger.Debug("details")
	assert.Contains(t, buf.String(), "msg=details")

	_, err = newLogger(io.Discard, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(io.Discard, "info", "xml")
	assert.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{"memory", "fs", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			cfg := DefaultConfig
			cfg.Backend = backend
			cfg.RootDir = t.TempDir()
			cfg.BoltPath = filepath.Join(t.TempDir(), "tree.db")

			root, closeRoot, err := openBackend(cfg)
			require.NoError(t, err)
			defer closeRoot()

			require.True(t, root.IsDir())
			_, err = root.Create("made-by-test", true)
			require.NoError(t, err)
			children, err := root.List("")
			require.NoError(t, err)
			require.Len(t, children, 1)
			assert.Equal(t, "made-by-test", children[0].Name())
		})
	}

	cfg := DefaultConfig
	cfg.Backend = "s3"
	_, _, err := openBackend(cfg)
	assert.Error(t, err)

	cfg.Backend = "fs"
	cfg.RootDir = filepath.Join(t.TempDir(), "missing")
	_, _, err = openBackend(cfg)
	assert.Error(t, err)
}

func TestServerOptionsRejectBadRange(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig
	cfg.PassivePorts = "9-1"
	_, err := serverOptions(cfg, nil)
	assert.Error(t, err)
}

func TestRunServesFTPAndMetrics(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Backend = "memory"
	cfg.PassivePorts = ""
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.User = "bob"
	cfg.Pass = "secret"

	logger, err := newLogger(io.Discard, "info", "text")
	require.NoError(t, err)
	a, err := newApp(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	require.Eventually(t, a.runner.Running, 5*time.Second, 10*time.Millisecond)

	c, err := ftp.Dial(a.runner.Addr(), ftp.DialWithTimeout(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, c.Login("bob", "secret"))
	require.NoError(t, c.Stor("hello.txt", strings.NewReader("hi")))
	names, err := c.NameList("")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.txt"}, names)
	require.NoError(t, c.Quit())

	resp, err := http.Get("http://" + a.metricsAddr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `vftpd_ftp_logins_total{success="true"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.False(t, a.runner.Running())
}
