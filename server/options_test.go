package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/vftpd/vfs/memfs"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	s, err := NewServer(":0", WithRoot(memfs.NewRoot()))
	require.NoError(t, err)

	assert.Equal(t, DefaultPassiveMinPort, s.pasvMinPort)
	assert.Equal(t, DefaultPassiveMaxPort, s.pasvMaxPort)
	assert.Equal(t, DefaultPassiveTimeout, s.passiveTimeout)
	assert.Equal(t, 5*time.Minute, s.maxIdleTime)
	assert.Zero(t, s.maxConnections)
	assert.Nil(t, s.masqueradeIP)
	assert.Nil(t, s.globalLimiter)
	assert.False(t, s.failFast)
	assert.True(t, s.authenticate("anyone", "anything"))
}

func TestOptions(t *testing.T) {
	t.Parallel()

	mc := &mockMetricsCollector{}
	s, err := NewServer(":0",
		WithRoot(memfs.NewRoot()),
		WithAuthenticator(func(u, p string) bool { return u == "a" && p == "b" }),
		WithMasqueradeIP("198.51.100.4"),
		WithPassivePortRange(30000, 30010),
		WithPassiveTimeout(5*time.Second),
		WithWelcomeMessage("hi"),
		WithMaxIdleTime(time.Minute),
		WithMaxConnections(3),
		WithMetricsCollector(mc),
		WithBandwidthLimit(1<<20, 1<<16),
		WithFailFast(true),
		WithStrictActiveMode(true),
	)
	require.NoError(t, err)

	assert.False(t, s.authenticate("a", "x"))
	assert.True(t, s.authenticate("a", "b"))
	assert.Equal(t, "198.51.100.4", s.masqueradeIP.String())
	assert.Equal(t, 30000, s.pasvMinPort)
	assert.Equal(t, 30010, s.pasvMaxPort)
	assert.Equal(t, 5*time.Second, s.passiveTimeout)
	assert.Equal(t, "hi", s.welcomeMessage)
	assert.Equal(t, time.Minute, s.maxIdleTime)
	assert.Equal(t, 3, s.maxConnections)
	assert.Same(t, mc, s.metricsCollector)
	require.NotNil(t, s.globalLimiter)
	assert.Equal(t, int64(1<<16), s.bandwidthLimitPerSession)
	assert.True(t, s.failFast)
	assert.True(t, s.strictActiveMode)
}

func TestInvalidOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
	}{
		{"nil root", WithRoot(nil)},
		{"nil authenticator", WithAuthenticator(nil)},
		{"masquerade hostname", WithMasqueradeIP("example.com")},
		{"masquerade ipv6", WithMasqueradeIP("2001:db8::1")},
		{"port range inverted", WithPassivePortRange(2000, 1000)},
		{"port range zero", WithPassivePortRange(0, 10)},
		{"port range too high", WithPassivePortRange(1000, 70000)},
		{"zero passive timeout", WithPassiveTimeout(0)},
		{"negative max connections", WithMaxConnections(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(":0", WithRoot(memfs.NewRoot()), tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestParsePortRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		min, max int
		ok       bool
	}{
		{"30000-32000", 30000, 32000, true},
		{" 2121 - 2130 ", 2121, 2130, true},
		{"5000", 5000, 5000, true},
		{"2000-1000", 0, 0, false},
		{"0-10", 0, 0, false},
		{"1-70000", 0, 0, false},
		{"a-b", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		min, max, err := ParsePortRange(tt.in)
		if !tt.ok {
			assert.Error(t, err, "ParsePortRange(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParsePortRange(%q)", tt.in)
		assert.Equal(t, tt.min, min)
		assert.Equal(t, tt.max, max)
	}
}
