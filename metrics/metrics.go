// Package metrics provides a Prometheus implementation of
// server.MetricsCollector.
//
//	m := metrics.New("vftpd")
//	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
//	    log.Fatal(err)
//	}
//	s, _ := server.NewServer(":21",
//	    server.WithRoot(root),
//	    server.WithMetricsCollector(m),
//	)
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gonzalop/vftpd/server"
)

// transferBuckets spans quick listings up to long uploads.
var transferBuckets = []float64{0.1, 1, 10, 60, 600}

// Collector exports FTP server activity as Prometheus metrics.
type Collector struct {
	Commands         *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	TransferBytes    *prometheus.CounterVec
	Transfers        *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec
	Connections      *prometheus.CounterVec
	Logins           *prometheus.CounterVec
}

var _ server.MetricsCollector = (*Collector)(nil)

// New creates a collector whose metrics live under namespace.
func New(namespace string) *Collector {
	return &Collector{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ftp",
			Name:      "commands_total",
			Help:      "FTP commands processed, by command and outcome.",
		}, []string{"cmd", "success"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ftp",
			Name:      "command_duration_seconds",
			Help:      "Time spent handling FTP commands.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cmd"}),
		TransferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ftp",
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved over data connections.",
		}, []string{"operation"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ftp",
			Name:      "transfers_total",
			Help:      "Data connection transfers.",
		}, []string{"operation"}),
		TransferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ftp",
			Name:      "transfer_duration_seconds",
			Help:      "Time spent moving data over data connections.",
			Buckets:   transferBuckets,
		}, []string{"operation"}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ftp",
			Name:      "connections_total",
			Help:      "Control connections, by outcome.",
		}, []string{"accepted", "reason"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ftp",
			Name:      "logins_total",
			Help:      "Login attempts, by outcome.",
		}, []string{"success"}),
	}
}

// Collectors returns all prometheus metrics as collectors for registration.
func (c *Collector) Collectors() []prometheus.Collector {
	if c == nil {
		return nil
	}
	return []prometheus.Collector{
		c.Commands,
		c.CommandDuration,
		c.TransferBytes,
		c.Transfers,
		c.TransferDuration,
		c.Connections,
		c.Logins,
	}
}

// Register adds every metric of c to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range c.Collectors() {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.Commands.WithLabelValues(cmd, strconv.FormatBool(success)).Inc()
	c.CommandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	c.Transfers.WithLabelValues(operation).Inc()
	c.TransferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.TransferDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordConnection(accepted bool, reason string) {
	c.Connections.WithLabelValues(strconv.FormatBool(accepted), reason).Inc()
}

// RecordAuthentication counts a login attempt. The user name is not used
// as a label to keep cardinality bounded.
func (c *Collector) RecordAuthentication(success bool, user string) {
	c.Logins.WithLabelValues(strconv.FormatBool(success)).Inc()
}
