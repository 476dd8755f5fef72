package server

import "time"

// MetricsCollector is an optional interface for collecting server metrics.
// The metrics package provides a Prometheus implementation; others can feed
// StatsD, DataDog, etc.
//
// All methods are called synchronously from session goroutines and should
// be non-blocking. If a method takes significant time, it should dispatch
// the work asynchronously.
//
// The server will check if the collector is nil before calling methods,
// so implementations don't need to handle nil receivers.
type MetricsCollector interface {
	// RecordCommand records metrics for an FTP command execution.
	// cmd is the command name (e.g., "RETR", "STOR", "LIST"), or "UNKNOWN"
	// for tokens the server does not recognise.
	// success is true when the final reply code was below 400.
	// duration is how long the command took to execute.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records metrics for a data channel transfer.
	// operation is "RETR", "STOR", "LIST" or "NLST".
	// bytes is the number of bytes transferred.
	// duration is how long the transfer took.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection records metrics for connection attempts.
	// accepted indicates whether the connection was accepted.
	// reason provides context ("accepted" or "global_limit_reached").
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records metrics for authentication attempts.
	// success indicates whether authentication succeeded.
	// user is the username that attempted to authenticate.
	RecordAuthentication(success bool, user string)
}
