// Package server implements an embeddable FTP server over a virtual content
// tree.
//
// # Overview
//
// The server never touches storage itself. Every path a client sends is
// resolved by walking vfs.Node values from a configured root, so anything
// that implements the vfs.Node contract can be published over FTP:
//   - a host directory (vfs/aferofs)
//   - an in-memory tree (vfs/memfs)
//   - a bbolt database (vfs/boltfs)
//   - a hierarchy computed on the fly by the embedding application
//
// # Getting Started
//
//	package main
//
//	import (
//	    "log"
//	    "time"
//
//	    "github.com/gonzalop/vftpd/server"
//	    "github.com/gonzalop/vftpd/vfs/memfs"
//	)
//
//	func main() {
//	    root := memfs.NewRoot()
//	    root.AddFile("hello.txt", []byte("hello\n"), time.Now())
//
//	    s, err := server.NewServer(":2121", server.WithRoot(root))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Fatal(s.ListenAndServe())
//	}
//
// # Authentication
//
// Every command except USER and PASS requires a successful login, QUIT
// included.
// Credentials are checked by the predicate given to WithAuthenticator; the
// default accepts everyone.
//
//	s, _ := server.NewServer(":2121",
//	    server.WithRoot(root),
//	    server.WithAuthenticator(func(user, pass string) bool {
//	        return user == "admin" && pass == "secret"
//	    }),
//	)
//
// # Data Connections
//
// Both passive (PASV) and active (PORT) modes are supported. A data channel
// serves exactly one transfer and must be negotiated again for the next one.
// Passive listeners are taken from the configured port range, scanning up
// from the low end and skipping ports already in use. Behind NAT, advertise
// the public address with WithMasqueradeIP.
//
//	s, _ := server.NewServer(":21",
//	    server.WithRoot(root),
//	    server.WithPassivePortRange(30000, 30100),
//	    server.WithMasqueradeIP("203.0.113.10"),
//	)
//
// # Path Resolution
//
// Names are matched case-insensitively. Absolute paths start at the root,
// relative ones at the session's current directory, and ".." never climbs
// above the root.
//
// # Logging
//
// The server uses log/slog. Events are logged with snake_case messages
// such as session_started, authentication_failed and transfer_complete,
// with session_id, remote_ip and user attributes for correlation.
//
// # Faults
//
// A panic raised by a provider ends only the session that triggered it.
// Set WithFailFast(true) to re-raise it instead and stop the process.
package server
