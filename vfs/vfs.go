// Package vfs defines the capability contract that every node of a virtual
// content tree must satisfy to be served by the FTP engine.
//
// # Overview
//
// The engine never touches storage directly. It resolves paths by walking
// nodes, lists children, and streams file content through the Node
// interface. Anything that can answer these calls can be exposed over FTP:
// a host directory (see vfs/aferofs), an in-memory tree (vfs/memfs), a
// bbolt database (vfs/boltfs), or a hierarchy computed on the fly.
//
// # Directories and files
//
// A single interface covers both kinds. Directory nodes answer List and
// Create; file nodes answer Retrieve and Store. Calling a directory-only
// method on a file (or the reverse) must return ErrNotDir or ErrIsDir rather
// than panic.
//
// # Identity
//
// Node values must be comparable with ==, and two values describing the same
// logical node must compare equal. The engine relies on this to recognise the
// root and to stop upward traversal there. Pointer receivers satisfy this
// trivially; value types must only contain comparable fields.
//
// # Failures
//
// Documented failures (missing child, name conflict, I/O error) are returned
// as errors and translated into FTP reply codes by the engine. A panic is
// outside the contract; the server's fault policy decides whether it ends
// only the affected session or the whole process.
package vfs

import (
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotDir is returned when a directory operation is invoked on a file.
	ErrNotDir = errors.New("vfs: not a directory")

	// ErrIsDir is returned when a file operation is invoked on a directory.
	ErrIsDir = errors.New("vfs: is a directory")

	// ErrInvalidName is returned for names that cannot name a child node.
	ErrInvalidName = errors.New("vfs: invalid name")

	// ErrRoot is returned when an operation would remove or rename the root.
	ErrRoot = errors.New("vfs: operation not permitted on root")
)

// Node is one entry of a virtual content tree.
type Node interface {
	// Name returns the base name of the node. The root conventionally
	// returns "/".
	Name() string

	// Size returns the content length in bytes. Directories may return 0.
	Size() int64

	// ModTime returns the last modification time.
	ModTime() time.Time

	// IsDir reports whether the node is a directory.
	IsDir() bool

	// Parent returns the node's parent directory. When the receiver is root,
	// or has no parent at all, Parent returns root so that traversal never
	// escapes above it.
	Parent(root Node) Node

	// List returns the children of a directory. A non-empty filter is a
	// glob or plain name; only children whose name matches it (see
	// MatchName) are returned.
	List(filter string) ([]Node, error)

	// Create adds a child named name. It returns fs.ErrExist if a child
	// with that name already exists.
	Create(name string, dir bool) (Node, error)

	// Delete removes the node. dir states the kind the caller expects;
	// a mismatch is an error. Directories are removed with their contents.
	Delete(dir bool) error

	// Retrieve writes the file content to w.
	Retrieve(w io.Writer) error

	// Store replaces the file content with everything read from r.
	Store(r io.Reader) error

	// Rename changes the node's name within its parent directory.
	Rename(newName string) error
}

// MatchName reports whether name matches the glob pattern, ignoring case.
// A malformed pattern is compared literally.
func MatchName(pattern, name string) bool {
	p := strings.ToLower(pattern)
	n := strings.ToLower(name)
	ok, err := path.Match(p, n)
	if err != nil {
		return p == n
	}
	return ok
}

// ValidName reports whether name can be used as the name of a child node.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}

// Filter returns the nodes whose names match filter. An empty filter
// returns nodes unchanged. Providers use it to implement List.
func Filter(nodes []Node, filter string) []Node {
	if filter == "" {
		return nodes
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if MatchName(filter, n.Name()) {
			out = append(out, n)
		}
	}
	return out
}
