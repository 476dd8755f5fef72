// Package aferofs exposes an afero.Fs as a vfs.Node tree.
//
// Any afero filesystem can back the FTP server: the host disk jailed with
// afero.NewBasePathFs, an afero.MemMapFs in tests, or a read-only overlay.
//
// Basic usage:
//
//	base := afero.NewBasePathFs(afero.NewOsFs(), "/srv/ftp")
//	root := aferofs.New(base).Root()
//	srv, err := server.NewServer(":2121", server.WithRoot(root))
package aferofs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/vftpd/vfs"
)

// Provider owns the afero filesystem that nodes read from and write to.
//
// The filesystem is addressed from "/". Callers that want to confine the
// tree to a sub-directory should wrap it in afero.NewBasePathFs first.
type Provider struct {
	fs afero.Fs

	// showHidden controls whether entries beginning with "." are listed.
	showHidden bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithHidden lists dot files. They are hidden by default.
func WithHidden(show bool) Option {
	return func(p *Provider) {
		p.showHidden = show
	}
}

// New returns a Provider over fsys.
func New(fsys afero.Fs, opts ...Option) *Provider {
	p := &Provider{fs: fsys}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDir returns a Provider jailed to dir on the host filesystem.
// It fails if dir does not exist or is not a directory.
func NewDir(dir string, opts ...Option) (*Provider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", dir)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts...), nil
}

// Root returns the node for "/".
func (p *Provider) Root() vfs.Node {
	return node{p: p, path: "/"}
}

// Fs returns the underlying filesystem.
func (p *Provider) Fs() afero.Fs {
	return p.fs
}

// node is a value so that two lookups of the same path compare equal.
type node struct {
	p    *Provider
	path string
}

var _ vfs.Node = node{}

func (n node) stat() (os.FileInfo, error) {
	return n.p.fs.Stat(n.path)
}

func (n node) Name() string {
	if n.path == "/" {
		return "/"
	}
	return path.Base(n.path)
}

func (n node) Size() int64 {
	info, err := n.stat()
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

func (n node) ModTime() time.Time {
	info, err := n.stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (n node) IsDir() bool {
	info, err := n.stat()
	return err == nil && info.IsDir()
}

func (n node) Parent(root vfs.Node) vfs.Node {
	if n.path == "/" || vfs.Node(n) == root {
		return root
	}
	return node{p: n.p, path: path.Dir(n.path)}
}

func (n node) List(filter string) ([]vfs.Node, error) {
	if !n.IsDir() {
		return nil, vfs.ErrNotDir
	}
	infos, err := afero.ReadDir(n.p.fs, n.path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", n.path, err)
	}
	nodes := make([]vfs.Node, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if !n.p.showHidden && name[0] == '.' {
			continue
		}
		nodes = append(nodes, node{p: n.p, path: path.Join(n.path, name)})
	}
	return vfs.Filter(nodes, filter), nil
}

func (n node) Create(name string, dir bool) (vfs.Node, error) {
	if !vfs.ValidName(name) {
		return nil, fmt.Errorf("create %q: %w", name, vfs.ErrInvalidName)
	}
	if !n.IsDir() {
		return nil, vfs.ErrNotDir
	}

	child := path.Join(n.path, name)
	if ok, _ := afero.Exists(n.p.fs, child); ok {
		return nil, fmt.Errorf("create %s: %w", child, fs.ErrExist)
	}

	if dir {
		if err := n.p.fs.Mkdir(child, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", child, err)
		}
	} else {
		f, err := n.p.fs.Create(child)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", child, err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	}
	return node{p: n.p, path: child}, nil
}

func (n node) Delete(dir bool) error {
	if n.path == "/" {
		return vfs.ErrRoot
	}
	info, err := n.stat()
	if err != nil {
		return err
	}
	switch {
	case dir && !info.IsDir():
		return vfs.ErrNotDir
	case !dir && info.IsDir():
		return vfs.ErrIsDir
	case dir:
		return n.p.fs.RemoveAll(n.path)
	default:
		return n.p.fs.Remove(n.path)
	}
}

func (n node) Retrieve(w io.Writer) error {
	if n.IsDir() {
		return vfs.ErrIsDir
	}
	f, err := n.p.fs.Open(n.path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (n node) Store(r io.Reader) error {
	if n.IsDir() {
		return vfs.ErrIsDir
	}
	f, err := n.p.fs.OpenFile(n.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (n node) Rename(newName string) error {
	if n.path == "/" {
		return vfs.ErrRoot
	}
	if !vfs.ValidName(newName) {
		return fmt.Errorf("rename to %q: %w", newName, vfs.ErrInvalidName)
	}
	target := path.Join(path.Dir(n.path), newName)
	if target == n.path {
		return nil
	}
	if ok, _ := afero.Exists(n.p.fs, target); ok {
		return fmt.Errorf("rename to %s: %w", target, fs.ErrExist)
	}
	return n.p.fs.Rename(n.path, target)
}
