// Package memfs implements an in-memory vfs.Node tree.
//
// It is the provider used by tests and by the CLI's "memory" backend.
// Every directory and file is guarded by its own mutex, so the tree is safe
// for concurrent use by several FTP sessions.
package memfs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/gonzalop/vftpd/vfs"
)

// now is swapped in tests that need stable timestamps.
var now = time.Now

// Dir is an in-memory directory.
type Dir struct {
	mu       sync.RWMutex
	name     string
	parent   *Dir
	modTime  time.Time
	children []vfs.Node
}

// File is an in-memory file.
type File struct {
	mu      sync.RWMutex
	name    string
	parent  *Dir
	modTime time.Time
	data    []byte
}

var (
	_ vfs.Node = (*Dir)(nil)
	_ vfs.Node = (*File)(nil)
)

// NewRoot returns an empty root directory named "/".
func NewRoot() *Dir {
	return &Dir{name: "/", modTime: now()}
}

// AddFile creates a file with the given content and modification time.
// It is a seeding helper; FTP clients go through Create and Store.
func (d *Dir) AddFile(name string, data []byte, modTime time.Time) (*File, error) {
	n, err := d.Create(name, false)
	if err != nil {
		return nil, err
	}
	f := n.(*File)
	f.mu.Lock()
	f.data = append([]byte(nil), data...)
	f.modTime = modTime
	f.mu.Unlock()
	return f, nil
}

// AddDir creates a subdirectory.
func (d *Dir) AddDir(name string) (*Dir, error) {
	n, err := d.Create(name, true)
	if err != nil {
		return nil, err
	}
	return n.(*Dir), nil
}

func (d *Dir) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Dir) Size() int64 { return 0 }

func (d *Dir) ModTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.modTime
}

func (d *Dir) IsDir() bool { return true }

func (d *Dir) Parent(root vfs.Node) vfs.Node {
	if root != nil && vfs.Node(d) == root {
		return root
	}
	d.mu.RLock()
	p := d.parent
	d.mu.RUnlock()
	if p == nil {
		return root
	}
	return p
}

func (d *Dir) List(filter string) ([]vfs.Node, error) {
	d.mu.RLock()
	nodes := append([]vfs.Node(nil), d.children...)
	d.mu.RUnlock()
	return vfs.Filter(nodes, filter), nil
}

func (d *Dir) Create(name string, dir bool) (vfs.Node, error) {
	if !vfs.ValidName(name) {
		return nil, fmt.Errorf("create %q: %w", name, vfs.ErrInvalidName)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupLocked(name) != nil {
		return nil, fmt.Errorf("create %q: %w", name, fs.ErrExist)
	}

	t := now()
	var n vfs.Node
	if dir {
		n = &Dir{name: name, parent: d, modTime: t}
	} else {
		n = &File{name: name, parent: d, modTime: t}
	}
	d.children = append(d.children, n)
	d.modTime = t
	return n, nil
}

func (d *Dir) Delete(dir bool) error {
	if !dir {
		return vfs.ErrIsDir
	}
	d.mu.RLock()
	p := d.parent
	d.mu.RUnlock()
	if p == nil {
		return vfs.ErrRoot
	}
	return p.removeChild(d)
}

func (d *Dir) Retrieve(io.Writer) error { return vfs.ErrIsDir }

func (d *Dir) Store(io.Reader) error { return vfs.ErrIsDir }

func (d *Dir) Rename(newName string) error {
	d.mu.RLock()
	p := d.parent
	d.mu.RUnlock()
	if p == nil {
		return vfs.ErrRoot
	}
	return p.renameChild(d, newName, func(name string) {
		d.mu.Lock()
		d.name = name
		d.mu.Unlock()
	})
}

// lookupLocked finds a child by exact name. d.mu must be held.
func (d *Dir) lookupLocked(name string) vfs.Node {
	for _, c := range d.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (d *Dir) removeChild(n vfs.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.children {
		if c == n {
			d.children = append(d.children[:i], d.children[i+1:]...)
			d.modTime = now()
			return nil
		}
	}
	return fs.ErrNotExist
}

func (d *Dir) renameChild(n vfs.Node, newName string, apply func(string)) error {
	if !vfs.ValidName(newName) {
		return fmt.Errorf("rename to %q: %w", newName, vfs.ErrInvalidName)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.lookupLocked(newName); c != nil && c != n {
		return fmt.Errorf("rename to %q: %w", newName, fs.ErrExist)
	}
	apply(newName)
	d.modTime = now()
	return nil
}

func (f *File) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.data))
}

func (f *File) ModTime() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.modTime
}

func (f *File) IsDir() bool { return false }

func (f *File) Parent(root vfs.Node) vfs.Node {
	if root != nil && vfs.Node(f) == root {
		return root
	}
	if f.parent == nil {
		return root
	}
	return f.parent
}

func (f *File) List(string) ([]vfs.Node, error) { return nil, vfs.ErrNotDir }

func (f *File) Create(string, bool) (vfs.Node, error) { return nil, vfs.ErrNotDir }

func (f *File) Delete(dir bool) error {
	if dir {
		return vfs.ErrNotDir
	}
	return f.parent.removeChild(f)
}

func (f *File) Retrieve(w io.Writer) error {
	f.mu.RLock()
	data := f.data
	f.mu.RUnlock()
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (f *File) Store(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.data = data
	f.modTime = now()
	f.mu.Unlock()
	return nil
}

func (f *File) Rename(newName string) error {
	return f.parent.renameChild(f, newName, func(name string) {
		f.mu.Lock()
		f.name = name
		f.mu.Unlock()
	})
}
