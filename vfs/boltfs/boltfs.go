// Package boltfs stores a vfs.Node tree in a single bbolt database file.
//
// Directories are nested buckets under a top-level "root" bucket. Each
// directory bucket keeps its own modification time under the "." key, a
// name no child can take. Files are plain keys whose value is an 8 byte
// big-endian Unix nanosecond timestamp followed by the file content.
package boltfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gonzalop/vftpd/vfs"
)

const (
	rootBucket = "root"
	metaKey    = "."
	stampLen   = 8
)

var errCorrupt = errors.New("boltfs: corrupt entry")

// Store is an open database backing a tree.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the database at dbPath. timeout bounds the wait
// for the file lock held by another process; zero waits forever.
func Open(dbPath string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %q: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		if err != nil {
			return err
		}
		if b.Get([]byte(metaKey)) == nil {
			return b.Put([]byte(metaKey), encodeStamp(time.Now()))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise bolt database %q: %w", dbPath, err)
	}
	return &Store{db: db, path: dbPath}, nil
}

func (s *Store) String() string {
	return "<boltfs> " + s.path
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the root directory node.
func (s *Store) Root() vfs.Node {
	return node{s: s, path: "/", dir: true}
}

// bucket walks from the root bucket to the directory at p.
// It returns nil if any component is missing.
func bucket(tx *bolt.Tx, p string) *bolt.Bucket {
	b := tx.Bucket([]byte(rootBucket))
	for _, entry := range strings.FieldsFunc(p, func(c rune) bool { return c == '/' }) {
		if b == nil {
			return nil
		}
		b = b.Bucket([]byte(entry))
	}
	return b
}

func encodeStamp(t time.Time) []byte {
	buf := make([]byte, stampLen)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeStamp(v []byte) (time.Time, error) {
	if len(v) < stampLen {
		return time.Time{}, errCorrupt
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(v[:stampLen]))), nil
}

func encodeFile(t time.Time, data []byte) []byte {
	v := make([]byte, stampLen+len(data))
	binary.BigEndian.PutUint64(v, uint64(t.UnixNano()))
	copy(v[stampLen:], data)
	return v
}

// touch records a modification of the directory bucket b.
func touch(b *bolt.Bucket) error {
	return b.Put([]byte(metaKey), encodeStamp(time.Now()))
}

// copyBucket recursively copies every key and sub-bucket of src into dst.
func copyBucket(src, dst *bolt.Bucket) error {
	return src.ForEach(func(k, v []byte) error {
		if v != nil {
			return dst.Put(k, bytes.Clone(v))
		}
		child, err := dst.CreateBucket(k)
		if err != nil {
			return err
		}
		return copyBucket(src.Bucket(k), child)
	})
}

// node addresses an entry by path. dir is fixed at lookup time.
type node struct {
	s    *Store
	path string
	dir  bool
}

var _ vfs.Node = node{}

func (n node) Name() string {
	if n.path == "/" {
		return "/"
	}
	return path.Base(n.path)
}

func (n node) split() (string, string) {
	return path.Dir(n.path), path.Base(n.path)
}

func (n node) Size() int64 {
	if n.dir {
		return 0
	}
	var size int64
	_ = n.s.db.View(func(tx *bolt.Tx) error {
		dir, name := n.split()
		if b := bucket(tx, dir); b != nil {
			if v := b.Get([]byte(name)); len(v) >= stampLen {
				size = int64(len(v) - stampLen)
			}
		}
		return nil
	})
	return size
}

func (n node) ModTime() time.Time {
	var mtime time.Time
	_ = n.s.db.View(func(tx *bolt.Tx) error {
		var v []byte
		if n.dir {
			if b := bucket(tx, n.path); b != nil {
				v = b.Get([]byte(metaKey))
			}
		} else {
			dir, name := n.split()
			if b := bucket(tx, dir); b != nil {
				v = b.Get([]byte(name))
			}
		}
		mtime, _ = decodeStamp(v)
		return nil
	})
	return mtime
}

func (n node) IsDir() bool { return n.dir }

func (n node) Parent(root vfs.Node) vfs.Node {
	if n.path == "/" || vfs.Node(n) == root {
		return root
	}
	return node{s: n.s, path: path.Dir(n.path), dir: true}
}

func (n node) List(filter string) ([]vfs.Node, error) {
	if !n.dir {
		return nil, vfs.ErrNotDir
	}
	var nodes []vfs.Node
	err := n.s.db.View(func(tx *bolt.Tx) error {
		b := bucket(tx, n.path)
		if b == nil {
			return fs.ErrNotExist
		}
		return b.ForEach(func(k, v []byte) error {
			name := string(k)
			if name == metaKey {
				return nil
			}
			nodes = append(nodes, node{s: n.s, path: path.Join(n.path, name), dir: v == nil})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", n.path, err)
	}
	return vfs.Filter(nodes, filter), nil
}

func (n node) Create(name string, dir bool) (vfs.Node, error) {
	if !n.dir {
		return nil, vfs.ErrNotDir
	}
	if !vfs.ValidName(name) {
		return nil, fmt.Errorf("create %q: %w", name, vfs.ErrInvalidName)
	}
	child := node{s: n.s, path: path.Join(n.path, name), dir: dir}
	err := n.s.db.Update(func(tx *bolt.Tx) error {
		b := bucket(tx, n.path)
		if b == nil {
			return fs.ErrNotExist
		}
		key := []byte(name)
		if b.Get(key) != nil || b.Bucket(key) != nil {
			return fs.ErrExist
		}
		if dir {
			sub, err := b.CreateBucket(key)
			if err != nil {
				return err
			}
			if err := touch(sub); err != nil {
				return err
			}
		} else if err := b.Put(key, encodeFile(time.Now(), nil)); err != nil {
			return err
		}
		return touch(b)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", child.path, err)
	}
	return child, nil
}

func (n node) Delete(dir bool) error {
	if n.path == "/" {
		return vfs.ErrRoot
	}
	switch {
	case dir && !n.dir:
		return vfs.ErrNotDir
	case !dir && n.dir:
		return vfs.ErrIsDir
	}
	return n.s.db.Update(func(tx *bolt.Tx) error {
		parent, name := n.split()
		b := bucket(tx, parent)
		if b == nil {
			return fs.ErrNotExist
		}
		key := []byte(name)
		if n.dir {
			if err := b.DeleteBucket(key); err != nil {
				if errors.Is(err, bolt.ErrBucketNotFound) {
					return fs.ErrNotExist
				}
				return err
			}
		} else {
			if b.Get(key) == nil {
				return fs.ErrNotExist
			}
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return touch(b)
	})
}

func (n node) Retrieve(w io.Writer) error {
	if n.dir {
		return vfs.ErrIsDir
	}
	var data []byte
	err := n.s.db.View(func(tx *bolt.Tx) error {
		parent, name := n.split()
		b := bucket(tx, parent)
		if b == nil {
			return fs.ErrNotExist
		}
		v := b.Get([]byte(name))
		if v == nil {
			return fs.ErrNotExist
		}
		if len(v) < stampLen {
			return errCorrupt
		}
		// v is only valid inside the transaction.
		data = bytes.Clone(v[stampLen:])
		return nil
	})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (n node) Store(r io.Reader) error {
	if n.dir {
		return vfs.ErrIsDir
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return n.s.db.Update(func(tx *bolt.Tx) error {
		parent, name := n.split()
		b := bucket(tx, parent)
		if b == nil {
			return fs.ErrNotExist
		}
		return b.Put([]byte(name), encodeFile(time.Now(), data))
	})
}

func (n node) Rename(newName string) error {
	if n.path == "/" {
		return vfs.ErrRoot
	}
	if !vfs.ValidName(newName) {
		return fmt.Errorf("rename to %q: %w", newName, vfs.ErrInvalidName)
	}
	parent, name := n.split()
	if name == newName {
		return nil
	}
	return n.s.db.Update(func(tx *bolt.Tx) error {
		b := bucket(tx, parent)
		if b == nil {
			return fs.ErrNotExist
		}
		oldKey, newKey := []byte(name), []byte(newName)
		if b.Get(newKey) != nil || b.Bucket(newKey) != nil {
			return fs.ErrExist
		}
		if n.dir {
			src := b.Bucket(oldKey)
			if src == nil {
				return fs.ErrNotExist
			}
			dst, err := b.CreateBucket(newKey)
			if err != nil {
				return err
			}
			if err := copyBucket(src, dst); err != nil {
				return err
			}
			if err := b.DeleteBucket(oldKey); err != nil {
				return err
			}
		} else {
			v := b.Get(oldKey)
			if v == nil {
				return fs.ErrNotExist
			}
			if err := b.Put(newKey, bytes.Clone(v)); err != nil {
				return err
			}
			if err := b.Delete(oldKey); err != nil {
				return err
			}
		}
		return touch(b)
	})
}
