package main

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/gonzalop/vftpd/vfs"
	"github.com/gonzalop/vftpd/vfs/aferofs"
	"github.com/gonzalop/vftpd/vfs/boltfs"
	"github.com/gonzalop/vftpd/vfs/memfs"
)

// boltLockTimeout bounds the wait for a database locked by another process.
const boltLockTimeout = 5 * time.Second

// openBackend returns the root node for cfg.Backend and a function that
// releases it.
func openBackend(cfg Config) (vfs.Node, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		return memfs.NewRoot(), noop, nil
	case "fs", "":
		dir, err := homedir.Expand(cfg.RootDir)
		if err != nil {
			return nil, nil, err
		}
		p, err := aferofs.NewDir(dir)
		if err != nil {
			return nil, nil, err
		}
		return p.Root(), noop, nil
	case "bolt":
		path, err := homedir.Expand(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		store, err := boltfs.Open(path, boltLockTimeout)
		if err != nil {
			return nil, nil, err
		}
		return store.Root(), store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want fs, memory or bolt)", cfg.Backend)
	}
}
