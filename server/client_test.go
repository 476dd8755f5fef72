package server_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/vftpd/server"
	"github.com/gonzalop/vftpd/vfs/memfs"
)

// dialClient starts a server over root and logs a jlaffaye/ftp client in.
func dialClient(t *testing.T, root *memfs.Dir) *ftp.ServerConn {
	t.Helper()

	s, err := server.NewServer("127.0.0.1:0",
		server.WithRoot(root),
		server.WithLogger(slog.New(slog.DiscardHandler)),
		server.WithAuthenticator(func(user, pass string) bool {
			return user == "alice" && pass == "wonderland"
		}),
	)
	require.NoError(t, err)
	require.NoError(t, s.Listen())
	go s.ListenAndServe()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	c, err := ftp.Dial(s.Addr().String(), ftp.DialWithTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Quit() })

	require.Error(t, c.Login("alice", "wrong"))
	require.NoError(t, c.Login("alice", "wonderland"))
	return c
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	root := memfs.NewRoot()
	mod := time.Date(2023, time.November, 20, 8, 30, 0, 0, time.UTC)
	_, err := root.AddFile("readme.txt", []byte("read me"), mod)
	require.NoError(t, err)
	docs, err := root.AddDir("docs")
	require.NoError(t, err)
	_, err = docs.AddFile("guide.md", []byte("# guide"), mod)
	require.NoError(t, err)

	c := dialClient(t, root)

	entries, err := c.List("/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "readme.txt", entries[0].Name)
	assert.Equal(t, ftp.EntryTypeFile, entries[0].Type)
	assert.Equal(t, uint64(7), entries[0].Size)
	assert.Equal(t, "docs", entries[1].Name)
	assert.Equal(t, ftp.EntryTypeFolder, entries[1].Type)

	names, err := c.NameList("docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"guide.md"}, names)

	r, err := c.Retr("README.TXT")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "read me", string(data))

	require.NoError(t, c.ChangeDir("docs"))
	dir, err := c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/docs", dir)

	require.NoError(t, c.Stor("notes.txt", bytes.NewBufferString("some notes")))
	size, err := c.FileSize("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	require.NoError(t, c.Rename("notes.txt", "renamed.txt"))
	r, err = c.Retr("/docs/renamed.txt")
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "some notes", string(data))

	require.NoError(t, c.Delete("renamed.txt"))
	_, err = c.FileSize("renamed.txt")
	require.Error(t, err)

	require.NoError(t, c.ChangeDirToParent())
	require.NoError(t, c.MakeDir("archive"))
	require.Error(t, c.MakeDir("archive"))
	require.NoError(t, c.RemoveDir("archive"))

	require.NoError(t, c.NoOp())
}
