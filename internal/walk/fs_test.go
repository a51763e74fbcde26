package walk_test

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/model"
	"github.com/CZERTAINLY/cipher-lens/internal/walk"
	"github.com/stretchr/testify/require"
)

type then struct {
	path string
	size int64
}

func testEntry(t *testing.T, entry model.Entry, err error) then {
	t.Helper()
	require.NoError(t, err)
	info, err := entry.Stat()
	require.NoError(t, err)
	f, err := entry.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Len(t, b, int(info.Size()))
	return then{path: entry.Path(), size: info.Size()}
}

func TestFS_NilRoot(t *testing.T) {
	t.Parallel()
	seq := walk.FS(t.Context(), nil, "fstest://")
	// When root is nil, FS should return a nil iterator and not panic.
	require.Nil(t, any(seq))
}

func TestFS_CanceledContext(t *testing.T) {
	t.Parallel()
	root := fstest.MapFS{
		"a.txt":   &fstest.MapFile{Data: []byte("a"), Mode: 0o644},
		"b":       &fstest.MapFile{Mode: fs.ModeDir | 0o755},
		"b/b.txt": &fstest.MapFile{Data: []byte("bb"), Mode: 0o644},
	}
	ctx, cancel := context.WithCancel(t.Context())
	// cancel before iteration starts to exercise ctx.Err() early return path
	cancel()

	seq := walk.FS(ctx, root, "fstest://")
	require.NotNil(t, seq)
	count := 0
	for range seq {
		count++
	}
	require.Equal(t, 0, count, "no entries should be yielded when context is canceled")
}

func TestFstest(t *testing.T) {
	t.Parallel()
	root := fstest.MapFS{
		"a": &fstest.MapFile{
			Data:    []byte("aaa"),
			Mode:    0644,
			ModTime: time.Now(),
		},
		"b": &fstest.MapFile{
			Mode:    0755 | fs.ModeDir,
			ModTime: time.Now(),
		},
		"b/b.txt": &fstest.MapFile{
			Data:    []byte("bbbbbb"),
			Mode:    0644,
			ModTime: time.Now(),
		},
		"b/foo.sock": &fstest.MapFile{
			Mode:    0644 | fs.ModeSocket,
			ModTime: time.Now(),
		},
	}

	actual := make([]then, 0, 2)
	for entry, err := range walk.FS(t.Context(), root, "fstest://") {
		actual = append(actual, testEntry(t, entry, err))
	}

	// socket is excluded, entries come in lexical order
	require.Equal(t,
		[]then{
			{path: filepath.Join("fstest://", "a"), size: 3},
			{path: filepath.Join("fstest://", "b/b.txt"), size: 6},
		},
		actual,
	)
}

func TestSuffix(t *testing.T) {
	t.Parallel()
	root := fstest.MapFS{
		"10.0.0.6:443.sslscan.xml":      &fstest.MapFile{Data: []byte("<document/>"), Mode: 0o644},
		"10.0.0.5:443.sslscan.xml":      &fstest.MapFile{Data: []byte("<document/>"), Mode: 0o644},
		"nmap.xml":                      &fstest.MapFile{Data: []byte("<nmaprun/>"), Mode: 0o644},
		"old/10.0.0.7:8443.sslscan.xml": &fstest.MapFile{Data: []byte("<document/>"), Mode: 0o644},
		"sslscan.xml.bak":               &fstest.MapFile{Data: []byte("x"), Mode: 0o644},
	}

	var paths []string
	for entry, err := range walk.Suffix(walk.FS(t.Context(), root, "out"), "sslscan.xml") {
		require.NoError(t, err)
		paths = append(paths, entry.Path())
	}
	require.Equal(t, []string{
		filepath.Join("out", "10.0.0.5:443.sslscan.xml"),
		filepath.Join("out", "10.0.0.6:443.sslscan.xml"),
		filepath.Join("out", "old/10.0.0.7:8443.sslscan.xml"),
	}, paths)
}

func TestRoots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.sslscan.xml"), []byte("<document/>"), 0o600))
	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	var actual []then
	for entry, err := range walk.Roots(t.Context(), root) {
		actual = append(actual, testEntry(t, entry, err))
	}
	require.Equal(t, []then{{path: filepath.Join(dir, "x.sslscan.xml"), size: 11}}, actual)
}
