package walk

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/cipher-lens/internal/model"
)

// Roots is a convenience wrapper around FS for os.Root. See FS for details.
func Roots(ctx context.Context, roots ...*os.Root) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		for _, root := range roots {
			for entry, err := range FS(ctx, root.FS(), root.Name()) {
				if !yield(entry, err) {
					return
				}
			}
		}
	}
}

// FS recursively walks the filesystem rooted at root and return a handle for every regular file found.
// Or an error if file information retrieval fails.
// Each model.Entry's Path() is prefixed with name of a filesystem. Entries are
// yielded in lexical order. It does not follow symlinks.
func FS(ctx context.Context, root fs.FS, name string) iter.Seq2[model.Entry, error] {
	if root == nil {
		slog.WarnContext(ctx, "root is nil: not iterating")
		return nil
	}

	return func(yield func(model.Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			var entry = fsEntry{
				root:    root,
				abspath: filepath.Join(name, path),
				path:    path,
			}
			var yieldErr error
			if err != nil {
				yieldErr = err
			} else {
				info, err := d.Info()
				if err != nil {
					entry.infoErr = err
					yieldErr = err
				} else {
					if !info.Mode().IsRegular() {
						if !info.IsDir() {
							slog.DebugContext(ctx, "skipping non regular file", "path", entry.abspath)
						}
						return nil
					}
					entry.info = info
					yieldErr = nil
				}
			}

			if !yield(entry, yieldErr) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

// Suffix filters the sequence of entries to those whose file name ends with
// suffix. Errors are passed through.
func Suffix(seq iter.Seq2[model.Entry, error], suffix string) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		if seq == nil {
			return
		}
		for entry, err := range seq {
			if err == nil && !strings.HasSuffix(filepath.Base(entry.Path()), suffix) {
				continue
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}

// fsEntry implements model.Entry for a filesystem
// it uses root.Open to open the file
type fsEntry struct {
	root    fs.FS
	abspath string
	path    string
	info    fs.FileInfo
	infoErr error
}

// returns the path to the file prefixed with the name of a filesystem
func (e fsEntry) Path() string {
	return e.abspath
}

func (e fsEntry) Open() (io.ReadCloser, error) {
	if e.infoErr != nil {
		return nil, e.infoErr
	}
	return e.root.Open(e.path)
}

func (e fsEntry) Stat() (fs.FileInfo, error) {
	return e.info, e.infoErr
}
