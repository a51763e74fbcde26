package sslscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/log"
	"github.com/CZERTAINLY/cipher-lens/internal/model"
	"github.com/CZERTAINLY/cipher-lens/internal/walk"
)

// DefaultExt is the default suffix of cipher-scan documents
const DefaultExt = "sslscan.xml"

// Enumerator runs sslscan for a TLS target, so it writes its XML output
// to the <dir>/<host>:<port>.<ext> file.
type Enumerator struct {
	binary  string
	args    []string
	timeout time.Duration
	dir     string
	ext     string
}

func New(dir string) Enumerator {
	return Enumerator{
		binary:  "sslscan",
		timeout: 5 * time.Minute,
		dir:     dir,
		ext:     DefaultExt,
	}
}

func (e Enumerator) WithBinary(binary string) Enumerator {
	if binary != "" {
		e.binary = binary
	}
	return e
}

// WithArgs appends extra arguments passed to sslscan before the target
func (e Enumerator) WithArgs(args ...string) Enumerator {
	e.args = append(append([]string(nil), e.args...), args...)
	return e
}

func (e Enumerator) WithTimeout(timeout time.Duration) Enumerator {
	e.timeout = timeout
	return e
}

func (e Enumerator) WithExt(ext string) Enumerator {
	if ext != "" {
		e.ext = ext
	}
	return e
}

// FileName returns the name of a cipher-scan document for the target
func FileName(target model.TLSTarget, ext string) string {
	return target.String() + "." + ext
}

// Command returns the command which enumerates the target
func (e Enumerator) Command(target model.TLSTarget) Command {
	args := append([]string(nil), e.args...)
	args = append(args,
		"--xml="+filepath.Join(e.dir, FileName(target, e.ext)),
		target.Dial(),
	)
	return Command{
		Path:    e.binary,
		Args:    args,
		Timeout: e.timeout,
	}
}

// Enumerate runs sslscan against the target and returns a path to its
// output. A non zero exit or a missing output file is reported as
// model.ErrExternalTool and a partial output file is removed.
func (e Enumerator) Enumerate(ctx context.Context, target model.TLSTarget) (string, error) {
	ctx = log.ContextAttrs(ctx, slog.String("target", target.String()))
	cmd := e.Command(target)
	path := filepath.Join(e.dir, FileName(target, e.ext))

	slog.DebugContext(ctx, "sslscan started", "path", cmd.Path, "args", cmd.Args)
	res := Run(ctx, cmd, func(ctx context.Context, line string) {
		slog.DebugContext(ctx, "sslscan", "stderr", line)
	})
	elapsed := res.Stopped.Sub(res.Started)

	if res.Err != nil {
		removePartial(ctx, path)
		return "", fmt.Errorf("%w: sslscan %s: %w", model.ErrExternalTool, target, res.Err)
	}

	info, err := os.Stat(path)
	switch {
	case err != nil:
		return "", fmt.Errorf("%w: sslscan %s: no output file: %w", model.ErrExternalTool, target, err)
	case !info.Mode().IsRegular():
		return "", fmt.Errorf("%w: sslscan %s: output %s is not a regular file", model.ErrExternalTool, target, path)
	}

	slog.DebugContext(ctx, "sslscan finished", "output", path, "elapsed", elapsed.String())
	return path, nil
}

func removePartial(ctx context.Context, path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "can't remove partial output", "path", path, "error", err)
	}
}

// Documents returns paths of all cipher-scan documents found under dir
// in lexical order. The directory is walked recursively.
func Documents(ctx context.Context, dir, ext string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		root, err := os.OpenRoot(dir)
		if err != nil {
			yield("", &model.DocumentError{Path: dir, Err: fmt.Errorf("%w: %w", model.ErrIO, err)})
			return
		}
		defer func() {
			_ = root.Close()
		}()

		for entry, err := range walk.Suffix(walk.Roots(ctx, root), ext) {
			if err != nil {
				if !yield("", &model.DocumentError{Path: dir, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}) {
					return
				}
				continue
			}
			if !yield(entry.Path(), nil) {
				return
			}
		}
	}
}
