package report

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/CZERTAINLY/cipher-lens/internal/model"
)

// Sink receives a rendered report
type Sink interface {
	Write(b []byte) error
}

// WriterSink writes to an already open writer, typically os.Stdout
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Write(b []byte) error {
	_, err := s.W.Write(b)
	return err
}

// FileSink creates (or truncates) the file at Path and closes it before
// returning.
type FileSink struct {
	Path string
}

func (s FileSink) Write(b []byte) (err error) {
	f, err := os.Create(s.Path)
	if err != nil {
		return &model.DocumentError{Path: s.Path, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	if _, err := f.Write(b); err != nil {
		return &model.DocumentError{Path: s.Path, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}
	return nil
}

// Sinks is an ordered list of sinks, which all get identical bytes
type Sinks []Sink

// NewSinks returns stdout followed by a file sink when path is not empty
func NewSinks(stdout io.Writer, path string) Sinks {
	ret := Sinks{WriterSink{W: stdout}}
	if path != "" {
		ret = append(ret, FileSink{Path: path})
	}
	return ret
}

// Write passes b to every sink in order and stops on the first error
func (s Sinks) Write(b []byte) error {
	for _, sink := range s {
		if err := sink.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// Emit renders the report once and writes the result to all sinks
func (s Sinks) Emit(r Report, opts Options) error {
	b, err := Render(r, opts)
	if err != nil {
		return err
	}
	return s.Write(b)
}
