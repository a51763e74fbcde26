package model

import (
	"io"
	"io/fs"
)

// Entry is a regular file found while walking the output directory. It
// allows to get the path, Open the file and do stat
type Entry interface {
	Path() string
	Open() (io.ReadCloser, error)
	Stat() (fs.FileInfo, error)
}
