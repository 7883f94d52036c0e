package processor

import (
	"fmt"
	"io"
	"os"
)

// SpoolFile is a temp file that deletes itself (and an optional owning
// directory) on Close.
type SpoolFile struct {
	*os.File
	size    int64
	removed string
}

// Spool copies r into a new temp file in dir, rewound and ready to read.
func Spool(dir, pattern string, r io.Reader) (*SpoolFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %v", ErrProcessingFailed, err)
	}

	n, err := io.Copy(f, r)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: spool: %v", ErrProcessingFailed, err)
	}

	return &SpoolFile{File: f, size: n, removed: f.Name()}, nil
}

// OpenSpool takes ownership of an existing file. When ownedDir is not empty it
// is removed recursively on Close instead of the file alone.
func OpenSpool(path, ownedDir string) (*SpoolFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	removed := path
	if ownedDir != "" {
		removed = ownedDir
	}
	return &SpoolFile{File: f, size: info.Size(), removed: removed}, nil
}

func (s *SpoolFile) Size() int64 {
	return s.size
}

func (s *SpoolFile) Close() error {
	err := s.File.Close()
	if rmErr := os.RemoveAll(s.removed); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
