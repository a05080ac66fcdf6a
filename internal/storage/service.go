package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/namvu9/seedbox/pkg/btorrent"
	"github.com/namvu9/seedbox/pkg/errors"
)

// Service maps torrents to files in a base directory
type Service interface {
	// Open returns the writable storage of t, creating and
	// sizing its file if necessary. Storage is shared between
	// calls for the same torrent.
	Open(btorrent.Torrent) (Storage, error)

	// OpenReader returns a new read-only handle to the file
	// of t
	OpenReader(btorrent.Torrent) (Storage, error)

	// Release closes the writable storage of t, if open. A
	// later Open returns a new handle.
	Release(btorrent.Torrent) error

	// Has reports whether the file of t is present and
	// complete in length
	Has(btorrent.Torrent) bool

	Path(btorrent.Torrent) string
	Close() error
}

type Config struct {
	BaseDir string
}

type fileService struct {
	mu      sync.Mutex
	baseDir string
	files   map[string]*File
}

func NewService(cfg Config) Service {
	return &fileService{
		baseDir: cfg.BaseDir,
		files:   make(map[string]*File),
	}
}

func (s *fileService) Path(t btorrent.Torrent) string {
	return filepath.Join(s.baseDir, filepath.Base(t.Name))
}

func (s *fileService) Open(t btorrent.Torrent) (Storage, error) {
	var op errors.Op = "(*fileService).Open"

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[t.ID()]; ok {
		return f, nil
	}

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, op, errors.IO)
	}

	f, err := OpenFile(s.Path(t), t.TotalLength())
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	s.files[t.ID()] = f
	return f, nil
}

func (s *fileService) OpenReader(t btorrent.Torrent) (Storage, error) {
	f, err := OpenReadOnly(s.Path(t))
	if err != nil {
		return nil, errors.Wrap(err, errors.Op("(*fileService).OpenReader"), errors.NotFound)
	}

	return f, nil
}

func (s *fileService) Release(t btorrent.Torrent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[t.ID()]
	if !ok {
		return nil
	}
	delete(s.files, t.ID())

	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.Op("(*fileService).Release"), errors.IO)
	}

	return nil
}

func (s *fileService) Has(t btorrent.Torrent) bool {
	info, err := os.Stat(s.Path(t))
	if err != nil {
		return false
	}

	return !info.IsDir() && info.Size() >= t.TotalLength()
}

func (s *fileService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs errors.Errors
	for id, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, id)
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}
