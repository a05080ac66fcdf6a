package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/namvu9/seedbox/pkg/errors"
)

// ErrOutOfRange is returned for reads and writes that extend
// past the end of the file
var ErrOutOfRange = errors.New("range out of bounds")

// Storage reads and writes byte ranges of one torrent's
// file
type Storage interface {
	ReadRange(offset int64, length int) ([]byte, error)
	WriteRange(offset int64, data []byte) error
	Size() int64
	Close() error
}

func checkRange(op errors.Op, offset, length, size int64) error {
	if offset < 0 || length < 0 || offset+length > size {
		err := fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfRange, offset, offset+length, size)
		return errors.Wrap(err, op, errors.BadArgument)
	}

	return nil
}

// File is a Storage backed by a file on disk
type File struct {
	file     *os.File
	path     string
	size     int64
	readOnly bool
}

// OpenFile opens the file at path for reading and writing,
// creating it if necessary, and grows it to size bytes
func OpenFile(path string, size int64) (*File, error) {
	var op errors.Op = "storage.OpenFile"

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, op, errors.IO)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, op, errors.IO)
	}

	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrap(err, op, errors.IO)
		}
	}

	return &File{file: f, path: path, size: size}, nil
}

// OpenReadOnly opens an existing file for reading. Its size
// is the size of the file on disk.
func OpenReadOnly(path string) (*File, error) {
	var op errors.Op = "storage.OpenReadOnly"

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, op, errors.IO)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, op, errors.IO)
	}

	return &File{file: f, path: path, size: info.Size(), readOnly: true}, nil
}

func (f *File) ReadRange(offset int64, length int) ([]byte, error) {
	var op errors.Op = "(*File).ReadRange"

	if err := checkRange(op, offset, int64(length), f.size); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := f.file.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && n == length) {
		return nil, errors.Wrap(err, op, errors.IO)
	}

	return buf, nil
}

func (f *File) WriteRange(offset int64, data []byte) error {
	var op errors.Op = "(*File).WriteRange"

	if f.readOnly {
		return errors.Wrap(errors.Newf("%s is opened read-only", f.path), op, errors.BadArgument)
	}

	if err := checkRange(op, offset, int64(len(data)), f.size); err != nil {
		return err
	}

	if _, err := f.file.WriteAt(data, offset); err != nil {
		return errors.Wrap(err, op, errors.IO)
	}

	return nil
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Close() error {
	return f.file.Close()
}

// Memory is a Storage backed by a byte slice
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

func (m *Memory) ReadRange(offset int64, length int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := checkRange("(*Memory).ReadRange", offset, int64(length), int64(len(m.data))); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	copy(out, m.data[offset:])

	return out, nil
}

func (m *Memory) WriteRange(offset int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkRange("(*Memory).WriteRange", offset, int64(len(data)), int64(len(m.data))); err != nil {
		return err
	}

	copy(m.data[offset:], data)
	return nil
}

// Bytes returns a copy of the stored data
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, len(m.data))
	copy(out, m.data)

	return out
}

func (m *Memory) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.data))
}

func (m *Memory) Close() error {
	return nil
}
