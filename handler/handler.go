// Package handler binds persisted runs to storage resources. Each run
// owns exactly one Handler; a Factory creates them. Factories are plain
// values handed to the container so several can be tried in order when
// one of them stops working.
package handler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/twlk9/spillmap/keys"
)

var (
	// ErrHandlerInvalid is returned when a handler or factory is no
	// longer usable, e.g. its directory was removed underneath it.
	ErrHandlerInvalid = fmt.Errorf("%w: handler is no longer valid", keys.ErrIO)
)

// Handler owns the storage resource of one run.
type Handler interface {
	// Name identifies the resource in logs (a path for files).
	Name() string

	// IsValid reports whether the resource can still be used.
	IsValid() bool

	// Create truncates the resource and opens it for writing. The caller
	// must Close the writer, also on error paths.
	Create() (io.WriteCloser, error)

	// Open opens the resource for reading from the start.
	Open() (io.ReadCloser, error)

	// Size is the current size of the resource in bytes.
	Size() int64

	// Delete releases the resource. Deleting twice is not an error.
	Delete() error
}

// Factory creates fresh handlers.
type Factory interface {
	NewHandler() (Handler, error)
	IsValid() bool
	String() string
}

// DirFactory creates one file per run inside Dir.
type DirFactory struct {
	Dir    string
	Prefix string
}

// NewTempDirFactory creates a private temporary directory and a factory
// writing into it.
func NewTempDirFactory(prefix string) (*DirFactory, error) {
	dir, err := os.MkdirTemp("", prefix+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %w", keys.ErrIO, err)
	}
	return &DirFactory{Dir: dir, Prefix: prefix}, nil
}

func (f *DirFactory) String() string {
	return "dir:" + f.Dir
}

// IsValid reports whether the directory still exists.
func (f *DirFactory) IsValid() bool {
	fi, err := os.Stat(f.Dir)
	return err == nil && fi.IsDir()
}

// NewHandler reserves a uniquely named file. The file exists (empty)
// once this returns so that concurrent factories sharing a directory can
// never hand out the same name.
func (f *DirFactory) NewHandler() (Handler, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrHandlerInvalid, f.Dir)
	}
	path := filepath.Join(f.Dir, f.Prefix+uuid.NewString()+".run")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", keys.ErrIO, path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: close %s: %w", keys.ErrIO, path, err)
	}
	return &FileHandler{path: path}, nil
}

// Cleanup removes the factory's directory and everything in it.
func (f *DirFactory) Cleanup() error {
	return os.RemoveAll(f.Dir)
}

// FileHandler is a Handler backed by a file on local disk.
type FileHandler struct {
	path string
}

// NewFileHandler wraps an existing file, e.g. a run left behind by an
// earlier process.
func NewFileHandler(path string) *FileHandler {
	return &FileHandler{path: path}
}

func (h *FileHandler) Name() string { return h.path }

func (h *FileHandler) IsValid() bool {
	fi, err := os.Stat(h.path)
	return err == nil && fi.Mode().IsRegular()
}

func (h *FileHandler) Create() (io.WriteCloser, error) {
	if !h.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrHandlerInvalid, h.path)
	}
	f, err := os.OpenFile(h.path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s for write: %w", keys.ErrIO, h.path, err)
	}
	return &syncCloser{File: f}, nil
}

func (h *FileHandler) Open() (io.ReadCloser, error) {
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrHandlerInvalid, h.path)
		}
		return nil, fmt.Errorf("%w: open %s: %w", keys.ErrIO, h.path, err)
	}
	return f, nil
}

func (h *FileHandler) Size() int64 {
	fi, err := os.Stat(h.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (h *FileHandler) Delete() error {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", keys.ErrIO, h.path, err)
	}
	return nil
}

// syncCloser makes sure a run is on disk before the writer reports
// success, since the in-memory copy is dropped right after.
type syncCloser struct {
	*os.File
}

func (s *syncCloser) Close() error {
	if err := s.File.Sync(); err != nil {
		s.File.Close()
		return fmt.Errorf("%w: sync %s: %w", keys.ErrIO, s.File.Name(), err)
	}
	return s.File.Close()
}

// MemFactory keeps every run in memory. It is handy for tests and for
// callers that only want the merge and rewrite machinery.
type MemFactory struct {
	mu      sync.Mutex
	name    string
	seq     int
	invalid bool
}

// NewMemFactory returns a factory whose handlers are named name-N.
func NewMemFactory(name string) *MemFactory {
	return &MemFactory{name: name}
}

func (f *MemFactory) String() string { return "mem:" + f.name }

func (f *MemFactory) IsValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid
}

// Invalidate makes the factory refuse new handlers, the way a removed
// temp directory would.
func (f *MemFactory) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = true
}

func (f *MemFactory) NewHandler() (Handler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalid {
		return nil, fmt.Errorf("%w: %s", ErrHandlerInvalid, f.String())
	}
	f.seq++
	return &MemHandler{name: fmt.Sprintf("%s-%d", f.name, f.seq)}, nil
}

// MemHandler is a Handler over a byte slice.
type MemHandler struct {
	mu      sync.Mutex
	name    string
	data    []byte
	deleted bool
}

func (h *MemHandler) Name() string { return h.name }

func (h *MemHandler) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.deleted
}

func (h *MemHandler) Create() (io.WriteCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleted {
		return nil, fmt.Errorf("%w: %s", ErrHandlerInvalid, h.name)
	}
	h.data = nil
	return &memWriter{h: h}, nil
}

func (h *MemHandler) Open() (io.ReadCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleted {
		return nil, fmt.Errorf("%w: %s", ErrHandlerInvalid, h.name)
	}
	return &memReader{data: h.data}, nil
}

func (h *MemHandler) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.data))
}

func (h *MemHandler) Delete() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = true
	h.data = nil
	return nil
}

// Bytes exposes the stored resource; tests use it to corrupt runs.
func (h *MemHandler) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

type memWriter struct {
	h      *MemHandler
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.h.mu.Lock()
	defer w.h.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	w.h.data = append(w.h.data, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.h.mu.Lock()
	defer w.h.mu.Unlock()
	w.closed = true
	return nil
}

// memReader reads a snapshot; a later Create does not disturb it.
type memReader struct {
	data []byte
	off  int
}

func (r *memReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func (r *memReader) Close() error { return nil }
