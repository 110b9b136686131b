// Package runfile reads and writes the on-disk form of a persisted run.
//
// A run file is written in one forward pass and read back the same way:
//
//	header:  magic | version u32 | comparator name | codec name |
//	         fingerprint u64 | compression type u8
//	blocks:  uvarint stored length | stored bytes | type u8 | checksum u32
//	footer:  uvarint 0 | element count u64 | magic
//
// Names are uvarint length prefixed. A block's payload is a sequence of
// uvarint length prefixed elements, already in sorted order, so readers
// can stream without an index. The header lets a reader refuse a run
// written under another comparator or codec instead of misordering it.
package runfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spaolacci/murmur3"

	"github.com/twlk9/spillmap/bufferpool"
	"github.com/twlk9/spillmap/compression"
	"github.com/twlk9/spillmap/keys"
)

const (
	// Version of the layout written by this package.
	Version = 1

	// DefaultBlockSize is the uncompressed payload size at which a block
	// is cut.
	DefaultBlockSize = 32 * 1024

	// BlockTrailerSize is the compression type byte plus the checksum.
	BlockTrailerSize = 5

	// maxStoredBlock guards against reading garbage lengths.
	maxStoredBlock = 1 << 30
	maxNameLen     = 4096
)

// Magic opens and closes every run file.
var Magic = []byte("SPLMRUN1")

var (
	// ErrIncompatibleRun is returned when a run was written under a
	// different comparator or codec than the one reading it.
	ErrIncompatibleRun = fmt.Errorf("%w: incompatible run", keys.ErrIO)
)

// Meta describes how the elements of a run were ordered and encoded.
type Meta struct {
	Comparator  string
	Codec       string
	Compression compression.Type
}

// Fingerprint hashes the ordering and encoding names.
func (m Meta) Fingerprint() uint64 {
	h := murmur3.New64()
	h.Write([]byte(m.Comparator))
	h.Write([]byte{0})
	h.Write([]byte(m.Codec))
	return h.Sum64()
}

// Compatible reports an ErrIncompatibleRun describing the first
// difference between a run's metadata and what the reader expects.
func (m Meta) Compatible(expect Meta) error {
	if m.Comparator != expect.Comparator {
		return fmt.Errorf("%w: comparator %q, expected %q", ErrIncompatibleRun, m.Comparator, expect.Comparator)
	}
	if m.Codec != expect.Codec {
		return fmt.Errorf("%w: codec %q, expected %q", ErrIncompatibleRun, m.Codec, expect.Codec)
	}
	return nil
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{keys.ErrCorruption}, args...)...)
}

func checksum(b []byte) uint32 {
	return murmur3.Sum32(b)
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Compression compression.Config
	BlockSize   int
	Logger      *slog.Logger

	// Name identifies the destination in logs.
	Name string
}

// Writer streams sorted, encoded elements into a run file.
type Writer struct {
	w          *bufio.Writer
	logger     *slog.Logger
	name       string
	blockSize  int
	compressor compression.Compressor

	block   []byte
	scratch []byte
	count   uint64
	offset  uint64

	finished bool
	err      error
}

// NewWriter writes the header and returns a writer positioned at the
// first block. It never closes dst.
func NewWriter(dst io.Writer, meta Meta, opts WriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	c, err := compression.NewCompressor(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	meta.Compression = c.Type()

	w := &Writer{
		w:          bufio.NewWriter(dst),
		logger:     opts.Logger,
		name:       opts.Name,
		blockSize:  opts.BlockSize,
		compressor: c,
		block:      bufferpool.GetBuffer(opts.BlockSize)[:0],
	}

	hdr := make([]byte, 0, 64+len(meta.Comparator)+len(meta.Codec))
	hdr = append(hdr, Magic...)
	hdr = binary.LittleEndian.AppendUint32(hdr, Version)
	hdr = binary.AppendUvarint(hdr, uint64(len(meta.Comparator)))
	hdr = append(hdr, meta.Comparator...)
	hdr = binary.AppendUvarint(hdr, uint64(len(meta.Codec)))
	hdr = append(hdr, meta.Codec...)
	hdr = binary.LittleEndian.AppendUint64(hdr, meta.Fingerprint())
	hdr = append(hdr, byte(meta.Compression))
	if err := w.write(hdr); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) write(b []byte) error {
	if w.err != nil {
		return w.err
	}
	n, err := w.w.Write(b)
	w.offset += uint64(n)
	if err != nil {
		w.err = fmt.Errorf("%w: write run %s: %w", keys.ErrIO, w.name, err)
		w.logger.Error("Failed to write run", "error", err, "run", w.name, "offset", w.offset)
	}
	return w.err
}

// Add appends one encoded element. Elements must arrive in sorted order;
// the writer does not check, it only stores bytes.
func (w *Writer) Add(rec []byte) error {
	if w.finished {
		return fmt.Errorf("%w: run writer is finished", keys.ErrIllegalState)
	}
	if w.err != nil {
		return w.err
	}
	w.block = binary.AppendUvarint(w.block, uint64(len(rec)))
	w.block = append(w.block, rec...)
	w.count++
	if len(w.block) >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.block) == 0 {
		return nil
	}
	stored, typ, err := compression.EncodeBlock(w.compressor, w.scratch[:0], w.block)
	if err != nil {
		w.logger.Error("Failed to compress run block", "error", err, "run", w.name, "block_size", len(w.block), "offset", w.offset)
		w.err = fmt.Errorf("failed to compress block: %w", err)
		return w.err
	}
	w.scratch = stored

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(stored)))
	var trailer [BlockTrailerSize]byte
	trailer[0] = byte(typ)
	binary.LittleEndian.PutUint32(trailer[1:], checksum(stored))

	if err := w.write(lenBuf[:n]); err != nil {
		return err
	}
	if err := w.write(stored); err != nil {
		return err
	}
	if err := w.write(trailer[:]); err != nil {
		return err
	}
	w.block = w.block[:0]
	return nil
}

// Finish flushes the last block and writes the footer. The destination
// is not closed.
func (w *Writer) Finish() error {
	if w.finished {
		return w.err
	}
	w.finished = true
	defer func() {
		bufferpool.PutBuffer(w.block)
		w.block = nil
	}()
	if err := w.flushBlock(); err != nil {
		return err
	}
	footer := make([]byte, 0, 1+8+len(Magic))
	footer = binary.AppendUvarint(footer, 0)
	footer = binary.LittleEndian.AppendUint64(footer, w.count)
	footer = append(footer, Magic...)
	if err := w.write(footer); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		w.logger.Error("Failed to flush run writer", "error", err, "run", w.name)
		w.err = fmt.Errorf("%w: flush run %s: %w", keys.ErrIO, w.name, err)
	}
	return w.err
}

// Count returns the number of elements added so far.
func (w *Writer) Count() uint64 {
	return w.count
}

// Size returns the number of bytes handed to the destination so far.
func (w *Writer) Size() uint64 {
	return w.offset
}

// Reader streams the elements of a run file in stored order.
type Reader struct {
	r    *bufio.Reader
	meta Meta

	block  []byte
	off    int
	stored []byte

	count uint64
	done  bool
	err   error
}

// ReadMeta reads only the header.
func ReadMeta(src io.Reader) (Meta, error) {
	r, err := NewReader(src, nil)
	if err != nil {
		return Meta{}, err
	}
	return r.Meta(), nil
}

// NewReader reads and validates the header. When expect is non-nil the
// run must have been written with the same comparator and codec.
func NewReader(src io.Reader, expect *Meta) (*Reader, error) {
	r := &Reader{r: bufio.NewReader(src)}
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r.r, magic); err != nil {
		return nil, r.truncated("header", err)
	}
	if !bytes.Equal(magic, Magic) {
		return nil, corruptf("bad magic %q", magic)
	}
	var vbuf [4]byte
	if _, err := io.ReadFull(r.r, vbuf[:]); err != nil {
		return nil, r.truncated("header", err)
	}
	if v := binary.LittleEndian.Uint32(vbuf[:]); v != Version {
		return nil, fmt.Errorf("%w: unsupported run version %d", ErrIncompatibleRun, v)
	}
	cmpName, err := r.readName()
	if err != nil {
		return nil, err
	}
	codecName, err := r.readName()
	if err != nil {
		return nil, err
	}
	var tail [9]byte
	if _, err := io.ReadFull(r.r, tail[:]); err != nil {
		return nil, r.truncated("header", err)
	}
	r.meta = Meta{
		Comparator:  cmpName,
		Codec:       codecName,
		Compression: compression.Type(tail[8]),
	}
	if fp := binary.LittleEndian.Uint64(tail[:8]); fp != r.meta.Fingerprint() {
		return nil, corruptf("header fingerprint mismatch")
	}
	if expect != nil {
		if err := r.meta.Compatible(*expect); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Reader) truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return corruptf("truncated run %s", what)
	}
	return fmt.Errorf("%w: read run %s: %w", keys.ErrIO, what, err)
}

func (r *Reader) readName() (string, error) {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return "", r.truncated("header", err)
	}
	if n > maxNameLen {
		return "", corruptf("name length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return "", r.truncated("header", err)
	}
	return string(b), nil
}

// Meta returns the header of the run.
func (r *Reader) Meta() Meta {
	return r.meta
}

// Next returns the next encoded element. The slice is only valid until
// the following call. It returns false at the end of the run or on
// error; check Err to tell them apart.
func (r *Reader) Next() ([]byte, bool) {
	for r.off >= len(r.block) {
		if r.done || r.err != nil {
			return nil, false
		}
		r.readBlock()
	}
	n, m := binary.Uvarint(r.block[r.off:])
	if m <= 0 || uint64(len(r.block)-r.off-m) < n {
		r.fail(corruptf("bad element header at block offset %d", r.off))
		return nil, false
	}
	start := r.off + m
	r.off = start + int(n)
	r.count++
	return r.block[start:r.off], true
}

func (r *Reader) fail(err error) {
	r.err = err
	r.block = nil
	r.off = 0
}

func (r *Reader) readBlock() {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.fail(r.truncated("block", err))
		return
	}
	if n == 0 {
		r.readFooter()
		return
	}
	if n > maxStoredBlock {
		r.fail(corruptf("block length %d", n))
		return
	}
	if uint64(cap(r.stored)) < n+BlockTrailerSize {
		r.stored = make([]byte, n+BlockTrailerSize)
	}
	buf := r.stored[:n+BlockTrailerSize]
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.fail(r.truncated("block", err))
		return
	}
	stored, trailer := buf[:n], buf[n:]
	if binary.LittleEndian.Uint32(trailer[1:]) != checksum(stored) {
		r.fail(corruptf("block checksum mismatch after %d elements", r.count))
		return
	}
	block, err := compression.DecodeBlock(r.block[:0], stored, compression.Type(trailer[0]))
	if err != nil {
		r.fail(corruptf("decode block: %v", err))
		return
	}
	r.block = block
	r.off = 0
}

func (r *Reader) readFooter() {
	var footer [8]byte
	if _, err := io.ReadFull(r.r, footer[:]); err != nil {
		r.fail(r.truncated("footer", err))
		return
	}
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r.r, magic); err != nil {
		r.fail(r.truncated("footer", err))
		return
	}
	if !bytes.Equal(magic, Magic) {
		r.fail(corruptf("bad footer magic"))
		return
	}
	if want := binary.LittleEndian.Uint64(footer[:]); want != r.count {
		r.fail(corruptf("footer count %d, read %d", want, r.count))
		return
	}
	r.done = true
	r.block = nil
	r.off = 0
}

// Err returns the first error met while reading.
func (r *Reader) Err() error {
	return r.err
}

// Count returns the number of elements returned so far.
func (r *Reader) Count() uint64 {
	return r.count
}
