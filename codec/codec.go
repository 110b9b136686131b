// Package codec serializes run elements. A codec's Name is stored in the
// header of every persisted run and checked again when the run is read,
// so renaming a codec makes existing runs unreadable on purpose.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/twlk9/spillmap/keys"
)

// ErrShortBuffer is returned when an encoded element is truncated.
var ErrShortBuffer = fmt.Errorf("%w: short buffer", keys.ErrCorruption)

// Codec turns elements into bytes and back. Decode must not retain src;
// the caller reuses the buffer for the next element.
type Codec[T any] interface {
	Name() string
	Append(dst []byte, v T) ([]byte, error)
	Decode(src []byte) (T, error)
}

type bytesCodec struct{}

// Bytes stores byte slices as-is.
func Bytes() Codec[[]byte] { return bytesCodec{} }

func (bytesCodec) Name() string { return "bytes" }

func (bytesCodec) Append(dst []byte, v []byte) ([]byte, error) {
	return append(dst, v...), nil
}

func (bytesCodec) Decode(src []byte) ([]byte, error) {
	return bytes.Clone(src), nil
}

type stringCodec struct{}

// String stores strings as their UTF-8 bytes.
func String() Codec[string] { return stringCodec{} }

func (stringCodec) Name() string { return "string" }

func (stringCodec) Append(dst []byte, v string) ([]byte, error) {
	return append(dst, v...), nil
}

func (stringCodec) Decode(src []byte) (string, error) {
	return string(src), nil
}

type int64Codec struct{}

// Int64 stores signed integers as fixed 8 byte big-endian values.
func Int64() Codec[int64] { return int64Codec{} }

func (int64Codec) Name() string { return "int64" }

func (int64Codec) Append(dst []byte, v int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(dst, uint64(v)), nil
}

func (int64Codec) Decode(src []byte) (int64, error) {
	if len(src) != 8 {
		return 0, ErrShortBuffer
	}
	return int64(binary.BigEndian.Uint64(src)), nil
}

type uint64Codec struct{}

// Uint64 stores unsigned integers as uvarints.
func Uint64() Codec[uint64] { return uint64Codec{} }

func (uint64Codec) Name() string { return "uvarint" }

func (uint64Codec) Append(dst []byte, v uint64) ([]byte, error) {
	return binary.AppendUvarint(dst, v), nil
}

func (uint64Codec) Decode(src []byte) (uint64, error) {
	v, n := binary.Uvarint(src)
	if n <= 0 || n != len(src) {
		return 0, ErrShortBuffer
	}
	return v, nil
}

type msgpackCodec[T any] struct{}

// Msgpack stores structured documents with msgpack. Use it for composite
// records whose fields are exported.
func Msgpack[T any]() Codec[T] { return msgpackCodec[T]{} }

// Name includes the document type, so a run written for one type is
// refused when opened as another.
func (msgpackCodec[T]) Name() string { return "msgpack(" + reflect.TypeFor[T]().String() + ")" }

func (msgpackCodec[T]) Append(dst []byte, v T) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return dst, fmt.Errorf("msgpack marshal: %w", err)
	}
	return append(dst, b...), nil
}

func (msgpackCodec[T]) Decode(src []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(src, &v); err != nil {
		return v, fmt.Errorf("msgpack unmarshal: %w", err)
	}
	return v, nil
}

type pairCodec[K, V any] struct {
	k Codec[K]
	v Codec[V]
}

// Pair composes a key codec and a value codec into an entry codec. The
// key is length prefixed; the value takes the rest of the record.
func Pair[K, V any](k Codec[K], v Codec[V]) Codec[keys.Entry[K, V]] {
	return pairCodec[K, V]{k: k, v: v}
}

func (c pairCodec[K, V]) Name() string {
	return "pair(" + c.k.Name() + "," + c.v.Name() + ")"
}

func (c pairCodec[K, V]) Append(dst []byte, e keys.Entry[K, V]) ([]byte, error) {
	// Reserve room for the length prefix after encoding the key, since the
	// key's size is unknown up front.
	start := len(dst)
	dst, err := c.k.Append(dst, e.Key)
	if err != nil {
		return dst[:start], err
	}
	klen := len(dst) - start
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(klen))
	dst = append(dst, lb[:n]...)
	copy(dst[start+n:], dst[start:start+klen])
	copy(dst[start:], lb[:n])
	return c.v.Append(dst, e.Value)
}

func (c pairCodec[K, V]) Decode(src []byte) (keys.Entry[K, V], error) {
	var e keys.Entry[K, V]
	klen, n := binary.Uvarint(src)
	if n <= 0 || uint64(len(src)-n) < klen {
		return e, ErrShortBuffer
	}
	k, err := c.k.Decode(src[n : n+int(klen)])
	if err != nil {
		return e, fmt.Errorf("decode key: %w", err)
	}
	v, err := c.v.Decode(src[n+int(klen):])
	if err != nil {
		return e, fmt.Errorf("decode value: %w", err)
	}
	e.Key, e.Value = k, v
	return e, nil
}
