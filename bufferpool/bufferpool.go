// Package bufferpool recycles the scratch buffers used to build and
// decode run file blocks.
package bufferpool

import (
	"sync"
)

// Size classes. A run block is DefaultBlockSize-ish before compression,
// so most requests land in the middle class.
const (
	smallBufferSize  = 4 * 1024
	blockBufferSize  = 64 * 1024
	largeBufferSize  = 256 * 1024
	numBufferClasses = 3
)

var classSizes = [numBufferClasses]int{smallBufferSize, blockBufferSize, largeBufferSize}

// BufferPool hands out byte slices from fixed size classes. Requests
// above the largest class are allocated directly and never pooled.
type BufferPool struct {
	classes [numBufferClasses]sync.Pool
}

// NewBufferPool creates a new buffer pool with predefined size classes.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	for i, size := range classSizes {
		size := size
		p.classes[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
	return p
}

func classFor(size int) int {
	for i, c := range classSizes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a slice of length size.
func (p *BufferPool) Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		return make([]byte, size)
	}
	bp := p.classes[i].Get().(*[]byte)
	return (*bp)[:size]
}

// Put returns buf to its class. Slices whose capacity is not exactly a
// class size (grown by append, or oversized) are left for the GC.
func (p *BufferPool) Put(buf []byte) {
	i := classFor(cap(buf))
	if i < 0 || classSizes[i] != cap(buf) {
		return
	}
	buf = buf[:0]
	p.classes[i].Put(&buf)
}

var globalBufferPool = NewBufferPool()

// GetBuffer returns a byte slice from the global pool.
func GetBuffer(size int) []byte {
	return globalBufferPool.Get(size)
}

// PutBuffer returns a byte slice to the global pool.
func PutBuffer(buf []byte) {
	globalBufferPool.Put(buf)
}
