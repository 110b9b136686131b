// Package memtable is a skiplist that can back an unpersisted run in place
// of the default B-tree. Nodes live in one int slice and elements in
// another, so the structure holds few pointers for the GC to chase.
//
// A MemTable is not safe for concurrent use; lookups reuse its search
// state.
package memtable

import (
	"math/rand/v2"

	"github.com/twlk9/spillmap/keys"
)

const tMaxHeight = 12

const (
	posElem   = iota // index of the element in elems
	posHeight        // height we are in the skiplist (number of next pointers)
	posNext          // First next pointer (level 0) (node + posNext + LEVEL is next pointer for LEVEL)
)

// compactMin is the number of unlinked nodes tolerated before a rebuild.
const compactMin = 1024

type MemTable[E any] struct {
	cmp       keys.Comparator[E]
	rnd       *rand.Rand
	elems     []E
	md        []int // node meta data, node 0 is the head
	prev      [tMaxHeight]int
	maxHeight int
	n         int
	dead      int // unlinked nodes still taking space in md
}

// New creates an empty skiplist ordered by cmp.
func New[E any](cmp keys.Comparator[E]) *MemTable[E] {
	mt := &MemTable[E]{
		cmp: cmp,
		rnd: rand.New(rand.NewPCG(4, 8)),
	}
	mt.reset()
	return mt
}

func (mt *MemTable[E]) reset() {
	mt.elems = mt.elems[:0]
	mt.md = make([]int, posNext+tMaxHeight)
	mt.md[posElem] = -1
	mt.md[posHeight] = tMaxHeight
	mt.maxHeight = 1
	mt.n = 0
	mt.dead = 0
}

func (mt *MemTable[E]) randHeight() int {
	const b = 4
	h := 1
	for h < tMaxHeight && mt.rnd.Int()%b == 0 {
		h++
	}
	return h
}

func (mt *MemTable[E]) elem(node int) E {
	return mt.elems[mt.md[node+posElem]]
}

// findGE returns the first node >= e and whether it equals e. With prev
// set it also records the last node < e on every level in mt.prev.
func (mt *MemTable[E]) findGE(e E, prev bool) (int, bool) {
	node := 0
	h := mt.maxHeight - 1
	for {
		next := mt.md[node+posNext+h]
		cmp := 1
		if next != 0 {
			cmp = mt.cmp.Compare(mt.elem(next), e)
		}
		if cmp < 0 { // If stored < search, continue forward
			node = next
		} else {
			if prev {
				mt.prev[h] = node
			} else if cmp == 0 {
				return next, true
			}
			if h == 0 {
				return next, cmp == 0
			}
			h--
		}
	}
}

func (mt *MemTable[E]) Len() int { return mt.n }

// Insert adds e. When an equal element exists, replace decides whether e
// takes its place; nil always replaces. Reports whether Len grew.
func (mt *MemTable[E]) Insert(e E, replace func(existing, candidate E) bool) bool {
	if node, ok := mt.findGE(e, true); ok {
		idx := mt.md[node+posElem]
		if replace == nil || replace(mt.elems[idx], e) {
			mt.elems[idx] = e
		}
		return false
	}

	h := mt.randHeight()
	if h > mt.maxHeight {
		// Only the new levels start at the head; findGE set the others.
		for i := mt.maxHeight; i < h; i++ {
			mt.prev[i] = 0
		}
		mt.maxHeight = h
	}

	idx := len(mt.elems)
	mt.elems = append(mt.elems, e)
	node := len(mt.md)
	mt.md = append(mt.md, idx, h)
	for i, n := range mt.prev[:h] {
		m := n + posNext + i
		mt.md = append(mt.md, mt.md[m])
		mt.md[m] = node
	}
	mt.n++
	return true
}

// Delete unlinks the element equal to e. The node keeps its next pointers
// so a walk standing on it can carry on.
func (mt *MemTable[E]) Delete(e E) (E, bool) {
	var zero E
	node, ok := mt.findGE(e, true)
	if !ok {
		return zero, false
	}
	for i := range mt.md[node+posHeight] {
		m := mt.prev[i] + posNext + i
		if mt.md[m] == node {
			mt.md[m] = mt.md[node+posNext+i]
		}
	}
	idx := mt.md[node+posElem]
	out := mt.elems[idx]
	mt.elems[idx] = zero
	mt.n--
	mt.dead++
	if mt.dead > compactMin && mt.dead > mt.n {
		mt.compact()
	}
	return out, true
}

// compact rebuilds the list without the unlinked nodes.
func (mt *MemTable[E]) compact() {
	live := make([]E, 0, mt.n)
	mt.Ascend(func(e E) bool {
		live = append(live, e)
		return true
	})
	mt.elems = nil
	mt.reset()
	for _, e := range live {
		mt.Insert(e, nil)
	}
}

func (mt *MemTable[E]) Get(e E) (E, bool) {
	var zero E
	if node, ok := mt.findGE(e, false); ok {
		return mt.elem(node), true
	}
	return zero, false
}

// Higher returns the smallest element after pos (at pos if inclusive).
func (mt *MemTable[E]) Higher(pos E, inclusive bool) (E, bool) {
	var zero E
	node, ok := mt.findGE(pos, false)
	if ok && !inclusive {
		node = mt.md[node+posNext]
	}
	if node == 0 {
		return zero, false
	}
	return mt.elem(node), true
}

// Lower returns the largest element before pos (at pos if inclusive).
func (mt *MemTable[E]) Lower(pos E, inclusive bool) (E, bool) {
	var zero E
	node, ok := mt.findGE(pos, true)
	if ok && inclusive {
		return mt.elem(node), true
	}
	if p := mt.prev[0]; p != 0 {
		return mt.elem(p), true
	}
	return zero, false
}

func (mt *MemTable[E]) Min() (E, bool) {
	var zero E
	if node := mt.md[posNext]; node != 0 {
		return mt.elem(node), true
	}
	return zero, false
}

func (mt *MemTable[E]) Max() (E, bool) {
	var zero E
	node := 0
	for h := mt.maxHeight - 1; h >= 0; h-- {
		for next := mt.md[node+posNext+h]; next != 0; next = mt.md[node+posNext+h] {
			node = next
		}
	}
	if node == 0 {
		return zero, false
	}
	return mt.elem(node), true
}

// Ascend calls fn for every element in order until it returns false.
func (mt *MemTable[E]) Ascend(fn func(E) bool) {
	for node := mt.md[posNext]; node != 0; node = mt.md[node+posNext] {
		if !fn(mt.elem(node)) {
			return
		}
	}
}

func (mt *MemTable[E]) Clear() {
	clear(mt.elems)
	mt.reset()
}

// MemoryUsage returns an approximation of memory usage in bytes, not
// counting what the elements point to.
func (mt *MemTable[E]) MemoryUsage() int {
	return len(mt.md) * 8
}
