package keys

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
)

// Base error categories shared by every package in the module. The
// root package re-exports them so callers only need one import.
var (
	// ErrConfiguration is the base for invalid construction arguments.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrIllegalState is the base for operations that are not allowed in
	// the container's current state.
	ErrIllegalState = errors.New("illegal state")

	// ErrIO is the base for resource creation and stream failures.
	ErrIO = errors.New("I/O failure")

	// ErrOutOfRange is returned when a bounded view is asked to hold an
	// element outside its bounds.
	ErrOutOfRange = errors.New("element out of view range")

	// ErrPersisted is returned by mutations on a persisted run.
	ErrPersisted = fmt.Errorf("%w: not modifiable while persisted", ErrIllegalState)

	// ErrNoSuchElement is returned when navigating an empty container or
	// an exhausted iterator.
	ErrNoSuchElement = fmt.Errorf("%w: no such element", ErrIllegalState)

	// ErrCorruption is returned when data corruption is detected
	ErrCorruption = fmt.Errorf("%w: data corruption detected", ErrIO)
)

// Comparator is a named total order. The name is written into every
// persisted run so that a run can never be read back under a different
// order. Two comparators with the same name must order identically.
type Comparator[K any] interface {
	Compare(a, b K) int
	Name() string
}

type funcComparator[K any] struct {
	name string
	fn   func(a, b K) int
}

func (c funcComparator[K]) Compare(a, b K) int { return c.fn(a, b) }
func (c funcComparator[K]) Name() string { return c.name }

// Func wraps a comparison function under the given name.
func Func[K any](name string, fn func(a, b K) int) Comparator[K] {
	return funcComparator[K]{name: name, fn: fn}
}

// Natural orders any cmp.Ordered type the way the language does.
func Natural[K cmp.Ordered]() Comparator[K] {
	return funcComparator[K]{name: "natural", fn: cmp.Compare[K]}
}

// Bytes orders byte slices lexicographically.
func Bytes() Comparator[[]byte] {
	return funcComparator[[]byte]{name: "bytewise", fn: bytes.Compare}
}

// Reverse inverts c.
func Reverse[K any](c Comparator[K]) Comparator[K] {
	return funcComparator[K]{
		name: "reverse(" + c.Name() + ")",
		fn:   func(a, b K) int { return c.Compare(b, a) },
	}
}

// Entry is one key/value pair of a sorted map.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// EntryComparator orders entries by key alone, so two entries with equal
// keys are equal no matter their values.
func EntryComparator[K, V any](c Comparator[K]) Comparator[Entry[K, V]] {
	return funcComparator[Entry[K, V]]{
		name: "entry:" + c.Name(),
		fn:   func(a, b Entry[K, V]) int { return c.Compare(a.Key, b.Key) },
	}
}

// Equal reports whether a and b are comparator-equal.
func Equal[K any](c Comparator[K], a, b K) bool {
	return c.Compare(a, b) == 0
}
