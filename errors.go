package spillmap

import (
	"errors"
	"fmt"

	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/handler"
	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/runfile"
)

// Error definitions for the containers. The four base categories live in
// package keys so that every subpackage wraps the same values; test with
// errors.Is against either name.
var (
	// ErrConfiguration is the base of every construction error.
	ErrConfiguration = keys.ErrConfiguration

	// ErrIllegalState is returned when an operation is not allowed in the
	// current state.
	ErrIllegalState = keys.ErrIllegalState

	// ErrIO is the base of resource and stream failures.
	ErrIO = keys.ErrIO

	// ErrOutOfRange is returned when a bounded view is asked to hold an
	// element outside its bounds.
	ErrOutOfRange = keys.ErrOutOfRange

	// ErrPersisted is returned by mutations that reach a persisted run
	ErrPersisted = keys.ErrPersisted

	// ErrNoSuchElement is returned when navigating an empty container or an
	// exhausted iterator
	ErrNoSuchElement = keys.ErrNoSuchElement

	// ErrCorruption is returned when data corruption is detected
	ErrCorruption = keys.ErrCorruption

	// ErrIncompatibleRun is returned when a run was written with another
	// comparator or codec
	ErrIncompatibleRun = runfile.ErrIncompatibleRun

	// ErrHandlerInvalid is returned when a handler or factory stopped working
	ErrHandlerInvalid = handler.ErrHandlerInvalid

	// ErrClosed is returned when operating on a closed container
	ErrClosed = fmt.Errorf("%w: container is closed", keys.ErrIllegalState)

	// ErrRetriesExhausted is returned when an I/O operation kept failing
	// after NumRetries retries
	ErrRetriesExhausted = fmt.Errorf("%w: retries exhausted", keys.ErrIO)

	// Configuration validation errors
	ErrNilComparator                 = filemap.ErrNilComparator
	ErrNilCodec                      = filemap.ErrNilCodec
	ErrInvalidBufferPersistThreshold = fmt.Errorf("%w: buffer persist threshold must be positive", keys.ErrConfiguration)
	ErrInvalidMaxOpenFiles           = fmt.Errorf("%w: max open files must be positive", keys.ErrConfiguration)
	ErrInvalidNumRetries             = fmt.Errorf("%w: num retries must not be negative", keys.ErrConfiguration)
	ErrNoHandlerFactories            = fmt.Errorf("%w: at least one handler factory is required", keys.ErrConfiguration)
	ErrInvalidBlockSize              = fmt.Errorf("%w: invalid block size", keys.ErrConfiguration)
)

// IsRetryable reports whether err is an I/O failure that another attempt,
// possibly on another resource, might get past.
func IsRetryable(err error) bool {
	return errors.Is(err, keys.ErrIO) && !errors.Is(err, keys.ErrCorruption) && !errors.Is(err, runfile.ErrIncompatibleRun)
}
