package spillmap

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/handler"
)

// withRetries runs op once plus up to NumRetries more times while it
// fails with a retryable I/O error. Other errors stop it immediately.
// There is no delay between attempts: each attempt is expected to move
// to another resource rather than wait for the same one.
func (s *SortedSet[E]) withRetries(what string, op func() error) error {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(s.opts.NumRetries)), func(err error, _ time.Duration) {
		s.logger.Warn("Retrying after I/O failure", "op", what, "attempt", attempts, "error", err)
		s.metrics.retried()
	})
	if err != nil && IsRetryable(err) {
		s.logger.Error("Giving up after I/O failures", "op", what, "attempts", attempts, "error", err)
		return fmt.Errorf("%w: %s failed %d times: %w", ErrRetriesExhausted, what, attempts, err)
	}
	return err
}

// nextHandler asks the next valid factory, in round-robin order, for a
// handler. It makes a single attempt.
func (s *SortedSet[E]) nextHandler() (handler.Handler, error) {
	factories := s.opts.HandlerFactories
	for range factories {
		f := factories[s.nextFactory%len(factories)]
		s.nextFactory++
		if !f.IsValid() {
			s.logger.Warn("Skipping invalid handler factory", "factory", f.String())
			continue
		}
		return f.NewHandler()
	}
	return nil, fmt.Errorf("%w: no valid handler factory among %d", ErrHandlerInvalid, len(factories))
}

// acquire returns a fresh handler, failing over between factories.
func (s *SortedSet[E]) acquire() (handler.Handler, error) {
	var h handler.Handler
	err := s.withRetries("create handler", func() error {
		var err error
		h, err = s.nextHandler()
		return err
	})
	return h, err
}

// persistRun persists run, moving it to a new handler after each I/O
// failure. The resource of a failed attempt is deleted. If every attempt
// fails the run stays in memory, unchanged.
func (s *SortedSet[E]) persistRun(run *filemap.Set[E]) error {
	first := true
	return s.withRetries("persist run", func() error {
		if !first {
			h, err := s.nextHandler()
			if err != nil {
				return err
			}
			old := run.Handler()
			if err := run.Rebind(h); err != nil {
				s.discard(h)
				return err
			}
			s.discard(old)
		}
		first = false
		return run.Persist()
	})
}
