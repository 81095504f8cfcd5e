package task

import (
	"context"
	"log"
	"sync"
	"time"
)

const defaultTimeout = 30 * time.Second

// Supervisor runs fire-and-forget work off the critical path. Errors and
// panics end up in the log sink, never in the parent operation.
type Supervisor struct {
	timeout time.Duration
	logf    func(format string, args ...any)
	wg      sync.WaitGroup
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		timeout: defaultTimeout,
		logf:    log.Printf,
	}
}

// Go starts fn detached from the caller's context: a cancelled request must
// not cancel its usage log or cache write.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logf("task: %s panicked: %v", name, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logf("task: %s failed: %v", name, err)
		}
	}()
}

// Wait blocks until all detached tasks finish. Used on shutdown and in tests.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
