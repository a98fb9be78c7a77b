// Package sched implements the cooperative HighPrio/LowPrio bias that
// keeps VAU-decryption-heavy requests ahead of background work without
// starving it outright.
package sched

import (
	"context"
	"runtime"
	"sync/atomic"
)

// delayCap bounds how many times a LowPrio run will yield before being
// forced through regardless of HighPrio pressure, guaranteeing forward
// progress.
const delayCap = 20

// Scheduler tracks a single process-wide count of in-flight HighPrio
// work. LowPrio callers consult it to decide whether to yield.
type Scheduler struct {
	highPrio int64
}

// New returns a Scheduler with no HighPrio work in flight.
func New() *Scheduler {
	return &Scheduler{}
}

// HighPrioToken marks one unit of HighPrio work as in flight until
// Release is called.
type HighPrioToken struct {
	s *Scheduler
}

// AcquireHighPrio increments the live HighPrio counter and returns a
// token whose Release decrements it. Callers defer token.Release().
func (s *Scheduler) AcquireHighPrio() *HighPrioToken {
	atomic.AddInt64(&s.highPrio, 1)
	return &HighPrioToken{s: s}
}

// Release decrements the live HighPrio counter. Safe to call once.
func (t *HighPrioToken) Release() {
	atomic.AddInt64(&t.s.highPrio, -1)
}

// HighPrioCount reports the number of HighPrio units currently in
// flight.
func (s *Scheduler) HighPrioCount() int64 {
	return atomic.LoadInt64(&s.highPrio)
}

// RunLowPrio executes fn, but first yields to the runtime (via
// runtime.Gosched) for as long as HighPrio work is in flight, up to
// delayCap yields. Once the delay counter is exhausted, fn runs
// unconditionally — this is what keeps LowPrio work from starving
// under sustained HighPrio load. Returns early with ctx.Err() if ctx
// is cancelled while yielding.
func (s *Scheduler) RunLowPrio(ctx context.Context, fn func() error) error {
	delay := delayCap
	for s.HighPrioCount() > 0 && delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
		delay--
	}
	return fn()
}
