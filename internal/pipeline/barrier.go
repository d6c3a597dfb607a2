// Package pipeline implements the asynchronous OCR task pipeline:
// orchestrate, fan out one worker per page, join, aggregate.
package pipeline

import (
	"sync"
)

// PageOutcome is one page worker's report to the join barrier.
type PageOutcome struct {
	PageNumber int
	Text       string
	Err        error
}

// Barrier is the fan-in synchronization point. It counts sibling page
// outcomes and fires its continuation exactly once, on the Nth report,
// regardless of arrival order. Reports past the Nth are dropped, which
// keeps duplicate delivery harmless.
type Barrier struct {
	mu       sync.Mutex
	expected int
	outcomes []PageOutcome
	fired    bool
	done     func([]PageOutcome)
}

// NewBarrier creates a barrier expecting `expected` reports. The
// continuation runs on the goroutine that delivers the final report.
func NewBarrier(expected int, done func([]PageOutcome)) *Barrier {
	if expected < 1 {
		panic("pipeline: barrier requires at least one expected report")
	}
	return &Barrier{
		expected: expected,
		outcomes: make([]PageOutcome, 0, expected),
		done:     done,
	}
}

// Report delivers one page outcome. The call that completes the count
// invokes the continuation before returning.
func (b *Barrier) Report(outcome PageOutcome) {
	b.mu.Lock()
	if b.fired || len(b.outcomes) >= b.expected {
		b.mu.Unlock()
		return
	}

	b.outcomes = append(b.outcomes, outcome)
	if len(b.outcomes) < b.expected {
		b.mu.Unlock()
		return
	}

	b.fired = true
	outcomes := make([]PageOutcome, len(b.outcomes))
	copy(outcomes, b.outcomes)
	b.mu.Unlock()

	b.done(outcomes)
}

// Pending returns how many reports are still outstanding.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expected - len(b.outcomes)
}
