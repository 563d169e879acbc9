// Package queue implements BrandQueue: a per-brand bounded worker pool that
// enforces the brand's concurrency and rate-limit caps, deduplicates
// in-flight job tickets by their deterministic id, and retries failed
// tickets according to the brand-independent backoff policy. It mirrors
// the teacher's internal/channels pipeline (buffered-channel stages feeding
// a semaphore-gated worker pool) generalized from a four-stage liveness/
// plugin/result/state pipeline to a single job-ticket handler.
package queue

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/solarinvest/fleetmonitor/internal/adapter"
	"github.com/solarinvest/fleetmonitor/internal/clock"
	"github.com/solarinvest/fleetmonitor/internal/domain"
)

const (
	maxAttempts  = 2
	backoffBase  = 5 * time.Second
	successCap   = 100
	failedCap    = 50
)

// Recorder receives terminal-outcome metrics. *telemetry.Metrics implements
// this; tests can leave it nil.
type Recorder interface {
	ObservePoll(brand domain.Brand, status string, duration time.Duration)
}

// Handler runs one attempt of a job ticket and reports its outcome. The
// PollExecutor implements this signature.
type Handler func(ctx context.Context, ticket domain.JobTicket) error

// TerminalRecord is retained for observability after a ticket reaches a
// terminal state (succeeded, or exhausted its retries).
type TerminalRecord struct {
	Ticket    domain.JobTicket
	Succeeded bool
	Err       error
	At        time.Time
}

// BrandQueue is the bounded, rate-limited, deduplicating work queue for one
// vendor brand.
type BrandQueue struct {
	brand   domain.Brand
	caps    adapter.Capabilities
	handler Handler
	clk     clock.Clock
	log     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // ticket ids currently queued or running
	pending  []domain.JobTicket
	notify   chan struct{}

	bucketMu   sync.Mutex
	starts     []time.Time // start timestamps within the trailing 60s window

	sem chan struct{}

	termMu  sync.Mutex
	success []TerminalRecord
	failed  []TerminalRecord

	wg   sync.WaitGroup
	done chan struct{}

	recorder Recorder
	mirror   TicketMirror
}

// SetRecorder wires a metrics sink; call before Run starts.
func (q *BrandQueue) SetRecorder(r Recorder) {
	q.recorder = r
}

// SetMirror wires a ticket-id dedup mirror; call before Run starts. Defaults
// to a no-op so tests never need a Redis client.
func (q *BrandQueue) SetMirror(m TicketMirror) {
	q.mirror = m
}

// New builds a BrandQueue for brand using caps (from VendorAdapter.Capabilities())
// to size its worker pool and token bucket.
func New(brand domain.Brand, caps adapter.Capabilities, handler Handler, clk clock.Clock, log *slog.Logger) *BrandQueue {
	maxConcurrent := caps.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &BrandQueue{
		brand:    brand,
		caps:     caps,
		handler:  handler,
		clk:      clk,
		log:      log,
		inflight: make(map[string]struct{}),
		notify:   make(chan struct{}, 1),
		sem:      make(chan struct{}, maxConcurrent),
		done:     make(chan struct{}),
		mirror:   noopMirror{},
	}
}

// Submit enqueues ticket. If a ticket with the same id is already pending
// or running, the submission is silently dropped — this is the primary
// scheduler-tick deduplication mechanism, not an error.
func (q *BrandQueue) Submit(ticket domain.JobTicket) {
	q.mu.Lock()
	if _, exists := q.inflight[ticket.ID]; exists {
		q.mu.Unlock()
		return
	}
	q.inflight[ticket.ID] = struct{}{}
	q.pending = append(q.pending, ticket)
	q.mu.Unlock()

	go func() {
		if err := q.mirror.Add(context.Background(), ticket.ID); err != nil {
			q.log.Warn("queue: ticket mirror add failed", "brand", q.brand, "ticket", ticket.ID, "err", err)
		}
	}()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Run drives the queue until ctx is cancelled. It dispatches pending
// tickets to worker goroutines as concurrency and rate-limit budget allow.
func (q *BrandQueue) Run(ctx context.Context) {
	ticker := q.clk.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return
		case <-q.notify:
			q.dispatch(ctx)
		case <-ticker.C():
			q.dispatch(ctx)
		}
	}
}

// Drain blocks until all in-flight work finishes or the deadline context
// expires, for graceful shutdown.
func (q *BrandQueue) Drain(ctx context.Context) {
	waitDone := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
	}
}

func (q *BrandQueue) dispatch(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		now := q.clk.Now()
		idx := -1
		for i, t := range q.pending {
			if !t.NotBefore.After(now) {
				idx = i
				break
			}
		}
		if idx == -1 {
			q.mu.Unlock()
			return
		}
		ticket := q.pending[idx]
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		q.mu.Unlock()

		if !q.takeBudget(now) {
			// No rate-limit budget left this window; put it back and stop.
			q.mu.Lock()
			q.pending = append(q.pending, ticket)
			q.mu.Unlock()
			return
		}

		select {
		case q.sem <- struct{}{}:
		default:
			// Pool is saturated; put the ticket back and try again later.
			q.mu.Lock()
			q.pending = append(q.pending, ticket)
			q.mu.Unlock()
			return
		}

		q.wg.Add(1)
		go q.run(ctx, ticket)
	}
}

func (q *BrandQueue) takeBudget(now time.Time) bool {
	maxPerMinute := q.caps.MaxPerMinute
	if maxPerMinute <= 0 {
		return true
	}
	q.bucketMu.Lock()
	defer q.bucketMu.Unlock()

	cutoff := now.Add(-60 * time.Second)
	kept := q.starts[:0]
	for _, t := range q.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.starts = kept

	if len(q.starts) >= maxPerMinute {
		return false
	}
	q.starts = append(q.starts, now)
	return true
}

func (q *BrandQueue) run(ctx context.Context, ticket domain.JobTicket) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	err := q.handler(ctx, ticket)
	if err == nil {
		q.finish(ticket, true, nil)
		return
	}

	aerr, _ := err.(*adapter.Error)
	if aerr != nil && aerr.Kind == adapter.ErrAuthFailed {
		// Terminal: no retry, plant already quarantined by the executor.
		q.finish(ticket, false, err)
		return
	}

	if ticket.Attempt >= maxAttempts {
		q.finish(ticket, false, err)
		return
	}

	delay := backoffDelay(ticket.Attempt)
	if aerr != nil && aerr.Kind == adapter.ErrRateLimited && aerr.RetryAfter > delay {
		delay = aerr.RetryAfter
	}

	retryTicket := ticket
	retryTicket.Attempt++
	retryTicket.NotBefore = q.clk.Now().Add(delay)

	q.log.Info("queue: scheduling retry",
		"brand", q.brand, "ticket", ticket.ID, "attempt", retryTicket.Attempt, "delay", delay, "err", err)

	q.mu.Lock()
	// The ticket id stays marked in-flight; re-add to pending directly
	// rather than through Submit, which would treat it as a duplicate.
	q.pending = append(q.pending, retryTicket)
	q.mu.Unlock()
}

// backoffDelay returns the base delay for the attempt that just failed,
// with 0-20% jitter: attempt 1 -> ~5s, attempt 2 -> ~10s.
func backoffDelay(failedAttempt int) time.Duration {
	base := backoffBase * time.Duration(failedAttempt)
	jitter := time.Duration(rand.Int63n(int64(base) / 5 + 1))
	return base + jitter
}

func (q *BrandQueue) finish(ticket domain.JobTicket, succeeded bool, err error) {
	q.mu.Lock()
	delete(q.inflight, ticket.ID)
	q.mu.Unlock()

	go func() {
		if mErr := q.mirror.Remove(context.Background(), ticket.ID); mErr != nil {
			q.log.Warn("queue: ticket mirror remove failed", "brand", q.brand, "ticket", ticket.ID, "err", mErr)
		}
	}()

	now := q.clk.Now()
	if q.recorder != nil {
		status := "SUCCESS"
		if !succeeded {
			status = "ERROR"
		}
		q.recorder.ObservePoll(q.brand, status, now.Sub(ticket.EnqueuedAt))
	}

	rec := TerminalRecord{Ticket: ticket, Succeeded: succeeded, Err: err, At: now}

	q.termMu.Lock()
	if succeeded {
		q.success = append(q.success, rec)
		if len(q.success) > successCap {
			q.success = q.success[len(q.success)-successCap:]
		}
	} else {
		q.failed = append(q.failed, rec)
		if len(q.failed) > failedCap {
			q.failed = q.failed[len(q.failed)-failedCap:]
		}
	}
	q.termMu.Unlock()
}

// Terminal returns a snapshot copy of the retained terminal records, for
// observability and tests.
func (q *BrandQueue) Terminal() (success, failed []TerminalRecord) {
	q.termMu.Lock()
	defer q.termMu.Unlock()
	success = append([]TerminalRecord(nil), q.success...)
	failed = append([]TerminalRecord(nil), q.failed...)
	return
}

// Depth reports the number of tickets currently pending dispatch, for the
// queue_depth gauge.
func (q *BrandQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
