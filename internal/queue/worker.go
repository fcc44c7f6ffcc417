package queue

import (
	"context"
	"log"
	"time"
)

// Handler processes one job payload. A nil error ends the job as done;
// a business-logic no-op is signalled via ErrSkip, which also ends the
// job without a retry. Any other error counts as a failed attempt and
// the handler runs again, up to maxAttempts attempts in all.
type Handler func(ctx context.Context, payload []byte, attempt int) error

// ErrSkip marks a job outcome as "not worth doing" rather than a
// failure — the attempt is not counted.
var ErrSkip = &skipError{}

type skipError struct{}

func (*skipError) Error() string { return "queue: job skipped (not a failure)" }

// Pool runs a bounded number of concurrent workers pulling from one
// named queue.
type Pool struct {
	store       *Store
	queueName   string
	concurrency int
	maxAttempts int
	handler     Handler
}

// NewPool builds a worker pool. concurrency bounds in-flight jobs;
// maxAttempts bounds retries of a job that returns a non-skip error.
func NewPool(store *Store, queueName string, concurrency, maxAttempts int, handler Handler) *Pool {
	return &Pool{
		store:       store,
		queueName:   queueName,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		handler:     handler,
	}
}

// Run starts the pool's workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.concurrency; i++ {
		go p.worker(ctx, done)
	}
	<-ctx.Done()
	log.Printf("[queue:%s] shutting down worker pool", p.queueName)
	for i := 0; i < p.concurrency; i++ {
		<-done
	}
}

func (p *Pool) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := p.store.Dequeue(ctx, p.queueName, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[queue:%s] dequeue error: %v", p.queueName, err)
			continue
		}
		if payload == nil {
			continue
		}

		p.runAttempts(ctx, payload)
	}
}

func (p *Pool) runAttempts(ctx context.Context, payload []byte) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.handler(ctx, payload, attempt)
		if err == nil {
			return
		}
		if err == ErrSkip {
			return
		}
		log.Printf("[queue:%s] attempt %d/%d failed: %v", p.queueName, attempt, p.maxAttempts, err)
	}
	log.Printf("[queue:%s] job exhausted %d attempts, giving up", p.queueName, p.maxAttempts)
}
