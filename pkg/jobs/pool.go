// Package jobs implements the Job Queue port (pkg/ports.JobQueue) as an
// in-process worker pool. cmd/aegis uses it for evidence indexing (the
// "evidence.index" job type): workers operate on their own job
// records and communicate back to the engine only by leaving results
// for the next turn to absorb, never by mutating InvestigationState
// directly.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/aegisops/aegis/pkg/ports"
)

// Handler processes one job's payload and returns its result bytes.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

type jobRecord struct {
	mu       sync.Mutex
	jobType  string
	payload  []byte
	status   ports.JobStatus
	result   []byte
	err      error
	cancel   context.CancelFunc
}

// Pool is an in-process, priority-oblivious worker pool: a fixed number
// of goroutines pull from a single buffered channel. Priority ordering
// and cross-node distribution are explicitly out of scope; the Job
// Queue port only requires FIFO-per-queue semantics within one process
// for the core's purposes.
type Pool struct {
	handlers map[string]Handler

	mu      sync.Mutex
	jobs    map[string]*jobRecord
	queue   chan string
	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped sync.Once
}

// NewPool constructs a Pool with workerCount goroutines and the given
// queue depth (buffered channel capacity).
func NewPool(workerCount, queueDepth int) *Pool {
	p := &Pool{
		handlers: make(map[string]Handler),
		jobs:     make(map[string]*jobRecord),
		queue:    make(chan string, queueDepth),
		stopCh:   make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	return p
}

// RegisterHandler associates a job type with the function that
// processes it. Enqueuing a job type with no registered handler fails
// fast at Enqueue time.
func (p *Pool) RegisterHandler(jobType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = h
}

// Enqueue implements ports.JobQueue. queue and priority are accepted
// for port-contract compatibility; this in-process pool has a single
// FIFO lane and does not reorder by priority (see DESIGN.md).
func (p *Pool) Enqueue(ctx context.Context, jobType string, payload []byte, queue string, priority int) (string, error) {
	p.mu.Lock()
	_, ok := p.handlers[jobType]
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("jobs: no handler registered for job type %q", jobType)
	}

	id := uuid.NewString()
	rec := &jobRecord{jobType: jobType, payload: payload, status: ports.JobPending}

	p.mu.Lock()
	p.jobs[id] = rec
	p.mu.Unlock()

	select {
	case p.queue <- id:
	default:
		p.mu.Lock()
		rec.status = ports.JobFailed
		rec.err = fmt.Errorf("jobs: queue %s is full", queue)
		p.mu.Unlock()
		return id, rec.err
	}
	return id, nil
}

// GetStatus implements ports.JobQueue.
func (p *Pool) GetStatus(ctx context.Context, jobID string) (ports.JobStatus, error) {
	rec, ok := p.lookup(jobID)
	if !ok {
		return "", fmt.Errorf("jobs: unknown job %s", jobID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status, nil
}

// GetResult implements ports.JobQueue.
func (p *Pool) GetResult(ctx context.Context, jobID string) ([]byte, error) {
	rec, ok := p.lookup(jobID)
	if !ok {
		return nil, fmt.Errorf("jobs: unknown job %s", jobID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status == ports.JobFailed {
		return nil, rec.err
	}
	return rec.result, nil
}

// Cancel implements ports.JobQueue.
func (p *Pool) Cancel(ctx context.Context, jobID string) error {
	rec, ok := p.lookup(jobID)
	if !ok {
		return fmt.Errorf("jobs: unknown job %s", jobID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.cancel != nil {
		rec.cancel()
	}
	if rec.status == ports.JobPending || rec.status == ports.JobRunning {
		rec.status = ports.JobCancelled
	}
	return nil
}

func (p *Pool) lookup(jobID string) (*jobRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.jobs[jobID]
	return rec, ok
}

func (p *Pool) runWorker(index int) {
	defer p.wg.Done()
	log := slog.With("worker", index)
	for {
		select {
		case <-p.stopCh:
			return
		case id := <-p.queue:
			p.process(log, id)
		}
	}
}

func (p *Pool) process(log *slog.Logger, id string) {
	rec, ok := p.lookup(id)
	if !ok {
		return
	}

	rec.mu.Lock()
	if rec.status == ports.JobCancelled {
		rec.mu.Unlock()
		return
	}
	rec.status = ports.JobRunning
	jobType, payload := rec.jobType, rec.payload
	ctx, cancel := context.WithCancel(context.Background())
	rec.cancel = cancel
	rec.mu.Unlock()
	defer cancel()

	p.mu.Lock()
	handler := p.handlers[jobType]
	p.mu.Unlock()

	result, err := handler(ctx, payload)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status == ports.JobCancelled {
		return
	}
	if err != nil {
		log.Warn("job failed", "job_type", jobType, "job_id", id, "error", err)
		rec.status = ports.JobFailed
		rec.err = err
		return
	}
	rec.status = ports.JobCompleted
	rec.result = result
}

// Stop signals all workers to exit after their current job and waits
// for them to finish.
func (p *Pool) Stop() {
	p.stopped.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
