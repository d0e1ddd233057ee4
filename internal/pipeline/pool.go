package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const (
	MaxBatchSize   = 100
	DefaultWorkers = 4
)

var ErrBatchTooLarge = errors.New("batch too large")

// Job is one batch item.
type Job struct {
	ID  int
	Req Request
}

// Result pairs a job with its outcome.
type Result struct {
	JobID  int
	Report *Report
	Err    error
}

// WorkerPool runs jobs on a fixed number of workers.
type WorkerPool struct {
	workers    int
	jobQueue   chan Job
	resultChan chan Result
	quit       chan struct{}
	wg         sync.WaitGroup
	process    func(Job) Result
}

func NewWorkerPool(workers, queueSize int, process func(Job) Result) *WorkerPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &WorkerPool{
		workers:    workers,
		jobQueue:   make(chan Job, queueSize),
		resultChan: make(chan Result, queueSize),
		quit:       make(chan struct{}),
		process:    process,
	}
}

func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop halts the workers. Jobs not yet picked up are discarded.
func (wp *WorkerPool) Stop() {
	close(wp.quit)
	wp.wg.Wait()
	close(wp.resultChan)
}

func (wp *WorkerPool) Submit(job Job) {
	select {
	case wp.jobQueue <- job:
	case <-wp.quit:
	}
}

func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultChan
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobQueue:
			wp.resultChan <- wp.process(job)
		case <-wp.quit:
			return
		}
	}
}

// BatchItem is the outcome of one batch request, in input order.
type BatchItem struct {
	Index  int     `json:"index"`
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
	err    error
}

// Err returns the item's error value.
func (b BatchItem) Err() error { return b.err }

// AnalyzeBatch analyses independent requests concurrently. One item failing
// does not affect the others.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []Request, workers int) ([]BatchItem, error) {
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(reqs), MaxBatchSize)
	}
	out := make([]BatchItem, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}
	if workers > len(reqs) {
		workers = len(reqs)
	}

	pool := NewWorkerPool(workers, len(reqs), func(j Job) Result {
		if err := ctx.Err(); err != nil {
			return Result{JobID: j.ID, Err: err}
		}
		rep, err := s.Analyze(ctx, j.Req)
		return Result{JobID: j.ID, Report: rep, Err: err}
	})
	pool.Start()
	for i, r := range reqs {
		pool.Submit(Job{ID: i, Req: r})
	}
	for range reqs {
		r := <-pool.Results()
		item := BatchItem{Index: r.JobID, Report: r.Report, err: r.Err}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		out[r.JobID] = item
	}
	pool.Stop()
	return out, nil
}
