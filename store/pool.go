package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chat-relay/logger"
	"chat-relay/types"
)

var (
	defaultNumWorkers = 3
	defaultQueueSize  = 256
	defaultJobTimeout = 10 * time.Second
)

// Job is one completed turn waiting to be persisted
type Job struct {
	RequestID string
	SessionID string
	Messages  []types.HistoryMessage
}

// PoolConfig configures a Pool
type PoolConfig struct {
	// Store is the backend jobs are written to
	Store Store

	NumWorkers int
	QueueSize  int

	// JobTimeout bounds a single Append call
	JobTimeout time.Duration

	Logger *logger.ObservabilityLogger

	// Failures, when set, is incremented for every dropped or failed job
	Failures prometheus.Counter
}

// Pool persists turns in the background so the relay never waits on storage.
type Pool struct {
	config PoolConfig
	queue  chan Job
	wg     sync.WaitGroup

	// mu guards closed and the close of queue
	mu     sync.RWMutex
	closed bool
}

// NewPool starts the worker goroutines
func NewPool(c PoolConfig) (*Pool, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
	}

	p.wg.Add(c.NumWorkers)
	for i := 0; i < c.NumWorkers; i++ {
		go p.worker(i)
	}
	return p, nil
}

// Enqueue submits a job without blocking. It returns false when the queue is
// full or the pool is closed and the job was dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.config.Logger.Error(logger.ComponentPersistence, logger.CategoryError, job.RequestID, "Persistence pool closed, job dropped", map[string]interface{}{
			"session_id": job.SessionID,
		})
		p.fail()
		return false
	}

	select {
	case p.queue <- job:
		p.config.Logger.Debug(logger.ComponentPersistence, logger.CategoryRequest, job.RequestID, "Persistence job queued", map[string]interface{}{
			"session_id": job.SessionID,
			"messages":   len(job.Messages),
		})
		return true
	default:
		p.config.Logger.Error(logger.ComponentPersistence, logger.CategoryError, job.RequestID, "Persistence queue full, job dropped", map[string]interface{}{
			"session_id": job.SessionID,
		})
		p.fail()
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to drain
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.process(job)
	}
	p.config.Logger.Debug(logger.ComponentPersistence, logger.CategoryHealth, "", "Persistence worker stopped", map[string]interface{}{
		"worker_id": id,
	})
}

func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	if err := p.config.Store.Append(ctx, job.SessionID, job.Messages...); err != nil {
		p.config.Logger.Error(logger.ComponentPersistence, logger.CategoryError, job.RequestID, "Transcript persistence failed", map[string]interface{}{
			"session_id": job.SessionID,
			"error":      err.Error(),
		})
		p.fail()
		return
	}

	p.config.Logger.Info(logger.ComponentPersistence, logger.CategorySuccess, job.RequestID, "Transcript stored", map[string]interface{}{
		"session_id": job.SessionID,
		"messages":   len(job.Messages),
	})
}

func (p *Pool) fail() {
	if p.config.Failures != nil {
		p.config.Failures.Inc()
	}
}
