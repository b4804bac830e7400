// ABOUTME: Bounded worker pool with retry and backoff for background jobs
// ABOUTME: Enqueue is non-blocking; Close drains the queue or gives up on ctx

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/metrics"
)

// Kind identifies what a job does.
type Kind string

const (
	KindAssignExpert Kind = "assign_expert"
	KindFAQRespond   Kind = "faq_respond"
	KindSummarize    Kind = "summarize"
)

// Job is a unit of background work. MessageID names the message that caused
// a faq_respond or summarize job; it is zero for the summarize after resolve.
type Job struct {
	ID             string
	Kind           Kind
	ConversationID int64
	MessageID      int64
}

// AssignExpert builds an assign_expert job.
func AssignExpert(conversationID int64) Job {
	return Job{ID: uuid.NewString(), Kind: KindAssignExpert, ConversationID: conversationID}
}

// FAQRespond builds a faq_respond job.
func FAQRespond(conversationID, messageID int64) Job {
	return Job{ID: uuid.NewString(), Kind: KindFAQRespond, ConversationID: conversationID, MessageID: messageID}
}

// Summarize builds a summarize job. Pass messageID 0 when no message caused it.
func Summarize(conversationID, messageID int64) Job {
	return Job{ID: uuid.NewString(), Kind: KindSummarize, ConversationID: conversationID, MessageID: messageID}
}

// Handler processes one attempt of a job. A returned error is retried.
type Handler func(ctx context.Context, job Job) error

// Enqueuer accepts jobs without blocking.
type Enqueuer interface {
	Enqueue(job Job) bool
}

// ErrPoolClosed is returned by Close when called twice.
var ErrPoolClosed = errors.New("job pool already closed")

const maxBackoff = time.Minute

// Pool runs jobs on a fixed number of workers.
type Pool struct {
	queue       chan Job
	workers     int
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger

	handlers map[Kind]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewPool creates a pool. Zero config values fall back to defaults.
func NewPool(cfg config.JobsConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       make(chan Job, cfg.QueueSize),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		logger:      logger.With("component", "jobs"),
		handlers:    make(map[Kind]Handler),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register sets the handler for a kind. It must be called before Start.
func (p *Pool) Register(kind Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.logger.Info("job pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

// Enqueue adds a job without blocking and reports whether it was accepted.
func (p *Pool) Enqueue(job Job) bool {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	// The read lock keeps Close from closing the channel mid-send.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job dropped, pool closed", "job_id", job.ID, "kind", job.Kind)
		metrics.RecordJob(string(job.Kind), metrics.OutcomeDropped)
		return false
	}

	select {
	case p.queue <- job:
		return true
	default:
		p.logger.Warn("job dropped, queue full",
			"job_id", job.ID,
			"kind", job.Kind,
			"conversation_id", job.ConversationID,
		)
		metrics.RecordJob(string(job.Kind), metrics.OutcomeDropped)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx ends
// first, in-flight handlers are cancelled, the rest of the queue is dropped,
// and ctx's error is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("job pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.logger.Warn("job pool closed before queue drained", "error", ctx.Err())
		return ctx.Err()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.queue {
		if p.ctx.Err() != nil {
			metrics.RecordJob(string(job.Kind), metrics.OutcomeDropped)
			continue
		}
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	logger := p.logger.With("job_id", job.ID, "kind", job.Kind, "conversation_id", job.ConversationID)

	p.mu.RLock()
	h, ok := p.handlers[job.Kind]
	p.mu.RUnlock()
	if !ok {
		logger.Error("no handler for job kind")
		metrics.RecordJob(string(job.Kind), metrics.OutcomeError)
		return
	}

	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		metrics.RecordJobAttempt(string(job.Kind))
		if err = p.attempt(h, job); err == nil {
			metrics.RecordJob(string(job.Kind), metrics.OutcomeSuccess)
			return
		}
		if attempt == p.maxAttempts {
			break
		}

		wait := p.backoff(attempt)
		logger.Warn("job attempt failed, retrying", "attempt", attempt, "retry_in", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-p.ctx.Done():
			timer.Stop()
			logger.Error("job abandoned on shutdown", "attempt", attempt, "error", err)
			metrics.RecordJob(string(job.Kind), metrics.OutcomeDropped)
			return
		case <-timer.C:
		}
	}

	logger.Error("job failed, giving up", "attempts", p.maxAttempts, "error", err)
	metrics.RecordJob(string(job.Kind), metrics.OutcomeError)
}

// attempt runs the handler once, turning a panic into an error.
func (p *Pool) attempt(h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(p.ctx, job)
}

// backoff is base * 2^(attempt-1) plus up to half that again as jitter.
func (p *Pool) backoff(attempt int) time.Duration {
	d := maxBackoff
	if shift := attempt - 1; shift < 32 {
		if b := p.baseBackoff << shift; b > 0 && b < maxBackoff {
			d = b
		}
	}
	return d + rand.N(d/2+1)
}
