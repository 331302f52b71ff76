package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultWorkers   = 4
	MaxWorkers       = 64
	DefaultQueueSize = 10000
)

// Extractor turns one task into exactly one result. *extractor.Chain
// satisfies it.
type Extractor interface {
	Run(ctx context.Context, task models.VideoTask) models.ExtractionResult
}

type Options struct {
	Workers   int
	QueueSize int
	Log       logrus.FieldLogger
}

// Pool runs tasks on a fixed set of workers and publishes results in
// completion order. Progress counters and the result queue change together
// under mu, so a result is never visible before it is counted.
type Pool struct {
	extractor Extractor
	ctx       context.Context
	tasks     chan models.VideoTask
	workers   int
	log       logrus.FieldLogger

	mu       sync.Mutex
	progress models.BatchProgress
	results  []models.ExtractionResult
	stopping bool
	closed   bool

	ready chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

// New starts the workers. ctx is handed to every extraction; cancelling it
// aborts in-flight network calls.
func New(ctx context.Context, extractor Extractor, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Workers > MaxWorkers {
		opts.Workers = MaxWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	p := &Pool{
		extractor: extractor,
		ctx:       ctx,
		tasks:     make(chan models.VideoTask, opts.QueueSize),
		workers:   opts.Workers,
		log:       opts.Log,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.worker(i)
	}
	return p
}

// Workers is the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit queues a task. It fails with SubmissionRejected once a stop has
// been requested, after Close, or when the queue is full.
func (p *Pool) Submit(task models.VideoTask) error {
	const op = "pool.Submit"

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopping || p.closed {
		return apperrors.Rejected(op, "stop requested, not accepting "+task.ID)
	}

	select {
	case p.tasks <- task:
		p.progress.Total++
		return nil
	default:
		return apperrors.Rejected(op, fmt.Sprintf("queue full (%d tasks)", cap(p.tasks)))
	}
}

// Poll returns the next result, waiting at most timeout. The second return
// value is false when nothing arrived in time.
func (p *Pool) Poll(timeout time.Duration) (models.ExtractionResult, bool) {
	if res, ok := p.pop(); ok {
		return res, true
	}
	if timeout <= 0 {
		return models.ExtractionResult{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-p.ready:
			if res, ok := p.pop(); ok {
				return res, true
			}
		case <-timer.C:
			return p.pop()
		}
	}
}

func (p *Pool) pop() (models.ExtractionResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.results) == 0 {
		return models.ExtractionResult{}, false
	}
	res := p.results[0]
	p.results[0] = models.ExtractionResult{}
	p.results = p.results[1:]
	if len(p.results) > 0 {
		p.signal()
	}
	return res, true
}

// signal wakes one waiting Poll. Callers hold mu.
func (p *Pool) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// RequestStop prevents any further task from starting. In-flight tasks run
// to completion; queued tasks are published as SubmissionRejected so the
// batch still reaches IsComplete.
func (p *Pool) RequestStop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopping {
		return
	}
	p.stopping = true

	drained := 0
drain:
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				break drain
			}
			p.publishLocked(rejectedResult(task))
			drained++
		default:
			break drain
		}
	}
	p.log.WithFields(logrus.Fields{
		"in_flight": p.progress.InFlight,
		"drained":   drained,
	}).Info("Stop requested")
}

// StopRequested reports whether RequestStop has been called.
func (p *Pool) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// IsComplete is true when every submitted task has a published result.
func (p *Pool) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress.Done()
}

// Progress returns a snapshot of the batch counters.
func (p *Pool) Progress() models.BatchProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Close stops accepting tasks, lets the workers finish the queue and waits
// for them to exit. Results already published stay available to Poll.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.done)
	p.log.WithField("progress", p.Progress()).Info("Worker pool closed")
}

// Done is closed once Close has finished.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Results streams results until the pool is closed and every published
// result has been delivered. Use either Results or Poll, not both.
func (p *Pool) Results() <-chan models.ExtractionResult {
	out := make(chan models.ExtractionResult)
	go func() {
		defer close(out)
		for {
			if res, ok := p.Poll(100 * time.Millisecond); ok {
				out <- res
				continue
			}
			select {
			case <-p.done:
				for {
					res, ok := p.pop()
					if !ok {
						return
					}
					out <- res
				}
			default:
			}
		}
	}()
	return out
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.WithField("worker_id", id)
	log.Debug("Starting worker")

	for task := range p.tasks {
		p.handle(log, task)
	}
	log.Debug("Worker shutting down")
}

func (p *Pool) handle(log logrus.FieldLogger, task models.VideoTask) {
	p.mu.Lock()
	if p.stopping {
		p.publishLocked(rejectedResult(task))
		p.mu.Unlock()
		return
	}
	p.progress.InFlight++
	p.mu.Unlock()

	log.WithField("video_id", task.ID).Debug("Started processing task")
	res := p.run(log, task)

	p.mu.Lock()
	p.progress.InFlight--
	p.publishLocked(res)
	p.mu.Unlock()
}

// run calls the extractor and converts a panic into an UnknownFailure result.
func (p *Pool) run(log logrus.FieldLogger, task models.VideoTask) (res models.ExtractionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			log.WithFields(logrus.Fields{
				"video_id": task.ID,
				"panic":    r,
			}).Error("Extraction panicked")
			err := apperrors.Unknown("pool.worker", nil, fmt.Sprintf("extraction panicked: %v", r)).
				WithDiagnostic(stack)
			res = models.ExtractionResult{
				Task:       task,
				Kind:       string(err.Kind),
				Message:    err.Error(),
				Diagnostic: err.Diagnostic,
				Duration:   time.Since(start),
				FinishedAt: time.Now(),
			}
		}
	}()

	res = p.extractor.Run(p.ctx, task)
	res.Task = task
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res
}

// publishLocked counts res and makes it visible to Poll. Callers hold mu.
func (p *Pool) publishLocked(res models.ExtractionResult) {
	p.progress.Completed++
	if res.Success {
		p.progress.Succeeded++
	} else {
		p.progress.Failed++
	}
	p.results = append(p.results, res)
	p.signal()
}

func rejectedResult(task models.VideoTask) models.ExtractionResult {
	err := apperrors.Rejected("pool.worker", "stop requested before task started")
	return models.ExtractionResult{
		Task:       task,
		Kind:       string(err.Kind),
		Message:    err.Error(),
		FinishedAt: time.Now(),
	}
}
