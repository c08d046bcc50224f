package pipeline

import (
	"context"
	"sync"

	"github.com/R3E-Network/audio-verifier/internal/session"
	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// Job describes one verification run handed from the ingress gate to the
// worker pool.
type Job struct {
	SessionID string
	Scratch   *Scratch
	Metadata  *session.InitialData
	BlobID    string
}

// Dispatcher feeds verification jobs to a bounded worker pool. Ingress hands
// a job descriptor to the queue and returns; overflow surfaces as transient
// unavailability.
type Dispatcher struct {
	pipeline *Pipeline
	queue    chan Job
	workers  int
	log      *logger.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given worker and queue bounds.
func NewDispatcher(p *Pipeline, workers, queueSize int, log *logger.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers
	}
	if log == nil {
		log = logger.NewDefault("dispatcher")
	}
	return &Dispatcher{
		pipeline: p,
		queue:    make(chan Job, queueSize),
		workers:  workers,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx, i)
		}
		d.log.Infof("dispatcher started with %d workers (queue %d)", d.workers, cap(d.queue))
	})
}

// TrySubmit enqueues a job without blocking. Returns false when the queue is
// full or the dispatcher is stopping; the caller owns scratch cleanup then.
func (d *Dispatcher) TrySubmit(job Job) bool {
	select {
	case <-d.stopCh:
		return false
	default:
	}

	select {
	case d.queue <- job:
		return true
	default:
		return false
	}
}

// Stop prevents new submissions and waits for in-flight runs to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		close(d.queue)
	})
	d.wg.Wait()
}

// QueueDepth returns the number of jobs waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for job := range d.queue {
		if ctx.Err() != nil {
			// Context is gone; release the scratch file and drop the job.
			_ = job.Scratch.Remove()
			continue
		}
		d.pipeline.Run(ctx, job.SessionID, job.Scratch, job.Metadata, job.BlobID)
	}

	d.log.Debugf("worker %d exited", id)
}
