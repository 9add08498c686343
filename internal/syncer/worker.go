package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull     = errors.New("sync queue full")
	ErrWorkerStopped = errors.New("sync worker stopped")
)

// Future resolves when a submitted sync has finished.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the sync finishes or ctx ends. Abandoning the wait does
// not cancel the sync.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	id  string
	fut *Future
}

// Worker owns a bounded queue of explicit sync requests plus a periodic
// sweep of everything pending.
type Worker struct {
	engine   *Engine
	jobs     chan job
	nudge    chan struct{}
	workers  int
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

type WorkerOptions struct {
	Workers   int
	QueueSize int
	Interval  time.Duration
}

func NewWorker(engine *Engine, opts WorkerOptions, log zerolog.Logger) *Worker {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Worker{
		engine:   engine,
		jobs:     make(chan job, opts.QueueSize),
		nudge:    make(chan struct{}, 1),
		workers:  opts.Workers,
		interval: opts.Interval,
		log:      log.With().Str("component", "sync-worker").Logger(),
	}
}

// Submit queues one transaction for sync. It never blocks: a full queue
// returns ErrQueueFull and the caller may rely on the periodic sweep.
func (w *Worker) Submit(id string) (*Future, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil, ErrWorkerStopped
	}
	f := newFuture()
	select {
	case w.jobs <- job{id: id, fut: f}:
		return f, nil
	default:
		return nil, ErrQueueFull
	}
}

// Nudge asks for a sweep as soon as possible. Repeated nudges coalesce.
func (w *Worker) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done. Claims left over from a previous process
// are released first.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.engine.RecoverStale(ctx, 0); err != nil {
		w.log.Error().Err(err).Msg("recover stale claims")
	}

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, id)
		}(i)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.Info().Dur("interval", w.interval).Int("workers", w.workers).Msg("sync worker started")

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.stop()
			wg.Wait()
			w.drain(ctx.Err())
			w.log.Info().Msg("sync worker stopped")
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.nudge:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) consume(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.jobs:
			err := w.engine.SyncTransaction(ctx, j.id)
			if err != nil && !errors.Is(err, ErrSkipped) {
				w.log.Debug().Err(err).Int("worker", id).Str("transaction_id", j.id).Msg("queued sync failed")
			}
			j.fut.resolve(err)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	if _, err := w.engine.RecoverStale(ctx, 2*w.engine.timeout); err != nil {
		w.log.Error().Err(err).Msg("recover stale claims")
	}
	if _, err := w.engine.SyncAllPending(ctx); err != nil {
		w.log.Error().Err(err).Msg("sync sweep")
	}
}

func (w *Worker) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

func (w *Worker) drain(cause error) {
	for {
		select {
		case j := <-w.jobs:
			j.fut.resolve(errors.Join(ErrSkipped, cause))
		default:
			return
		}
	}
}
