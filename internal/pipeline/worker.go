package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

type job struct {
	epoch uint64
	fn    func(context.Context)
}

// worker runs jobs one at a time, in submission order, on its own goroutine
// so a stage's Listen can return before a remote call finishes.
type worker struct {
	name string
	base context.Context
	jobs chan job
	done chan struct{}

	mu     sync.Mutex
	closed bool
	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc
}

func newWorker(parent context.Context, name string, queue int) *worker {
	w := &worker{
		name: name,
		base: context.WithoutCancel(parent),
		jobs: make(chan job, queue),
		done: make(chan struct{}),
	}
	w.ctx, w.cancel = context.WithCancel(w.base)
	go w.drain()
	return w
}

func (w *worker) drain() {
	defer close(w.done)
	for j := range w.jobs {
		ctx, ok := w.current(j.epoch)
		if !ok {
			continue
		}
		j.fn(ctx)
	}
}

// current returns the context for jobs of epoch, or false when the job was
// flushed or the worker stopped.
func (w *worker) current(epoch uint64) (context.Context, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if epoch != w.epoch || w.ctx.Err() != nil {
		return nil, false
	}
	return w.ctx, true
}

// submit enqueues fn. A full queue drops the job rather than stall the caller.
func (w *worker) submit(fn func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.jobs <- job{epoch: w.epoch, fn: fn}:
		return true
	default:
		metrics.FramesDropped.WithLabelValues(w.name + "_queue_full").Inc()
		slog.Warn("worker queue full, dropping job", "stage", w.name)
		return false
	}
}

// flush cancels the running job and discards everything queued so far.
// Jobs submitted afterwards run normally.
func (w *worker) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.cancel()
	w.epoch++
	w.ctx, w.cancel = context.WithCancel(w.base)
}

// stop cancels in-flight work, discards queued jobs and waits for the
// goroutine to exit.
func (w *worker) stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cancel()
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}
