package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"quantum-trader/internal/models"
)

// RecorderObserver receives write outcomes. metrics.Recorder satisfies it.
type RecorderObserver interface {
	StoreWrite(op string, err error)
	StoreDropped(op string)
}

// RecorderStats holds recorder counters.
type RecorderStats struct {
	Submitted uint64 `json:"submitted"`
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

type recorderJob struct {
	op  string
	run func(ctx context.Context) error
	// done is closed after run for flush barriers.
	done chan struct{}
}

// AsyncRecorder moves ledger writes off the trading path. A single worker
// drains a bounded FIFO queue, so a trade's open row is always written
// before its close. When the queue is full the write is dropped and logged;
// callers never block.
type AsyncRecorder struct {
	store        Store
	queue        chan recorderJob
	logger       zerolog.Logger
	observer     RecorderObserver
	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	done    chan struct{}

	submitted atomic.Uint64
	written   atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewAsyncRecorder creates a recorder. observer may be nil.
func NewAsyncRecorder(store Store, queueSize int, observer RecorderObserver, logger zerolog.Logger) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &AsyncRecorder{
		store:        store,
		queue:        make(chan recorderJob, queueSize),
		logger:       logger.With().Str("component", "recorder").Logger(),
		observer:     observer,
		writeTimeout: 10 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start starts the worker.
func (r *AsyncRecorder) Start() {
	if r.started.Swap(true) {
		return
	}
	go r.worker()
}

func (r *AsyncRecorder) worker() {
	defer close(r.done)
	for job := range r.queue {
		if job.run != nil {
			r.execute(job)
		}
		if job.done != nil {
			close(job.done)
		}
	}
}

func (r *AsyncRecorder) execute(job recorderJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	err := job.run(ctx)
	if r.observer != nil {
		r.observer.StoreWrite(job.op, err)
	}
	if err != nil {
		r.failed.Add(1)
		r.logger.Error().Err(err).Str("op", job.op).Msg("Ledger write failed")
		return
	}
	r.written.Add(1)
}

func (r *AsyncRecorder) submit(job recorderJob) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.submitted.Add(1)
	if !r.closed {
		select {
		case r.queue <- job:
			return true
		default:
		}
	}

	r.dropped.Add(1)
	if r.observer != nil {
		r.observer.StoreDropped(job.op)
	}
	r.logger.Warn().Str("op", job.op).Bool("closed", r.closed).Msg("Ledger write dropped")
	return false
}

// RecordTrade queues a trade upsert. It reports whether the write was queued.
func (r *AsyncRecorder) RecordTrade(trade models.TradeRecord) bool {
	return r.submit(recorderJob{
		op: "record_trade",
		run: func(ctx context.Context) error {
			return r.store.RecordTrade(ctx, trade)
		},
	})
}

// UpdateDailyPerformance queues a daily rollup.
func (r *AsyncRecorder) UpdateDailyPerformance(capitalEnd float64) bool {
	return r.submit(recorderJob{
		op: "update_daily_performance",
		run: func(ctx context.Context) error {
			return r.store.UpdateDailyPerformance(ctx, capitalEnd)
		},
	})
}

// Flush waits until every write queued before the call has run.
func (r *AsyncRecorder) Flush(ctx context.Context) error {
	barrier := recorderJob{op: "flush", done: make(chan struct{})}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.queue <- barrier:
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case <-barrier.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and drains the queue. It does not close the
// underlying store.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	if !r.started.Load() {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the recorder counters.
func (r *AsyncRecorder) Stats() RecorderStats {
	return RecorderStats{
		Submitted: r.submitted.Load(),
		Written:   r.written.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
		Pending:   len(r.queue),
	}
}
