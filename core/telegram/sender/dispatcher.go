// Package sender runs outbound Bot API calls on a bounded worker pool.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/placebot/core/logger"
)

const componentSender = "tg.sender"

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned by Enqueue when the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	errNilRun = errors.New("telegram sender: nil run function")
)

// Options controls the dispatcher. Zero values fall back to the defaults in
// NewDispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on one job, flood waits included.
	MaxDuration time.Duration
	// OnResult, when set, is called once per job after its final attempt.
	OnResult func(ctx context.Context, action string, err error)
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher executes queued jobs on a fixed pool of workers. A job is retried on
// flood waits and transient failures until MaxRetries or MaxDuration runs out.
type Dispatcher struct {
	opts Options
	jobs chan job
	wg   sync.WaitGroup
	errs atomic.Uint64

	mu     sync.RWMutex // guards closed; held shared while a job is queued
	closed bool
}

func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{opts: opts, jobs: make(chan job, opts.QueueSize)}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go d.worker()
	}
	return d
}

// Enqueue schedules run without blocking. run may be called more than once.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errNilRun
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of jobs that failed after their last attempt.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close rejects new jobs and waits until the queued ones are done.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		err := d.execute(j)
		if err != nil {
			d.errs.Add(1)
		}
		if d.opts.OnResult != nil {
			d.opts.OnResult(j.ctx, j.action, err)
		}
	}
}

func (d *Dispatcher) execute(j job) error {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()
	start := time.Now()
	attempts := d.opts.MaxRetries + 1

	var err error
	attempt := 0
	for attempt < attempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
			break
		}
		attempt++
		if err = j.run(); err == nil {
			logger.Debug(j.ctx, componentSender, "send.ok",
				j.attrs(attempt, start, slog.String("status", "ok"))...)
			return nil
		}
		delay, retry := retryDelay(err, attempt, d.opts.RetryBackoff)
		if !retry || attempt == attempts {
			break
		}
		logger.Debug(j.ctx, componentSender, "send.retry",
			j.attrs(attempt, start,
				slog.String("status", "retry"),
				slog.String("err_code", classifyError(err)),
				slog.Duration("delay", delay),
			)...)
		if waitErr := sleep(ctx, delay); waitErr != nil {
			err = errors.Join(err, waitErr)
			break
		}
	}

	logger.Error(j.ctx, componentSender, "send.fail",
		j.attrs(attempt, start,
			slog.String("status", "fail"),
			slog.String("err", redact(err)),
			slog.String("err_code", classifyError(err)),
		)...)
	return err
}

func (j job) attrs(attempt int, start time.Time, extra ...slog.Attr) []slog.Attr {
	attrs := make([]slog.Attr, 0, 4+len(extra))
	attrs = append(attrs, extra...)
	attrs = append(attrs,
		slog.String("action", j.action),
		slog.Int("attempts", attempt),
		slog.Duration("duration", logger.Took(start)),
	)
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return attrs
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
