package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/fsmbot/core/logger"
	"github.com/m3rciful/fsmbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher executes outbound Telegram calls with retries, either queued on
// its workers (Enqueue) or on the caller's goroutine (Do).
type Dispatcher struct {
	opts Options
	jobs chan job
	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher with sane defaults if options are zeroed.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
	}

	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}

	return d
}

// Enqueue schedules the provided function for asynchronous execution.
// The run closure must be idempotent if retries are desired.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}

	j := job{
		ctx:      ctx,
		action:   action,
		endpoint: endpoint,
		run:      run,
	}

	select {
	case d.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of failed jobs.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops workers and waits for them to finish processing queued jobs.
// Do keeps working after Close.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handleJob(j)
	}
}

func (d *Dispatcher) handleJob(j job) {
	if err := d.execute(j); err != nil {
		d.errs.Add(1)
	}
}

// Do runs the call synchronously with the dispatcher's retry policy and
// returns a *SendError when every attempt failed.
func (d *Dispatcher) Do(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{ctx: ctx, action: action, endpoint: endpoint, run: run}
	if err := d.execute(j); err != nil {
		d.errs.Add(1)
		return &SendError{
			Action:   action,
			Endpoint: endpoint,
			Chat:     logger.ChatIDFrom(ctx),
			Kind:     classifyError(err),
			Cause:    err,
		}
	}
	return nil
}

// execute runs j until it succeeds, fails permanently, runs out of attempts
// or exceeds MaxDuration.
func (d *Dispatcher) execute(j job) error {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	l := sendLog{ctx: ctx, job: j, start: time.Now()}
	logger.Debug(ctx, "tg.sender", "send.start", l.attrs()...)

	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := deadlineCtx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
			l.failed(err, attempt-1)
			return err
		}
		if err = j.run(); err == nil {
			l.succeeded(attempt)
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			l.failed(err, attempt)
			return err
		}

		delay := retryDelay(err, d.opts.RetryBackoff, attempt)
		logger.Debug(ctx, "tg.sender", "send.retry.backoff",
			l.attrs(slog.Int("attempt", attempt), slog.Int64("backoff_ms", delay.Milliseconds()))...)
		timer := time.NewTimer(delay)
		select {
		case <-deadlineCtx.Done():
			timer.Stop()
			err = errors.Join(err, deadlineCtx.Err())
			l.failed(err, attempt)
			return err
		case <-timer.C:
		}
	}
	return err
}

// shouldRetry retries transient network failures and Telegram flood waits.
func shouldRetry(err error) bool {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return true
	}
	return netutil.ShouldRetry(err)
}

// retryDelay honours the server supplied retry_after of flood errors and
// otherwise backs off linearly.
func retryDelay(err error, backoff time.Duration, attempt int) time.Duration {
	var flood tele.FloodError
	if errors.As(err, &flood) && flood.RetryAfter > 0 {
		return time.Duration(flood.RetryAfter) * time.Second
	}
	return backoff * time.Duration(attempt)
}

// sendLog renders the log lines of one job. Correlation ids come from ctx.
type sendLog struct {
	ctx   context.Context
	job   job
	start time.Time
}

func (l sendLog) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", l.job.action)}
	if l.job.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", l.job.endpoint))
	}
	return append(attrs, extra...)
}

func (l sendLog) succeeded(attempt int) {
	elapsed := slog.Int64("elapsed_ms", logger.Took(l.start).Milliseconds())
	if attempt == 1 {
		logger.Debug(l.ctx, "tg.sender", "send.success", l.attrs(elapsed)...)
		return
	}
	logger.Info(l.ctx, "tg.sender", "send.retry.success",
		l.attrs(slog.String("status", "ok"), slog.Int("attempt", attempt), elapsed)...)
}

func (l sendLog) failed(err error, attempts int) {
	logger.Error(l.ctx, "tg.sender", "send.fail", l.attrs(
		slog.String("status", "fail"),
		slog.String("err", sanitizeErrorMessage(err)),
		slog.String("err_code", classifyError(err)),
		slog.Int("attempts", attempts),
		slog.Int64("elapsed_ms", logger.Took(l.start).Milliseconds()),
	)...)
}
