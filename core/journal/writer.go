package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/fsmbot/core/conversation"
	"github.com/m3rciful/fsmbot/core/logger"
)

const component = "journal"

type inserter interface {
	Insert(ctx context.Context, entries ...Entry) error
}

// WriterOptions tunes the asynchronous journal writer.
type WriterOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// WriteTimeout bounds a single batch insert.
	WriteTimeout time.Duration
}

// Writer batches records in the background so that conversation consumers
// never wait for the database. Records arriving while the queue is full are
// dropped and counted.
type Writer struct {
	store inserter
	opts  WriterOptions
	queue chan Entry
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ conversation.Journal = (*Writer)(nil)

// NewWriter starts a writer persisting into store.
func NewWriter(store inserter, opts WriterOptions) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	w := &Writer{
		store: store,
		opts:  opts,
		queue: make(chan Entry, opts.QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Record queues rec without blocking.
func (w *Writer) Record(ctx context.Context, rec conversation.Record) {
	select {
	case <-w.stop:
		w.dropped.Add(1)
		return
	default:
	}
	select {
	case w.queue <- EntryFromRecord(rec):
	default:
		if w.dropped.Add(1) == 1 || logger.ShouldSampleDebug() {
			logger.Warn(ctx, component, "journal.drop",
				slog.String("status", "skip"),
				slog.Uint64("count", w.dropped.Load()),
			)
		}
	}
}

// Dropped returns how many records were discarded.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Failed returns how many records could not be written.
func (w *Writer) Failed() uint64 { return w.failed.Load() }

func (w *Writer) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.write(batch)
		batch = batch[:0]
	}
	for {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop:
			for {
				select {
				case e := <-w.queue:
					batch = append(batch, e)
					if len(batch) >= w.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) write(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.WriteTimeout)
	defer cancel()
	start := time.Now()
	if err := w.store.Insert(ctx, batch...); err != nil {
		w.failed.Add(uint64(len(batch)))
		logger.Error(ctx, component, "journal.write",
			slog.String("status", "fail"),
			slog.Int("count", len(batch)),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Debug(ctx, component, "journal.write",
		slog.String("status", "ok"),
		slog.Int("count", len(batch)),
		slog.Duration("duration", logger.Took(start)),
	)
}

// Close writes what is still queued and stops the writer.
func (w *Writer) Close(ctx context.Context) error {
	w.once.Do(func() { close(w.stop) })
	select {
	case <-w.done:
		if n := w.failed.Load(); n > 0 {
			return fmt.Errorf("journal: %d records could not be written", n)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
