package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m3rciful/fsmbot/core/dialog"
	"github.com/m3rciful/fsmbot/core/fsm"
	"github.com/m3rciful/fsmbot/core/logger"
)

const (
	component = "conv"

	// DefaultWorkers bounds concurrent consumers when Options.Workers is unset.
	DefaultWorkers = 64

	tracerName   = "github.com/m3rciful/fsmbot/core/conversation"
	previewRunes = 64
)

var (
	// ErrClosed is returned when a message is submitted after Close.
	ErrClosed = errors.New("conversation: processor closed")
	// ErrPanic wraps a panic raised while a message was applied.
	ErrPanic = errors.New("conversation: panic while applying message")
)

// Options configures a Processor.
type Options struct {
	// Workers bounds how many conversations are processed at once.
	Workers int
	// IdleTimeout retires conversations without activity; 0 disables it.
	IdleTimeout time.Duration
	// SweepInterval is how often idle conversations are looked for.
	SweepInterval time.Duration
	Journal       Journal
	Tracer        trace.Tracer
}

// Outcome reports how one message was processed.
type Outcome struct {
	Key        dialog.Key
	InstanceID string
	// From is the state the message found the conversation in.
	From fsm.State
	// State is the state after processing.
	State fsm.State
	Steps []fsm.Step
	// Ended is set when the conversation reached the terminal state and was
	// removed from the registry.
	Ended bool
	// Err is a fatal error; the conversation was removed from the registry.
	Err error
}

// Processor serializes messages per conversation and applies them to the
// conversation machines.
type Processor struct {
	reg     *Registry
	def     *dialog.Definition
	journal Journal
	tracer  trace.Tracer
	opts    Options

	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// NewProcessor returns a processor consuming messages into reg.
func NewProcessor(reg *Registry, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.IdleTimeout > 0 && opts.SweepInterval <= 0 {
		opts.SweepInterval = opts.IdleTimeout
	}
	p := &Processor{
		reg:     reg,
		def:     reg.Definition(),
		journal: opts.Journal,
		tracer:  opts.Tracer,
		opts:    opts,
		sem:     make(chan struct{}, opts.Workers),
	}
	if p.journal == nil {
		p.journal = nopJournal{}
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}

	if opts.IdleTimeout > 0 {
		p.stopJanitor = make(chan struct{})
		p.janitorDone = make(chan struct{})
		go p.janitor()
	}
	return p
}

// Registry returns the registry the processor feeds.
func (p *Processor) Registry() *Registry { return p.reg }

// Submit queues msg for its conversation and returns without waiting.
func (p *Processor) Submit(ctx context.Context, msg dialog.Message) error {
	return p.enqueue(delivery{ctx: ctx, msg: msg})
}

// Apply queues msg and waits until it has been processed. A fatal
// conversation error is returned both as error and in Outcome.Err.
func (p *Processor) Apply(ctx context.Context, msg dialog.Message) (Outcome, error) {
	done := make(chan Outcome, 1)
	if err := p.enqueue(delivery{ctx: ctx, msg: msg, done: done}); err != nil {
		return Outcome{Key: msg.Chat}, err
	}
	select {
	case out := <-done:
		return out, out.Err
	case <-ctx.Done():
		return Outcome{Key: msg.Chat}, ctx.Err()
	}
}

func (p *Processor) enqueue(d delivery) error {
	if d.ctx == nil {
		d.ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	for {
		h := p.reg.GetOrCreate(d.msg.Chat)
		ok, spawn := h.push(d, p.reg.now())
		if !ok {
			// Retired between lookup and push; the registry already holds
			// its successor or nothing.
			continue
		}
		if spawn {
			p.spawn(h)
		}
		return nil
	}
}

func (p *Processor) spawn(h *Handle) {
	p.wg.Add(1)
	go p.consume(h)
}

func (p *Processor) consume(h *Handle) {
	defer p.wg.Done()
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	defer p.handOver(h)

	for {
		d, ok := h.next()
		if !ok {
			return
		}
		out := p.process(h, d)
		if out.Ended || out.Err != nil {
			if successor := p.reg.retire(h); successor != nil {
				p.spawn(successor)
			}
		}
		if d.done != nil {
			d.done <- out
		}
		if out.Ended || out.Err != nil {
			return
		}
	}
}

// handOver starts the heir left by Registry.Remove once h's consumer is done.
func (p *Processor) handOver(h *Handle) {
	if heir := h.takeHeir(); heir != nil {
		p.spawn(heir)
	}
}

func (p *Processor) process(h *Handle, d delivery) (out Outcome) {
	from := h.State()
	out = Outcome{Key: h.key, InstanceID: h.id, From: from, State: from}

	ctx := context.WithoutCancel(d.ctx)
	ctx, span := p.tracer.Start(ctx, "conversation.apply",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("chat.id", int64(h.key)),
			attribute.String("conversation.id", h.id),
			attribute.String("fsm.from", string(from)),
		),
	)
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = logger.WithTrace(ctx, sc.TraceID().String(), sc.SpanID().String())
	}
	ctx = logger.WithConversation(ctx, h.id, string(from))

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			p.fatal(ctx, span, h, d, out.Err)
		}
	}()

	if h.delivered == 0 {
		logger.Info(ctx, component, "conversation.start",
			slog.Int64("chat_id", int64(h.key)),
		)
		p.journal.Record(ctx, p.record(h, d, RecordStarted, from))
	}
	h.delivered++

	conv := h.inst.Extended()
	conv.Observe(d.msg)
	start := time.Now()
	res, err := p.def.Apply(ctx, h.inst, dialog.Classify(d.msg))
	h.state.Store(res.State)
	h.touch(p.reg.now())
	out.State, out.Steps = res.State, res.Steps

	for _, st := range res.Steps {
		p.logStep(ctx, d.msg, st)
		rec := p.record(h, d, RecordStep, st.To)
		rec.Step = st
		if st.ActionErr != nil {
			rec.Err = st.ActionErr.Error()
		}
		p.journal.Record(ctx, rec)
	}
	span.SetAttributes(
		attribute.String("fsm.to", string(res.State)),
		attribute.Int("fsm.steps", len(res.Steps)),
	)

	if err != nil {
		out.Err = err
		p.fatal(ctx, span, h, d, err)
		return out
	}
	if p.def.IsTerminal(res.State) {
		out.Ended = true
		logger.Info(ctx, component, "conversation.end",
			slog.String("state", string(res.State)),
			slog.Int("messages", h.delivered),
			slog.Duration("duration", logger.Took(h.created)),
		)
		p.journal.Record(ctx, p.record(h, d, RecordEnded, res.State))
		return out
	}
	logger.Debug(ctx, component, "conversation.applied",
		slog.String("to", string(res.State)),
		slog.Int("steps", len(res.Steps)),
		slog.Duration("duration", logger.Took(start)),
	)
	return out
}

func (p *Processor) fatal(ctx context.Context, span trace.Span, h *Handle, d delivery, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error(ctx, component, "conversation.fatal",
		slog.String("state", string(h.State())),
		slog.String("err", err.Error()),
	)
	rec := p.record(h, d, RecordFatal, h.State())
	rec.Err = err.Error()
	p.journal.Record(ctx, rec)
}

func (p *Processor) record(h *Handle, d delivery, kind RecordKind, state fsm.State) Record {
	return Record{
		InstanceID: h.id,
		Key:        h.key,
		Kind:       kind,
		UpdateID:   d.msg.UpdateID,
		State:      state,
		At:         p.reg.now(),
	}
}

func (p *Processor) logStep(ctx context.Context, msg dialog.Message, st fsm.Step) {
	attrs := []slog.Attr{
		slog.String("ev", string(st.Event)),
		slog.String("from", string(st.From)),
		slog.String("to", string(st.To)),
		slog.String("outcome", string(st.Outcome)),
	}
	if st.Via != "" {
		attrs = append(attrs, slog.String("via", string(st.Via)))
	}
	if st.Synthetic {
		attrs = append(attrs, slog.Bool("synthetic", true))
	}
	switch {
	case st.ActionErr != nil:
		logger.Warn(ctx, component, "conversation.action_failed",
			append(attrs, slog.String("err", st.ActionErr.Error()))...)
	case st.Outcome == fsm.OutcomeRejected:
		logger.Info(ctx, component, "conversation.rejected",
			append(attrs, slog.String("text", logger.SanitizeLimit(msg.Text, previewRunes)))...)
	default:
		logger.Debug(ctx, component, "conversation.step", attrs...)
	}
}

func (p *Processor) janitor() {
	defer close(p.janitorDone)
	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopJanitor:
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Sweep retires idle conversations now and returns how many were removed.
func (p *Processor) Sweep() int {
	now := p.reg.now()
	evicted := p.reg.Sweep(now, p.opts.IdleTimeout)
	ctx := context.Background()
	for _, h := range evicted {
		hctx := logger.WithConversation(ctx, h.id, string(h.State()))
		logger.Info(hctx, component, "conversation.evicted",
			slog.String("status", "evicted"),
			slog.Int64("chat_id", int64(h.key)),
			slog.Duration("idle", now.Sub(h.LastActive())),
		)
		p.journal.Record(hctx, Record{
			InstanceID: h.id,
			Key:        h.key,
			Kind:       RecordEvicted,
			State:      h.State(),
			At:         now,
		})
	}
	return len(evicted)
}

// Close stops accepting messages and waits until queued messages are
// processed or ctx is done.
func (p *Processor) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.stopJanitor != nil {
		close(p.stopJanitor)
		<-p.janitorDone
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info(ctx, component, "processor.closed",
			slog.Int("sessions", p.reg.Len()),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("conversation: close: %w", ctx.Err())
	}
}
