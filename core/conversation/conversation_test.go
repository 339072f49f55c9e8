package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/m3rciful/fsmbot/core/dialog"
	"github.com/m3rciful/fsmbot/core/fsm"
)

type reply struct {
	key  dialog.Key
	text string
}

type recorder struct {
	mu      sync.Mutex
	replies []reply
	block   chan struct{}
	entered chan struct{}
}

func (r *recorder) Send(_ context.Context, key dialog.Key, text string) error {
	if r.block != nil {
		r.entered <- struct{}{}
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{key: key, text: text})
	return nil
}

func (r *recorder) texts(key dialog.Key) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rep := range r.replies {
		if rep.key == key {
			out = append(out, rep.text)
		}
	}
	return out
}

type memJournal struct {
	mu      sync.Mutex
	records []Record
}

func (j *memJournal) Record(_ context.Context, rec Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
}

func (j *memJournal) kinds() []RecordKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]RecordKind, 0, len(j.records))
	for _, r := range j.records {
		out = append(out, r.Kind)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newDialogRegistry(t *testing.T, r dialog.Replier) *Registry {
	t.Helper()
	def, err := dialog.NewDefinition(dialog.NewHandlers(r), 0)
	require.NoError(t, err)
	return NewRegistry(def, 4)
}

func newProcessor(t *testing.T, reg *Registry, opts Options) *Processor {
	t.Helper()
	p := NewProcessor(reg, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, p.Close(ctx))
	})
	return p
}

func text(key dialog.Key, s string) dialog.Message {
	return dialog.Message{Chat: key, Text: s}
}

func TestGetOrCreateStartsIdleAndIsIdempotent(t *testing.T) {
	reg := newDialogRegistry(t, &recorder{})

	h := reg.GetOrCreate(42)
	assert.Equal(t, dialog.Idle, h.State())
	assert.NotEmpty(t, h.ID())
	assert.Same(t, h, reg.GetOrCreate(42))
	assert.Equal(t, 1, reg.Len())

	other := reg.GetOrCreate(-1001)
	assert.NotEqual(t, h.ID(), other.ID())
	assert.Equal(t, []dialog.Key{-1001, 42}, reg.Keys())

	assert.True(t, reg.Remove(42))
	assert.False(t, reg.Remove(42))
	assert.True(t, h.Retired())
	_, ok := reg.Get(42)
	assert.False(t, ok)
	assert.NotSame(t, h, reg.GetOrCreate(42))
}

func TestHelloFlowEvictsOnEnd(t *testing.T) {
	rec := &recorder{}
	journal := &memJournal{}
	reg := newDialogRegistry(t, rec)
	p := newProcessor(t, reg, Options{Journal: journal})
	ctx := context.Background()

	first, err := p.Apply(ctx, text(7, "/hello"))
	require.NoError(t, err)
	assert.Equal(t, dialog.HelloFlowPrompting, first.State)
	assert.False(t, first.Ended)

	second, err := p.Apply(ctx, text(7, "Gleb"))
	require.NoError(t, err)
	assert.True(t, second.Ended)
	assert.Equal(t, dialog.Ended, second.State)
	assert.Equal(t, first.InstanceID, second.InstanceID)

	_, ok := reg.Get(7)
	assert.False(t, ok, "ended conversation must be removed before Apply returns")
	assert.Equal(t, []string{dialog.NamePromptText, "okay, Gleb!"}, rec.texts(7))
	assert.Equal(t, []RecordKind{RecordStarted, RecordStep, RecordStep, RecordStep, RecordEnded}, journal.kinds())
}

func TestEchoFlowStripsCommand(t *testing.T) {
	rec := &recorder{}
	p := newProcessor(t, newDialogRegistry(t, rec), Options{})

	out, err := p.Apply(context.Background(), text(9, "/another foo bar"))
	require.NoError(t, err)
	assert.True(t, out.Ended)
	require.Len(t, out.Steps, 2)
	assert.Equal(t, dialog.AwaitingCommand, out.Steps[0].Via)
	assert.Equal(t, dialog.EchoFlow, out.Steps[0].To)
	assert.Equal(t, []string{"foo bar"}, rec.texts(9))
}

func TestPlainTextIsRejectedAndJournaled(t *testing.T) {
	rec := &recorder{}
	journal := &memJournal{}
	reg := newDialogRegistry(t, rec)
	p := newProcessor(t, reg, Options{Journal: journal})

	out, err := p.Apply(context.Background(), text(3, "hi"))
	require.NoError(t, err)
	assert.Equal(t, dialog.Idle, out.State)
	assert.Empty(t, rec.texts(3))

	h, ok := reg.Get(3)
	require.True(t, ok)
	assert.Equal(t, dialog.Idle, h.State())

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.records, 2)
	assert.Equal(t, fsm.OutcomeRejected, journal.records[1].Step.Outcome)
}

func TestReplayAfterEndStartsFresh(t *testing.T) {
	rec := &recorder{}
	p := newProcessor(t, newDialogRegistry(t, rec), Options{})
	ctx := context.Background()

	first, err := p.Apply(ctx, text(5, "/another one"))
	require.NoError(t, err)
	require.True(t, first.Ended)

	again, err := p.Apply(ctx, text(5, "/another one"))
	require.NoError(t, err)
	assert.Equal(t, dialog.Idle, again.From)
	assert.True(t, again.Ended)
	assert.NotEqual(t, first.InstanceID, again.InstanceID)
}

func TestQueuedMessagesMoveToSuccessorInOrder(t *testing.T) {
	rec := &recorder{block: make(chan struct{}), entered: make(chan struct{}, 4)}
	reg := newDialogRegistry(t, rec)
	p := newProcessor(t, reg, Options{})
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, text(11, "/another bye")))
	<-rec.entered
	old, ok := reg.Get(11)
	require.True(t, ok)

	require.NoError(t, p.Submit(ctx, text(11, "/hello")))
	result := make(chan Outcome, 1)
	go func() {
		out, _ := p.Apply(ctx, text(11, "Gleb"))
		result <- out
	}()
	require.Eventually(t, func() bool { return old.Pending() == 2 }, time.Second, time.Millisecond)

	close(rec.block)
	out := <-result
	assert.True(t, out.Ended)
	assert.NotEqual(t, old.ID(), out.InstanceID)
	assert.True(t, old.Retired())
	assert.Equal(t, []string{"bye", dialog.NamePromptText, "okay, Gleb!"}, rec.texts(11))
}

// overlapReplier blocks every send until released and notes whether two
// sends for one chat were ever in flight together.
type overlapReplier struct {
	recorder
	inflight sync.Map // dialog.Key -> *atomic.Int32
	overlap  atomic.Bool
}

func (r *overlapReplier) Send(ctx context.Context, key dialog.Key, text string) error {
	v, _ := r.inflight.LoadOrStore(key, new(atomic.Int32))
	n := v.(*atomic.Int32)
	if n.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer n.Add(-1)
	return r.recorder.Send(ctx, key, text)
}

func TestRemoveWhileProcessingKeepsChatSerial(t *testing.T) {
	rec := &overlapReplier{recorder: recorder{block: make(chan struct{}), entered: make(chan struct{}, 4)}}
	reg := newDialogRegistry(t, rec)
	p := newProcessor(t, reg, Options{})
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, text(11, "/hello")))
	<-rec.entered
	old, ok := reg.Get(11)
	require.True(t, ok)
	require.NoError(t, p.Submit(ctx, text(11, "/another second")))

	require.True(t, reg.Remove(11))
	assert.True(t, old.Retired())
	heir, ok := reg.Get(11)
	require.True(t, ok)
	assert.NotEqual(t, old.ID(), heir.ID())
	assert.Equal(t, 1, heir.Pending())
	require.NoError(t, p.Submit(ctx, text(11, "/another third")))

	select {
	case <-rec.entered:
		t.Fatal("queued message of chat 11 reached its action while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(rec.block)
	require.Eventually(t, func() bool { return len(rec.texts(11)) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{dialog.NamePromptText, "second", "third"}, rec.texts(11))
	assert.False(t, rec.overlap.Load())
}

func TestRemoveIdleConversation(t *testing.T) {
	reg := newDialogRegistry(t, &recorder{})
	p := newProcessor(t, reg, Options{})

	out, err := p.Apply(context.Background(), text(12, "/hello"))
	require.NoError(t, err)
	require.True(t, reg.Remove(12))
	_, ok := reg.Get(12)
	assert.False(t, ok)

	next, err := p.Apply(context.Background(), text(12, "Gleb"))
	require.NoError(t, err)
	assert.NotEqual(t, out.InstanceID, next.InstanceID)
	assert.Equal(t, dialog.Idle, next.State)
}

func TestConcurrentConversationsStayIsolated(t *testing.T) {
	rec := &recorder{}
	p := newProcessor(t, newDialogRegistry(t, rec), Options{Workers: 8})
	ctx := context.Background()

	const keys, rounds = 24, 40
	var wg sync.WaitGroup
	for k := 1; k <= keys; k++ {
		wg.Add(1)
		go func(key dialog.Key) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				assert.NoError(t, p.Submit(ctx, text(key, fmt.Sprintf("/another %d-%d", key, i))))
			}
		}(dialog.Key(k))
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.replies) == keys*rounds
	}, 5*time.Second, 5*time.Millisecond)

	for k := 1; k <= keys; k++ {
		got := rec.texts(dialog.Key(k))
		require.Len(t, got, rounds)
		for i, s := range got {
			assert.Equal(t, fmt.Sprintf("%d-%d", k, i), s)
		}
	}
	assert.Eventually(t, func() bool { return p.Registry().Len() == 0 }, time.Second, time.Millisecond)
}

func TestGuardErrorDropsConversation(t *testing.T) {
	errBroken := errors.New("broken guard")
	def, err := fsm.NewBuilder[*dialog.Conversation]().
		Initial(dialog.Idle).
		Terminal(dialog.Ended).
		Transition(fsm.Transition[*dialog.Conversation]{
			From: dialog.Idle, Event: dialog.TextReceived, To: dialog.Ended,
			Guard: func(*dialog.Conversation) (bool, error) { return false, errBroken },
		}).
		Build()
	require.NoError(t, err)
	journal := &memJournal{}
	reg := NewRegistry(def, 1)
	p := newProcessor(t, reg, Options{Journal: journal})

	out, err := p.Apply(context.Background(), text(1, "/x"))
	require.ErrorIs(t, err, fsm.ErrGuard)
	require.ErrorIs(t, out.Err, errBroken)
	assert.Zero(t, reg.Len())
	assert.Contains(t, journal.kinds(), RecordFatal)
}

func TestPanicDropsConversation(t *testing.T) {
	def, err := fsm.NewBuilder[*dialog.Conversation]().
		Initial(dialog.Idle).
		Terminal(dialog.Ended).
		Transition(fsm.Transition[*dialog.Conversation]{
			From: dialog.Idle, Event: dialog.TextReceived, To: dialog.Ended,
			Guard: func(*dialog.Conversation) (bool, error) { panic("nil map") },
		}).
		Build()
	require.NoError(t, err)
	reg := NewRegistry(def, 1)
	p := newProcessor(t, reg, Options{})

	_, err = p.Apply(context.Background(), text(1, "boom"))
	require.ErrorIs(t, err, ErrPanic)
	assert.Zero(t, reg.Len())

	// The consumer survived; other conversations still work.
	_, err = p.Apply(context.Background(), text(2, "boom"))
	require.ErrorIs(t, err, ErrPanic)
}

func TestSweepEvictsIdleConversations(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	journal := &memJournal{}
	reg := newDialogRegistry(t, &recorder{})
	reg.now = clk.Now
	p := newProcessor(t, reg, Options{IdleTimeout: time.Minute, SweepInterval: time.Hour, Journal: journal})
	ctx := context.Background()

	_, err := p.Apply(ctx, text(1, "hi"))
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	_, err = p.Apply(ctx, text(2, "hi"))
	require.NoError(t, err)

	clk.Advance(45 * time.Second)
	// The consumer releases its slot right after reporting the outcome.
	require.Eventually(t, func() bool { return p.Sweep() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []dialog.Key{2}, reg.Keys())
	assert.Equal(t, RecordEvicted, journal.kinds()[len(journal.kinds())-1])
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := NewProcessor(newDialogRegistry(t, &recorder{}), Options{IdleTimeout: time.Hour})
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
	assert.ErrorIs(t, p.Submit(context.Background(), text(1, "/hello")), ErrClosed)
	_, err := p.Apply(context.Background(), text(1, "/hello"))
	assert.ErrorIs(t, err, ErrClosed)
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestApplyRecordsSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	def, err := fsm.NewBuilder[*dialog.Conversation]().
		Initial(dialog.Idle).
		Terminal(dialog.Ended).
		Transition(fsm.Transition[*dialog.Conversation]{
			From: dialog.Idle, Event: dialog.TextReceived, To: dialog.Ended,
			Guard: func(*dialog.Conversation) (bool, error) { return false, errors.New("broken guard") },
		}).
		Build()
	require.NoError(t, err)
	p := newProcessor(t, newDialogRegistry(t, &recorder{}), Options{Tracer: tp.Tracer("test")})
	broken := newProcessor(t, NewRegistry(def, 1), Options{Tracer: tp.Tracer("test")})
	ctx := context.Background()

	_, err = p.Apply(ctx, text(9, "/another hi"))
	require.NoError(t, err)
	_, err = broken.Apply(ctx, text(10, "x"))
	require.Error(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "conversation.apply", ended[0].Name())
	assert.Equal(t, int64(9), spanAttr(ended[0], "chat.id").AsInt64())
	assert.Equal(t, string(dialog.Ended), spanAttr(ended[0], "fsm.to").AsString())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
}
