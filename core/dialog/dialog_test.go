package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/fsmbot/core/fsm"
)

type sent struct {
	key  Key
	text string
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []sent
	fail func(text string) error
}

func (f *fakeReplier) Send(_ context.Context, key Key, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(text); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sent{key: key, text: text})
	return nil
}

func (f *fakeReplier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func newMachine(t *testing.T, r Replier) (*Definition, *Instance, *Conversation) {
	t.Helper()
	def, err := NewDefinition(NewHandlers(r), 0)
	require.NoError(t, err)
	conv := &Conversation{Key: 7}
	return def, def.NewInstance(conv), conv
}

func deliver(t *testing.T, def *Definition, inst *Instance, text string) fsm.Result {
	t.Helper()
	conv := inst.Extended()
	msg := Message{Chat: conv.Key, Text: text}
	conv.Observe(msg)
	res, err := def.Apply(context.Background(), inst, Classify(msg))
	require.NoError(t, err)
	return res
}

func path(results ...fsm.Result) []fsm.State {
	var out []fsm.State
	for _, r := range results {
		for _, s := range r.Steps {
			if s.Outcome != fsm.OutcomeFired {
				continue
			}
			if len(out) == 0 {
				out = append(out, s.From)
			}
			if s.Via != "" {
				out = append(out, s.Via)
			}
			out = append(out, s.To)
		}
	}
	return out
}

func TestExtractCommandToken(t *testing.T) {
	cases := []struct {
		in    string
		token string
		ok    bool
	}{
		{"/hello", "hello", true},
		{"/another foo bar", "another", true},
		{"/Hello@fsm_bot extra", "hello", true},
		{"hi", "", false},
		{"/", "", false},
		{" /hello", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := ExtractCommandToken(tc.in)
		assert.Equal(t, tc.token, token, tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
	}
}

func TestCommandArgs(t *testing.T) {
	assert.Equal(t, "foo bar", CommandArgs("/another foo bar"))
	assert.Equal(t, "  foo  bar  ", CommandArgs("/another   foo  bar  "))
	assert.Equal(t, "line one\n line two", CommandArgs("/another\nline one\n line two"))
	assert.Equal(t, "привет", CommandArgs("/another\u00a0привет"))
	assert.Equal(t, "", CommandArgs("/another"))
	assert.Equal(t, "", CommandArgs("/another "))
	assert.Equal(t, "", CommandArgs("plain text"))
}

func TestClassifyAlwaysTextReceived(t *testing.T) {
	assert.Equal(t, TextReceived, Classify(Message{Text: "/hello"}))
	assert.Equal(t, TextReceived, Classify(Message{}))
}

func TestGuards(t *testing.T) {
	conv := &Conversation{}
	_, err := AnyCommandGuard(conv)
	require.ErrorIs(t, err, ErrNoMessage)

	conv.Observe(Message{Text: "/hello there"})
	ok, err := AnyCommandGuard(conv)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CommandGuard("hello")(conv)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CommandGuard("another")(conv)
	require.NoError(t, err)
	assert.False(t, ok)

	conv.Observe(Message{Text: "hello"})
	ok, err = AnyCommandGuard(conv)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommandGuardMatchesToken(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"/hello", true},
		{"/hello there", true},
		{"/Hello", true},
		{"/hello@fsm_bot", true},
		{"/HELLO@fsm_bot Gleb", true},
		{"/hellothere", false},
		{"/hell", false},
		{"hello", false},
		{"/", false},
	}
	guard := CommandGuard("hello")
	for _, tc := range cases {
		conv := &Conversation{}
		conv.Observe(Message{Text: tc.text})
		ok, err := guard(conv)
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.want, ok, tc.text)
	}
}

func TestCommandCaseAndMentionRouteToFlow(t *testing.T) {
	for _, cmd := range []string{"/Hello", "/hello@fsm_bot"} {
		t.Run(cmd, func(t *testing.T) {
			r := &fakeReplier{}
			def, inst, _ := newMachine(t, r)

			res := deliver(t, def, inst, cmd)
			assert.Equal(t, HelloFlowPrompting, res.State)
			assert.Equal(t, []string{NamePromptText}, r.texts())
		})
	}
}

func TestHelloFlowEnds(t *testing.T) {
	r := &fakeReplier{}
	def, inst, conv := newMachine(t, r)
	assert.Equal(t, Idle, inst.State())

	first := deliver(t, def, inst, "/hello")
	assert.Equal(t, HelloFlowPrompting, first.State)
	second := deliver(t, def, inst, "Gleb")
	assert.Equal(t, Ended, second.State)

	assert.Equal(t, []fsm.State{Idle, AwaitingCommand, HelloFlowPrompting, HelloFlowAwaitingName, Ended}, path(first, second))
	assert.Equal(t, []string{NamePromptText, "okay, Gleb!"}, r.texts())
	assert.Equal(t, "Gleb", conv.Name)
}

func TestEchoFlowStripsCommand(t *testing.T) {
	r := &fakeReplier{}
	def, inst, _ := newMachine(t, r)

	res := deliver(t, def, inst, "/another foo bar")
	assert.Equal(t, Ended, res.State)
	assert.Equal(t, []fsm.State{Idle, AwaitingCommand, EchoFlow, Ended}, path(res))
	assert.Equal(t, []string{"foo bar"}, r.texts())
}

func TestUnknownCommandReturnsToIdle(t *testing.T) {
	for _, cmd := range []string{"/start", "/help", "/echo x", "/hellothere", "/anotherfoo bar"} {
		t.Run(cmd, func(t *testing.T) {
			r := &fakeReplier{}
			def, inst, _ := newMachine(t, r)

			res := deliver(t, def, inst, cmd)
			assert.Equal(t, Idle, res.State)
			assert.Equal(t, []string{ParseErrorText}, r.texts())
		})
	}
}

func TestPlainTextStaysIdle(t *testing.T) {
	r := &fakeReplier{}
	def, inst, _ := newMachine(t, r)

	res := deliver(t, def, inst, "hi")
	assert.Equal(t, Idle, res.State)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, fsm.OutcomeRejected, res.Steps[0].Outcome)
	assert.Empty(t, r.texts())
}

func TestGreetingFailureRepromptsName(t *testing.T) {
	errDown := errors.New("telegram down")
	r := &fakeReplier{fail: func(text string) error {
		if text == "okay, Gleb!" {
			return errDown
		}
		return nil
	}}
	def, inst, _ := newMachine(t, r)

	deliver(t, def, inst, "/hello")
	res := deliver(t, def, inst, "Gleb")
	assert.Equal(t, HelloFlowPrompting, res.State)
	require.Len(t, res.Steps, 2)
	assert.ErrorIs(t, res.Steps[0].ActionErr, errDown)
	assert.Equal(t, InvalidInput, res.Steps[1].Event)
	assert.Equal(t, []string{NamePromptText, NamePromptText}, r.texts())
}

func TestEchoWithoutArgsEnds(t *testing.T) {
	for _, cmd := range []string{"/another", "/another   "} {
		t.Run(cmd, func(t *testing.T) {
			r := &fakeReplier{}
			def, inst, _ := newMachine(t, r)

			res := deliver(t, def, inst, cmd)
			assert.Equal(t, Ended, res.State)
			assert.ErrorIs(t, res.Steps[0].ActionErr, ErrEmptyEcho)
			assert.Empty(t, r.texts())
		})
	}
}

func TestEchoKeepsArgumentsVerbatim(t *testing.T) {
	r := &fakeReplier{}
	def, inst, _ := newMachine(t, r)

	res := deliver(t, def, inst, "/another  indented\n  text ")
	assert.Equal(t, Ended, res.State)
	assert.Equal(t, []string{" indented\n  text "}, r.texts())
}
