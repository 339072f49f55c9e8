package dialog

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/fsmbot/core/fsm"
)

// Key identifies a conversation. It is the Telegram chat id.
type Key int64

const (
	// Idle waits for a command.
	Idle fsm.State = "idle"
	// AwaitingCommand routes a received command; it is a choice pseudo-state.
	AwaitingCommand fsm.State = "awaiting_command"
	// HelloFlowPrompting has asked for the user's name.
	HelloFlowPrompting fsm.State = "hello_flow_prompting"
	// HelloFlowAwaitingName has greeted the user by name.
	HelloFlowAwaitingName fsm.State = "hello_flow_awaiting_name"
	// EchoFlow has echoed the command arguments.
	EchoFlow fsm.State = "echo_flow"
	// Ended is terminal; the conversation is evicted once reached.
	Ended fsm.State = "ended"
)

const (
	// TextReceived is produced for every inbound text message.
	TextReceived fsm.Event = "text_received"
	// InvalidInput is queued when a reply action fails.
	InvalidInput fsm.Event = "invalid_input"
	// ResponseSent is emitted by actions after a successful reply.
	ResponseSent fsm.Event = "response_sent"
)

var (
	// ErrNoMessage is returned by guards when the conversation has no
	// triggering message recorded.
	ErrNoMessage = errors.New("dialog: no triggering message")
	// ErrEmptyEcho is returned by the echo action when the command has no
	// arguments to send back.
	ErrEmptyEcho = errors.New("dialog: nothing to echo")
)

// Message is the inbound payload the machine reacts to.
type Message struct {
	UpdateID   int
	MessageID  int
	Chat       Key
	SenderID   int64
	SenderName string
	Text       string
	ReceivedAt time.Time
}

// Conversation is the extended state of one conversation. It is owned by a
// single consumer at a time.
type Conversation struct {
	Key Key
	// Message is the most recent inbound message.
	Message *Message
	// Name is captured by the hello flow.
	Name string
}

// Observe records msg as the triggering message.
func (c *Conversation) Observe(msg Message) {
	m := msg
	c.Message = &m
}

// Text returns the triggering message text.
func (c *Conversation) Text() (string, error) {
	if c == nil || c.Message == nil {
		return "", ErrNoMessage
	}
	return c.Message.Text, nil
}

// Replier delivers a text reply to a conversation. Implementations bound the
// time spent on a single call.
type Replier interface {
	Send(ctx context.Context, key Key, text string) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, key Key, text string) error

// Send calls f.
func (f ReplierFunc) Send(ctx context.Context, key Key, text string) error {
	return f(ctx, key, text)
}

type (
	action     = fsm.Action[*Conversation]
	branch     = fsm.Branch[*Conversation]
	transition = fsm.Transition[*Conversation]
)

// Definition is the machine type used by the bot.
type Definition = fsm.Definition[*Conversation]

// Instance is one running conversation machine.
type Instance = fsm.Instance[*Conversation]
