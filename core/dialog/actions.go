package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/fsmbot/core/fsm"
	"github.com/m3rciful/fsmbot/core/logger"
)

// Reply texts sent by the handlers.
const (
	NamePromptText = "Hello! What is your name?"
	GreetingFormat = "okay, %s!"
	ParseErrorText = "cannot parse command"
)

// Handlers holds the reply actions of the machine.
type Handlers struct {
	replier Replier
}

// NewHandlers returns handlers that reply through r.
func NewHandlers(r Replier) *Handlers {
	return &Handlers{replier: r}
}

func (h *Handlers) send(ctx context.Context, c *Conversation, op, text string) error {
	if h.replier == nil {
		return fmt.Errorf("%s: %w", op, errors.New("dialog: no replier configured"))
	}
	if err := h.replier.Send(ctx, c.Key, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	logger.Debug(ctx, "dialog", "reply.sent",
		slog.String("op", op),
		slog.Int64("chat_id", int64(c.Key)),
		slog.Int("len", len(text)),
	)
	return nil
}

// SendNamePrompt asks the user for their name.
func (h *Handlers) SendNamePrompt(ctx context.Context, c *Conversation) ([]fsm.Event, error) {
	return nil, h.send(ctx, c, "name_prompt", NamePromptText)
}

// SendGreeting greets the user using the received text as the name.
func (h *Handlers) SendGreeting(ctx context.Context, c *Conversation) ([]fsm.Event, error) {
	text, err := c.Text()
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(text)
	if name == "" {
		return nil, fmt.Errorf("greeting: empty name")
	}
	c.Name = name
	if err := h.send(ctx, c, "greeting", fmt.Sprintf(GreetingFormat, name)); err != nil {
		return nil, err
	}
	return []fsm.Event{ResponseSent}, nil
}

// SendEcho sends the text following the command token back verbatim.
func (h *Handlers) SendEcho(ctx context.Context, c *Conversation) ([]fsm.Event, error) {
	text, err := c.Text()
	if err != nil {
		return nil, err
	}
	args := CommandArgs(text)
	if strings.TrimSpace(args) == "" {
		return nil, ErrEmptyEcho
	}
	if err := h.send(ctx, c, "echo", args); err != nil {
		return nil, err
	}
	return []fsm.Event{ResponseSent}, nil
}

// SendParseError tells the user the command was not understood.
func (h *Handlers) SendParseError(ctx context.Context, c *Conversation) ([]fsm.Event, error) {
	return nil, h.send(ctx, c, "parse_error", ParseErrorText)
}
