package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fsmbot/core/logger"
	"github.com/m3rciful/fsmbot/core/telegram/sender"
)

var dispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the sender used by Reply. Nil unwires it.
func SetDispatcher(d *sender.Dispatcher) {
	dispatcher.Store(d)
}

// Reply sends plain text to the chat of c outside any conversation. The
// update loop is synchronous, so the text is queued; a full queue falls back
// to a blocking send and a closed one to a direct call.
func Reply(c tele.Context, text string) error {
	send := func() error { return c.Send(text) }
	disp := dispatcher.Load()
	if disp == nil {
		return send()
	}

	ctx := BuildContext(c)
	err := disp.Enqueue(ctx, "send.text", "sendMessage", send)
	switch {
	case errors.Is(err, sender.ErrQueueFull):
		logger.Warn(ctx, "tg.sender", "queue.full",
			slog.String("status", "retry"),
			slog.String("op", "send.text"),
		)
		return disp.Do(ctx, "send.text", "sendMessage", send)
	case errors.Is(err, sender.ErrQueueClosed):
		return send()
	}
	return err
}
