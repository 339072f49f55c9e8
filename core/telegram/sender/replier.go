package sender

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fsmbot/core/dialog"
	"github.com/m3rciful/fsmbot/core/logger"
)

// BotAPI is the part of *tele.Bot the replier needs.
type BotAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Replier sends conversation replies as plain text messages through the
// dispatcher's synchronous retry path.
type Replier struct {
	bot  BotAPI
	disp *Dispatcher
}

var _ dialog.Replier = (*Replier)(nil)

// NewReplier returns a replier sending through bot.
func NewReplier(bot BotAPI, disp *Dispatcher) *Replier {
	return &Replier{bot: bot, disp: disp}
}

// Send delivers text to the conversation's chat.
func (r *Replier) Send(ctx context.Context, key dialog.Key, text string) error {
	if logger.ChatIDFrom(ctx) == 0 {
		ctx = logger.WithUpdateMeta(ctx, logger.UpdateIDFrom(ctx), logger.UserIDFrom(ctx), int64(key))
	}
	return r.disp.Do(ctx, "send.text", "sendMessage", func() error {
		_, err := r.bot.Send(tele.ChatID(key), text)
		return err
	})
}
