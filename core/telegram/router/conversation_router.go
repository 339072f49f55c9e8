// Package router binds Telegram endpoints to the conversation processor and
// the operator commands.
package router

import (
	"context"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fsmbot/core/dialog"
	tg "github.com/m3rciful/fsmbot/core/telegram"
	"github.com/m3rciful/fsmbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/fsmbot/core/telegram/helpers"
)

const conversationHandler = "conversation"

// Submitter accepts messages for their conversations.
type Submitter interface {
	Submit(ctx context.Context, msg dialog.Message) error
}

// SessionCounter reports the number of live conversations.
type SessionCounter interface {
	Len() int
}

// ConversationHandler hands text messages to the processor. It returns once
// the message is queued; replies are sent by the conversation's actions.
func ConversationHandler(proc Submitter) tele.HandlerFunc {
	return func(c tele.Context) error {
		msg, ok := tghelpers.MessageFrom(c)
		if !ok {
			logHandlerSummary(c, conversationHandler, updateStart(c), "skip", nil)
			return nil
		}
		return handleWithSummary(c, conversationHandler, func() error {
			return proc.Submit(tghelpers.BuildContext(c), msg)
		})
	}
}

// ConversationRoutes routes every text message that is not a registered
// command into the conversations. Unregistered commands arrive here too.
func ConversationRoutes(proc Submitter) []tg.Route {
	return []tg.Route{{Endpoint: tele.OnText, Handler: ConversationHandler(proc)}}
}

// RegisterConversationCommands registers the conversation commands for the
// bot menu and the hidden admin /sessions command. Non-admin /sessions
// messages go to the conversation like any other unknown command.
func RegisterConversationCommands(reg *tg.Registry, proc Submitter, sessions SessionCounter) {
	conv := ConversationHandler(proc)
	reg.RegisterCommand(commands.Hello, commands.Command{
		Handler:     conv,
		Description: commands.Descriptions[commands.Hello],
	})
	reg.RegisterCommand(commands.Another, commands.Command{
		Handler:     conv,
		Description: commands.Descriptions[commands.Another],
	})
	reg.RegisterCommand(commands.Sessions, commands.Command{
		Handler:     SessionsHandler(sessions),
		Description: commands.Descriptions[commands.Sessions],
		AdminOnly:   true,
		Hidden:      true,
		OnReject:    conv,
	})
}

// SessionsText renders the /sessions reply.
func SessionsText(n int) string {
	return fmt.Sprintf("live conversations: %d", n)
}

// SessionsHandler replies with the number of live conversations.
func SessionsHandler(sessions SessionCounter) tele.HandlerFunc {
	return func(c tele.Context) error {
		n := sessions.Len()
		return handleWithSummary(c, normalizeHandlerName(commands.Sessions), func() error {
			return tghelpers.Reply(c, SessionsText(n))
		},
			slog.Int("sessions", n),
		)
	}
}
