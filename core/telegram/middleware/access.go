package middleware

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fsmbot/core/logger"
	tghelpers "github.com/m3rciful/fsmbot/core/telegram/helpers"
)

// AdminOptions configures AdminOnlyMiddleware.
type AdminOptions struct {
	AdminID int64
	// OnReject handles updates from other users; nil drops them.
	OnReject tele.HandlerFunc
}

// denyReason returns why c may not run an admin command, or "" when it may.
func denyReason(adminID int64, c tele.Context) string {
	switch u := c.Sender(); {
	case adminID == 0:
		return "no_admin_configured"
	case u == nil:
		return "no_sender"
	case u.ID != adminID:
		return "not_admin"
	}
	return ""
}

// AdminOnlyMiddleware lets only telegram.admin_id through. With no admin
// configured every user is rejected.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			reason := denyReason(opts.AdminID, c)
			if reason == "" {
				return next(c)
			}
			logger.Info(tghelpers.BuildContext(c), "tg", "access.denied",
				slog.String("status", "skip"),
				slog.String("reason", reason),
			)
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
