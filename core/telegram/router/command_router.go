package router

import (
	"context"
	"log/slog"

	"github.com/m3rciful/fsmbot/core/logger"
	tg "github.com/m3rciful/fsmbot/core/telegram"
	"github.com/m3rciful/fsmbot/core/telegram/middleware"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID int64
}

// CommandRoutes binds every registered command, wrapping admin-only commands
// with the admin check.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	routes := make([]tg.Route, 0, len(reg.Commands()))
	for name, cmd := range reg.Commands() {
		h := cmd.Handler
		if cmd.AdminOnly {
			h = middleware.AdminOnlyMiddleware(middleware.AdminOptions{
				AdminID:  opts.AdminID,
				OnReject: cmd.OnReject,
			})(h)
		}
		routes = append(routes, tg.Route{Endpoint: name, Handler: h})
	}

	logger.LogEvent(context.Background(), logger.TWire, slog.LevelInfo, "tg.wire",
		slog.String("status", "ok"),
		slog.Int("commands", len(routes)),
	)
	return routes
}

// Routes returns the command routes followed by the conversation text route.
func Routes(reg *tg.Registry, proc Submitter, opts CommandRouteOptions) []tg.Route {
	return append(CommandRoutes(reg, opts), ConversationRoutes(proc)...)
}
