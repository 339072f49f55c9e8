// Package commands declares the bot's slash commands.
package commands

import tele "gopkg.in/telebot.v4"

// Command names as registered with Telegram.
const (
	Hello    = "/hello"
	Another  = "/another"
	Sessions = "/sessions"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands run only for telegram.admin_id; others get OnReject.
	AdminOnly bool
	Hidden    bool
	// OnReject handles an AdminOnly command sent by someone else.
	OnReject tele.HandlerFunc
}

// Descriptions shown in the bot command menu.
var Descriptions = map[string]string{
	Hello:    "Introduce yourself",
	Another:  "Echo the text after the command",
	Sessions: "Count live conversations",
}
