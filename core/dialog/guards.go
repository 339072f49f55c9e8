package dialog

import (
	"strings"

	"github.com/m3rciful/fsmbot/core/fsm"
)

// AnyCommandGuard passes when the triggering text starts with a slash.
func AnyCommandGuard(c *Conversation) (bool, error) {
	text, err := c.Text()
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(text, "/"), nil
}

// CommandGuard passes when the command token of the triggering text equals
// name. Matching follows ExtractCommandToken, so "/Hello@bot x" passes for
// "hello" and "/hellothere" does not.
func CommandGuard(name string) fsm.Guard[*Conversation] {
	want := strings.ToLower(strings.TrimPrefix(name, "/"))
	return func(c *Conversation) (bool, error) {
		text, err := c.Text()
		if err != nil {
			return false, err
		}
		token, ok := ExtractCommandToken(text)
		return ok && token == want, nil
	}
}
