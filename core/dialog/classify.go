package dialog

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m3rciful/fsmbot/core/fsm"
)

// Classify maps an inbound message to a machine event. Every text message is
// TextReceived; message kinds are not discriminated yet.
func Classify(Message) fsm.Event {
	return TextReceived
}

// ExtractCommandToken returns the command following a leading slash, lower
// cased and without a "@botname" suffix. It reports false when text is not a
// command.
func ExtractCommandToken(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	token := text[1:]
	if i := strings.IndexFunc(token, unicode.IsSpace); i >= 0 {
		token = token[:i]
	}
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	token = strings.ToLower(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// CommandArgs returns the text following the command token and the single
// whitespace separator after it. The rest is returned unchanged.
func CommandArgs(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	_, size := utf8.DecodeRuneInString(text[i:])
	return text[i+size:]
}
