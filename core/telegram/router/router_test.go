package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fsmbot/core/dialog"
	tg "github.com/m3rciful/fsmbot/core/telegram"
	"github.com/m3rciful/fsmbot/core/telegram/commands"
	"github.com/m3rciful/fsmbot/core/telegram/middleware"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	msgs []dialog.Message
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, msg dialog.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSubmitter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.Text)
	}
	return out
}

type fixedCounter int

func (n fixedCounter) Len() int { return int(n) }

func newBot(t *testing.T) *tele.Bot {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return bot
}

func update(id int, userID int64, text string) tele.Update {
	return tele.Update{
		ID: id,
		Message: &tele.Message{
			ID:     id,
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			Sender: &tele.User{ID: userID},
			Text:   text,
		},
	}
}

func wire(t *testing.T, sub *fakeSubmitter, adminID int64) *tele.Bot {
	t.Helper()
	bot := newBot(t)
	reg := tg.NewRegistry()
	RegisterConversationCommands(reg, sub, fixedCounter(3))
	bot.Use(middleware.LoggerMiddleware)
	for _, r := range Routes(reg, sub, CommandRouteOptions{AdminID: adminID}) {
		bot.Handle(r.Endpoint, r.Handler)
	}
	return bot
}

func TestRoutesFeedConversations(t *testing.T) {
	sub := &fakeSubmitter{}
	bot := wire(t, sub, 99)

	for i, text := range []string{"/hello", "Gleb", "/another foo bar", "/unknown", "/sessions"} {
		bot.ProcessUpdate(update(i+1, 7, text))
	}

	want := []string{"/hello", "Gleb", "/another foo bar", "/unknown", "/sessions"}
	got := sub.texts()
	if len(got) != len(want) {
		t.Fatalf("submitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("submitted %v, want %v", got, want)
		}
	}
	if sub.msgs[0].Chat != dialog.Key(7) || sub.msgs[0].UpdateID != 1 {
		t.Fatalf("unexpected message metadata: %+v", sub.msgs[0])
	}
}

func TestConversationHandlerPropagatesSubmitError(t *testing.T) {
	errClosed := errors.New("closed")
	sub := &fakeSubmitter{err: errClosed}
	h := ConversationHandler(sub)
	c := newBot(t).NewContext(update(1, 7, "hi"))
	if err := h(c); !errors.Is(err, errClosed) {
		t.Fatalf("handler returned %v, want %v", err, errClosed)
	}
}

func TestConversationHandlerSkipsEmptyMessages(t *testing.T) {
	sub := &fakeSubmitter{}
	h := ConversationHandler(sub)
	if err := h(newBot(t).NewContext(tele.Update{ID: 1})); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(sub.texts()) != 0 {
		t.Fatal("empty update must not be submitted")
	}
}

func TestRegisterConversationCommandsMenu(t *testing.T) {
	reg := tg.NewRegistry()
	RegisterConversationCommands(reg, &fakeSubmitter{}, fixedCounter(0))

	visible := reg.ListCommands(true)
	if len(visible) != 2 || visible[0].Text != commands.Another || visible[1].Text != commands.Hello {
		t.Fatalf("visible commands = %+v", visible)
	}
	if len(reg.ListCommands(false)) != 3 {
		t.Fatal("/sessions must be registered")
	}
	cmd, ok := reg.Lookup(commands.Sessions)
	if !ok || !cmd.AdminOnly || !cmd.Hidden || cmd.OnReject == nil {
		t.Fatalf("unexpected /sessions command: %+v", cmd)
	}
}

func TestSessionsText(t *testing.T) {
	if got := SessionsText(3); got != "live conversations: 3" {
		t.Fatalf("SessionsText = %q", got)
	}
}

func TestDeriveErrorCode(t *testing.T) {
	if got := deriveErrorCode(errors.New("x")); got != "ERRORSTRING" {
		t.Fatalf("deriveErrorCode = %q", got)
	}
	if got := normalizeHandlerName("/Sessions"); got != "sessions" {
		t.Fatalf("normalizeHandlerName = %q", got)
	}
}
