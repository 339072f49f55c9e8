package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/fsmbot/core/config"
	"github.com/m3rciful/fsmbot/core/telegram/commands"
	"github.com/m3rciful/fsmbot/core/telemetry"
)

// testConfig applies edits before normalization so defaults that depend on
// them are filled in the same way Load fills them.
func testConfig(edits ...func(*config.Config)) *config.Config {
	cfg := &config.Config{Telegram: config.TelegramConfig{Token: "123:abc", AdminID: 9}}
	for _, edit := range edits {
		edit(cfg)
	}
	if err := config.Normalize(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func offlineOptions(cfg *config.Config) Options {
	return Options{
		Config:     cfg,
		LoggerInit: func(*config.Config) error { return nil },
		Telemetry: func(context.Context, config.TelemetryConfig) (telemetry.ShutdownFunc, error) {
			return func(context.Context) error { return nil }, nil
		},
		NewBot: func(*config.Config) (*tele.Bot, error) {
			return tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
		},
	}
}

func TestRunWithoutDatabase(t *testing.T) {
	app, err := Run(context.Background(), offlineOptions(testConfig()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if app.DB != nil || app.Journal != nil {
		t.Fatal("journal must stay disabled without database.host")
	}
	if app.Processor == nil || app.Bot == nil || app.Dispatcher == nil {
		t.Fatal("components missing")
	}
	for _, name := range []string{commands.Hello, commands.Another, commands.Sessions} {
		if _, ok := app.Commands.Lookup(name); !ok {
			t.Fatalf("command %s not registered", name)
		}
	}

	run := app.TelegramRunOptions()
	if run.Bot != app.Bot || len(run.Routes) != 4 || run.OnStop == nil {
		t.Fatalf("unexpected run options: routes=%d", len(run.Routes))
	}
	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func withDatabase(c *config.Config) { c.Database.Host = "db" }

func TestRunWithJournal(t *testing.T) {
	opts := offlineOptions(testConfig(withDatabase))
	var migrations []config.DatabaseConfig
	opts.Connect = func(context.Context, config.DatabaseConfig) (*sqlx.DB, error) {
		return sqlx.Open("sqlite", ":memory:")
	}
	opts.Migrate = func(_ context.Context, c config.DatabaseConfig) error {
		migrations = append(migrations, c)
		return nil
	}

	app, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("Migrate called %d times, want 1", len(migrations))
	}
	if got := migrations[0]; got.Host != "db" || got.MigrationsDir != config.DefaultMigrationsDir {
		t.Fatalf("Migrate got host=%q dir=%q, want host=%q dir=%q",
			got.Host, got.MigrationsDir, "db", config.DefaultMigrationsDir)
	}
	if app.Journal == nil {
		t.Fatal("journal not initialized")
	}
	if err := app.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRunReleasesOnFailure(t *testing.T) {
	opts := offlineOptions(testConfig(withDatabase))
	var db *sqlx.DB
	opts.Connect = func(context.Context, config.DatabaseConfig) (*sqlx.DB, error) {
		var err error
		db, err = sqlx.Open("sqlite", ":memory:")
		return db, err
	}
	errDirty := errors.New("dirty database version 3")
	opts.Migrate = func(context.Context, config.DatabaseConfig) error { return errDirty }

	if _, err := Run(context.Background(), opts); !errors.Is(err, errDirty) {
		t.Fatalf("Run returned %v, want %v", err, errDirty)
	}
	if err := db.Ping(); err == nil {
		t.Fatal("database left open after failed bootstrap")
	}
}

func TestNewDefinitionUsesConfiguredChain(t *testing.T) {
	def, err := NewDefinition(config.ConversationConfig{MaxChainedEvents: 4}, nil)
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	if got := def.MaxChain(); got != 4 {
		t.Fatalf("MaxChain = %d, want 4", got)
	}
}
