// Package bootstrap assembles the bot from its configuration: logger,
// tracing, the optional journal database, the conversation processor and the
// Telegram wiring.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fsmbot/core/config"
	"github.com/m3rciful/fsmbot/core/conversation"
	"github.com/m3rciful/fsmbot/core/database"
	"github.com/m3rciful/fsmbot/core/dialog"
	"github.com/m3rciful/fsmbot/core/journal"
	"github.com/m3rciful/fsmbot/core/logger"
	"github.com/m3rciful/fsmbot/core/telegram"
	"github.com/m3rciful/fsmbot/core/telegram/router"
	"github.com/m3rciful/fsmbot/core/telegram/sender"
	"github.com/m3rciful/fsmbot/core/telemetry"
)

// drainTimeout bounds how long shutdown waits for queued messages.
const drainTimeout = 15 * time.Second

// Options control the bootstrap pipeline. Nil hooks use the package defaults.
type Options struct {
	Config *config.Config

	LoggerInit func(*config.Config) error
	Telemetry  func(context.Context, config.TelemetryConfig) (telemetry.ShutdownFunc, error)
	Connect    func(context.Context, config.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, config.DatabaseConfig) error
	NewBot     func(*config.Config) (*tele.Bot, error)
}

// App holds the components built by Run.
type App struct {
	Config     *config.Config
	DB         *sqlx.DB
	Journal    *journal.Writer
	Bot        *tele.Bot
	Dispatcher *sender.Dispatcher
	Processor  *conversation.Processor
	Commands   *telegram.Registry

	shutdownTelemetry telemetry.ShutdownFunc
}

// NewDefinition builds and validates the conversation machine.
func NewDefinition(cfg config.ConversationConfig, r dialog.Replier) (*dialog.Definition, error) {
	def, err := dialog.NewDefinition(dialog.NewHandlers(r), cfg.MaxChainedEvents)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: conversation machine: %w", err)
	}
	return def, nil
}

// Run initializes every component. On error the components built so far are
// released.
func Run(ctx context.Context, opts Options) (app *App, err error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config provided")
	}
	opts = withDefaults(opts)

	if err := opts.LoggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	if app.shutdownTelemetry, err = opts.Telemetry(ctx, cfg.Telemetry); err != nil {
		return app, fmt.Errorf("bootstrap: telemetry: %w", err)
	}

	if cfg.Database.Enabled() {
		if app.DB, err = opts.Connect(ctx, cfg.Database); err != nil {
			return app, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}
		if err = opts.Migrate(ctx, cfg.Database); err != nil {
			return app, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		app.Journal = journal.NewWriter(journal.NewStore(app.DB), journal.WriterOptions{})
	} else {
		logger.LogEvent(ctx, logger.DB, slog.LevelInfo, "journal.disabled", slog.String("status", "skip"))
	}

	if app.Bot, err = opts.NewBot(cfg); err != nil {
		return app, err
	}
	app.Dispatcher = sender.NewDispatcher(telegram.DispatcherOptions(cfg.Sender))

	def, err := NewDefinition(cfg.Conversation, sender.NewReplier(app.Bot, app.Dispatcher))
	if err != nil {
		return app, err
	}
	popts := conversation.Options{
		Workers:       cfg.Conversation.Workers,
		IdleTimeout:   cfg.Conversation.IdleTimeout(),
		SweepInterval: cfg.Conversation.SweepInterval(),
	}
	if app.Journal != nil {
		popts.Journal = app.Journal
	}
	app.Processor = conversation.NewProcessor(conversation.NewRegistry(def, cfg.Conversation.Shards), popts)

	app.Commands = telegram.NewRegistry()
	router.RegisterConversationCommands(app.Commands, app.Processor, app.Processor.Registry())

	logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "processor.ready",
		slog.String("status", "ok"),
		slog.Int("workers", cfg.Conversation.Workers),
		slog.Int("shards", cfg.Conversation.Shards),
	)
	return app, nil
}

func withDefaults(opts Options) Options {
	if opts.LoggerInit == nil {
		opts.LoggerInit = logger.InitLogger
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Setup
	}
	if opts.Connect == nil {
		opts.Connect = database.Connect
	}
	if opts.Migrate == nil {
		opts.Migrate = database.RunMigrations
	}
	if opts.NewBot == nil {
		opts.NewBot = telegram.NewBot
	}
	return opts
}

// TelegramRunOptions wires the app into RunTelegram. OnStop drains the
// conversations while the dispatcher can still send their replies.
func (a *App) TelegramRunOptions() telegram.RunOptions {
	cfg := a.Config
	return telegram.RunOptions{
		Config:      cfg,
		Bot:         a.Bot,
		Registry:    a.Commands,
		Dispatcher:  a.Dispatcher,
		Middlewares: telegram.DefaultMiddlewares(cfg, nil),
		Routes:      router.Routes(a.Commands, a.Processor, router.CommandRouteOptions{AdminID: cfg.Telegram.AdminID}),
		OnStop: func(ctx context.Context, _ telegram.Runtime) error {
			ctx, cancel := context.WithTimeout(ctx, drainTimeout)
			defer cancel()
			return a.Processor.Close(ctx)
		},
	}
}

// Close releases everything Run built. It is safe to call on a partially
// built app and after RunTelegram returned.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Processor != nil {
		ctx, cancel := context.WithTimeout(ctx, drainTimeout)
		errs = append(errs, a.Processor.Close(ctx))
		cancel()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	if a.Journal != nil {
		errs = append(errs, a.Journal.Close(ctx))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}
