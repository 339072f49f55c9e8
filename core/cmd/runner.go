// Package cmd runs the bot process: it loads configuration, bootstraps the
// app and keeps the Telegram runtime alive until a termination signal.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m3rciful/fsmbot/core/bootstrap"
	"github.com/m3rciful/fsmbot/core/config"
	"github.com/m3rciful/fsmbot/core/logger"
	coretelegram "github.com/m3rciful/fsmbot/core/telegram"
)

// DefaultConfigEnvVar names the variable consulted for the config path.
const DefaultConfigEnvVar = "CONFIG_PATH"

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	// ConfigPath wins over the environment when set.
	ConfigPath        string
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*config.Config, error)
	Bootstrap  func(ctx context.Context, cfg *config.Config) (*bootstrap.App, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// ResolveConfigPath returns the explicit path, then the env variable, then
// the default. An empty result means configuration comes from env only.
func ResolveConfigPath(opts Options) string {
	if p := strings.TrimSpace(opts.ConfigPath); p != "" {
		return p
	}
	env := opts.ConfigEnvVar
	if env == "" {
		env = DefaultConfigEnvVar
	}
	if p := strings.TrimSpace(os.Getenv(env)); p != "" {
		return p
	}
	return opts.DefaultConfigPath
}

// Run loads configuration, bootstraps the app, and serves updates until ctx
// is cancelled or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, opts Options) error {
	opts = withDefaults(opts)

	cfgPath := ResolveConfigPath(opts)
	if cfgPath == "" {
		log.Printf("loading config from environment")
	} else {
		log.Printf("loading config: %s", cfgPath)
	}
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	startedAt := time.Now()
	application, err := opts.Bootstrap(ctx, cfg)
	if err != nil {
		_ = opts.ShutdownLogger()
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	defer func() {
		if err := opts.ShutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	runOpts := application.TelegramRunOptions()

	prevStart := runOpts.OnStart
	runOpts.OnStart = func(ctx context.Context, rt coretelegram.Runtime) error {
		if prevStart != nil {
			if err := prevStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "ready",
			slog.String("status", "ok"),
			slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
		)
		return nil
	}

	prevStop := runOpts.OnStop
	runOpts.OnStop = func(ctx context.Context, rt coretelegram.Runtime) error {
		logger.Info(ctx, "app", "shutdown")
		if prevStop != nil {
			return prevStop(ctx, rt)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := opts.RunTelegram(ctx, runOpts)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	closeErr := application.Close(context.WithoutCancel(ctx))
	if closeErr != nil {
		logger.Error(ctx, "app", "close", slog.String("status", "fail"), slog.String("err", closeErr.Error()))
	}
	return errors.Join(runErr, closeErr)
}

func withDefaults(opts Options) Options {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.Bootstrap == nil {
		opts.Bootstrap = func(ctx context.Context, cfg *config.Config) (*bootstrap.App, error) {
			return bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
		}
	}
	if opts.ShutdownLogger == nil {
		opts.ShutdownLogger = logger.Shutdown
	}
	if opts.RunTelegram == nil {
		opts.RunTelegram = coretelegram.RunTelegram
	}
	return opts
}
