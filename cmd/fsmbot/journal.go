package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/fsmbot/core/cmd"
	"github.com/m3rciful/fsmbot/core/config"
	"github.com/m3rciful/fsmbot/core/database"
	"github.com/m3rciful/fsmbot/core/journal"
)

var journalFlags struct {
	instance string
	chat     int64
	limit    int
}

type journalReader interface {
	ByInstance(ctx context.Context, instanceID string) ([]journal.Entry, error)
	Rejections(ctx context.Context, chatID int64, limit int) ([]journal.Entry, error)
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show journaled transitions",
	Long:  "Prints the steps of one conversation instance (--instance) or the latest guard rejections of a chat (--chat).",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if (journalFlags.instance == "") == (journalFlags.chat == 0) {
			return errors.New("exactly one of --instance or --chat is required")
		}
		cfg, err := config.Load(corecmd.ResolveConfigPath(corecmd.Options{ConfigPath: configPath}))
		if err != nil {
			return err
		}
		if !cfg.Database.Enabled() {
			return errors.New("journal is disabled: database.host is not set")
		}

		ctx := cmd.Context()
		db, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := readJournal(ctx, journal.NewStore(db))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderEntries(entries))
		return nil
	},
}

func init() {
	journalCmd.Flags().StringVar(&journalFlags.instance, "instance", "", "conversation instance id")
	journalCmd.Flags().Int64Var(&journalFlags.chat, "chat", 0, "chat id")
	journalCmd.Flags().IntVar(&journalFlags.limit, "limit", 20, "rejections to show with --chat")
	rootCmd.AddCommand(journalCmd)
}

func readJournal(ctx context.Context, r journalReader) ([]journal.Entry, error) {
	if journalFlags.instance != "" {
		return r.ByInstance(ctx, journalFlags.instance)
	}
	return r.Rejections(ctx, journalFlags.chat, journalFlags.limit)
}

func renderEntries(entries []journal.Entry) string {
	if len(entries) == 0 {
		return "no journal entries"
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		via := e.ViaState
		if via == "" {
			via = "-"
		}
		rows = append(rows, []string{
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.InstanceID,
			strconv.FormatInt(e.ChatID, 10),
			e.Kind,
			e.Event,
			e.FromState,
			via,
			e.ToState,
			e.Outcome,
			e.Err,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("at", "instance", "chat", "kind", "event", "from", "via", "to", "outcome", "err").
		Rows(rows...).
		String()
}
