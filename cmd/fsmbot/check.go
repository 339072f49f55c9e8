package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/fsmbot/core/bootstrap"
	corecmd "github.com/m3rciful/fsmbot/core/cmd"
	"github.com/m3rciful/fsmbot/core/config"
	"github.com/m3rciful/fsmbot/core/dialog"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the transition table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var conv config.ConversationConfig
		if path := corecmd.ResolveConfigPath(corecmd.Options{ConfigPath: configPath}); path != "" {
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config %s: %w", path, err)
			}
			conv = cfg.Conversation
			fmt.Fprintf(cmd.OutOrStdout(), "config %s: ok\n", path)
		}

		def, err := bootstrap.NewDefinition(conv, dialog.ReplierFunc(discard))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), def.Describe())
		return nil
	},
}

func discard(context.Context, dialog.Key, string) error { return nil }

func init() {
	rootCmd.AddCommand(checkCmd)
}
