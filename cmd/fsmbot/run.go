package main

import (
	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/fsmbot/core/cmd"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve Telegram updates",
	Long:  "Loads the configuration, applies journal migrations when a database is configured and serves updates until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return corecmd.Run(cmd.Context(), corecmd.Options{ConfigPath: configPath})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
