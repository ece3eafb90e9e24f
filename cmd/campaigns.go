package main

import (
	"github.com/spf13/cobra"

	"github.com/vocallabs/llm-batch/internal/config"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Campaign scheduling jobs",
}

var campaignsToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Activate or deactivate autostart campaigns by their schedule window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeToggle)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Orchestrator.ToggleStatusPass(ctx)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), outputFormat, summary)
	},
}

func init() {
	campaignsCmd.AddCommand(campaignsToggleCmd)
	rootCmd.AddCommand(campaignsCmd)
}
