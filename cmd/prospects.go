package main

import (
	"github.com/spf13/cobra"

	"github.com/vocallabs/llm-batch/internal/config"
)

var (
	prospectsGroup    string
	prospectsLanguage string
)

var prospectsCmd = &cobra.Command{
	Use:   "prospects",
	Short: "Prospect name jobs",
}

var prospectsTranslateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Transliterate every prospect name in a group and write it back",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeTranslate)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Orchestrator.TransformAndWriteBack(ctx, prospectsGroup, prospectsLanguage)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), outputFormat, summary)
	},
}

func init() {
	prospectsTranslateCmd.Flags().StringVar(&prospectsGroup, "group", "", "prospect group id")
	prospectsTranslateCmd.Flags().StringVar(&prospectsLanguage, "language", "", "target script language, e.g. Hindi")
	_ = prospectsTranslateCmd.MarkFlagRequired("group")
	_ = prospectsTranslateCmd.MarkFlagRequired("language")

	prospectsCmd.AddCommand(prospectsTranslateCmd)
	rootCmd.AddCommand(prospectsCmd)
}
