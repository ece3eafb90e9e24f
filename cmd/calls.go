package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vocallabs/llm-batch/internal/config"
	"github.com/vocallabs/llm-batch/internal/model"
	"github.com/vocallabs/llm-batch/internal/pipeline"
)

var (
	callsAgent   string
	callsFrom    string
	callsTo      string
	callsID      string
	callsPremium bool
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Call evaluation jobs",
}

var callsEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate completed calls for an agent against its prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dr, err := parseDateRange(callsFrom, callsTo)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeEvaluate)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Orchestrator.EvaluateAndWriteBack(ctx, callsAgent, dr, callsPremium)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), outputFormat, summary)
	},
}

var callsEvaluateOneCmd = &cobra.Command{
	Use:   "evaluate-one",
	Short: "Evaluate a single completed call against the agent's prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeEvaluate)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Orchestrator.EvaluateCall(ctx, callsAgent, callsID, callsPremium)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), outputFormat, summary)
	},
}

func parseDateRange(from, to string) (pipeline.DateRange, error) {
	f, err := model.ParseTimestamp(from)
	if err != nil {
		return pipeline.DateRange{}, eris.Wrap(err, "parse --from")
	}
	t, err := model.ParseTimestamp(to)
	if err != nil {
		return pipeline.DateRange{}, eris.Wrap(err, "parse --to")
	}
	dr := pipeline.DateRange{From: f, To: t}
	if !dr.Valid() {
		return pipeline.DateRange{}, pipeline.ErrInvalidRange
	}
	return dr, nil
}

func init() {
	callsEvaluateCmd.Flags().StringVar(&callsAgent, "agent", "", "agent id")
	callsEvaluateCmd.Flags().StringVar(&callsFrom, "from", "", "only calls created at or after this time (RFC 3339)")
	callsEvaluateCmd.Flags().StringVar(&callsTo, "to", "", "only calls created before this time (RFC 3339)")
	callsEvaluateCmd.Flags().BoolVar(&callsPremium, "premium", false, "use the recorded transcript when present")
	_ = callsEvaluateCmd.MarkFlagRequired("agent")

	callsEvaluateOneCmd.Flags().StringVar(&callsAgent, "agent", "", "agent id")
	callsEvaluateOneCmd.Flags().StringVar(&callsID, "call", "", "call id")
	callsEvaluateOneCmd.Flags().BoolVar(&callsPremium, "premium", false, "use the recorded transcript when present")
	_ = callsEvaluateOneCmd.MarkFlagRequired("agent")
	_ = callsEvaluateOneCmd.MarkFlagRequired("call")

	callsCmd.AddCommand(callsEvaluateCmd, callsEvaluateOneCmd)
	rootCmd.AddCommand(callsCmd)
}
