package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gridseal/compliance-cli/internal/model"
	"github.com/gridseal/compliance-cli/internal/orchestrator"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <analysis-id>",
	Short: "Cancel a pending or processing analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if err := st.TransitionStatus(ctx, args[0],
			[]model.AnalysisStatus{model.StatusPending, model.StatusProcessing},
			model.StatusCancelled); err != nil {
			return eris.Wrap(err, "cancel analysis")
		}

		fmt.Printf("Analysis %s cancelled.\n", args[0])
		return nil
	},
}

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <analysis-id>",
	Short: "Rerun a finished analysis with its stored documents",
	Long:  "Reprocesses a completed, failed, or cancelled analysis using the documents recorded at submission time. The newest knowledge store contents inform the rerun.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		o, err := initOrchestrator(st)
		if err != nil {
			return err
		}

		if err := o.Reanalyze(ctx, args[0]); err != nil {
			return eris.Wrap(err, "reanalyze")
		}
		o.Wait()

		a, err := st.GetAnalysis(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "fetch analysis result")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	},
}

var (
	feedbackField       string
	feedbackOriginal    string
	feedbackCorrected   string
	feedbackExplanation string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <analysis-id>",
	Short: "Record a reviewer correction against a completed analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		// Feedback does not run extraction; a minimal orchestrator enforces
		// the lifecycle and feeds the knowledge store when configured.
		o := orchestrator.New(st, nil, nil, initIndexer(st))

		id, err := o.SubmitFeedback(ctx, args[0], orchestrator.FeedbackInput{
			Field:          feedbackField,
			OriginalValue:  feedbackOriginal,
			CorrectedValue: feedbackCorrected,
			Explanation:    feedbackExplanation,
		})
		if err != nil {
			return eris.Wrap(err, "submit feedback")
		}

		fmt.Printf("Feedback %s recorded.\n", id)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackField, "field", "", "extraction field being corrected (required)")
	feedbackCmd.Flags().StringVar(&feedbackOriginal, "original", "", "value the analysis extracted")
	feedbackCmd.Flags().StringVar(&feedbackCorrected, "corrected", "", "correct value (required)")
	feedbackCmd.Flags().StringVar(&feedbackExplanation, "explanation", "", "why the extracted value was wrong")
	_ = feedbackCmd.MarkFlagRequired("field")
	_ = feedbackCmd.MarkFlagRequired("corrected")

	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(reanalyzeCmd)
	rootCmd.AddCommand(feedbackCmd)
}
