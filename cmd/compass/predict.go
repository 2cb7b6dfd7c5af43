package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/compass/internal/inference"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPredictCommand() *cobra.Command {
	var userID string

	command := &cobra.Command{
		Use:   "predict",
		Short: "Run the prediction pipeline for one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wellness.NewUserID(userID)
			if err != nil {
				return err
			}
			appConfig, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			outcome, err := app.predictions.Run(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("predictions.Run() > %w", err)
			}
			printPrediction(cmd.OutOrStdout(), outcome)
			return nil
		},
	}

	command.Flags().StringVar(&userID, "user", "", "User identifier")
	_ = command.MarkFlagRequired("user")
	return command
}

func printPrediction(out io.Writer, outcome predictions.Outcome) {
	result := outcome.Result
	strategy := color.New(color.FgGreen).Sprint(result.Strategy)
	if result.Strategy == inference.StrategyFallback {
		strategy = color.New(color.FgYellow).Sprintf("%s (%s)", result.Strategy, result.FallbackReason)
	}
	fmt.Fprintf(out, "snapshot %s  model %s  strategy %s\n", outcome.Snapshot.ID, result.ModelVersion, strategy)
	if result.Confidence != nil {
		fmt.Fprintf(out, "confidence %.2f\n", *result.Confidence)
	}

	names := make([]string, 0, len(result.PredictedSymptoms))
	for name := range result.PredictedSymptoms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		left, right := result.PredictedSymptoms[names[i]], result.PredictedSymptoms[names[j]]
		if left != right {
			return left > right
		}
		return names[i] < names[j]
	})
	bold := color.New(color.Bold)
	for _, name := range names {
		fmt.Fprintf(out, "  %s %.2f\n", bold.Sprint(name), result.PredictedSymptoms[name])
	}
	if len(result.AutoTags) > 0 {
		fmt.Fprintf(out, "tags: %s\n", strings.Join(result.AutoTags, ", "))
	}
	for _, recommendation := range result.Recommendations {
		fmt.Fprintf(out, "  - %s\n", recommendation)
	}

	report := outcome.Report
	fmt.Fprintf(out, "scenarios written %d", report.Written())
	if failed := report.Failed(); failed > 0 {
		fmt.Fprint(out, color.New(color.FgRed).Sprintf(", failed %d", failed))
	}
	fmt.Fprintln(out)
}
