package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var (
		validatorID string
		band        string
		minSamples  int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show decision precedent statistics and threshold suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := ctx.ensureLedger()
			if err != nil {
				return err
			}

			if validatorID != "" && band != "" {
				stats, err := ledger.StatsFor(cmd.Context(), validatorID, band)
				if err != nil {
					return err
				}
				return writeJSON(cmd, stats)
			}

			suggestions, err := ledger.ThresholdSuggestions(cmd.Context(), minSamples)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, suggestions)
			}
			if len(suggestions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no suggestions; decision history is inconclusive or too small")
				return nil
			}
			rows := make([][]string, 0, len(suggestions))
			for _, s := range suggestions {
				rows = append(rows, []string{
					s.ValidatorID,
					s.Band,
					fmt.Sprintf("%.0f%%", s.AcceptanceRate*100),
					strconv.Itoa(s.Samples),
					s.Proposal,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"VALIDATOR", "BAND", "ACCEPTANCE", "SAMPLES", "PROPOSAL"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&validatorID, "validator", "", "Show stats for one validator (requires --band)")
	cmd.Flags().StringVar(&band, "band", "", "Show stats for one band (requires --validator)")
	cmd.Flags().IntVar(&minSamples, "min-samples", 10, "Minimum decisions before a suggestion is made")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit suggestions as JSON")
	return cmd
}
