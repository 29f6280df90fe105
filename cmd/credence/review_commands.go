package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"credence/internal/review"
	"credence/internal/session"
	"credence/internal/workflow"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Record and inspect review decisions",
	}

	reviewCmd.AddCommand(newReviewListCommand(ctx))
	reviewCmd.AddCommand(newReviewDecideCommand(ctx))
	reviewCmd.AddCommand(newReviewBatchCommand(ctx))
	reviewCmd.AddCommand(newReviewCompleteCommand(ctx))

	return reviewCmd
}

// reviewTargets lists the flagged results and conflicts of the active
// validation run that still need, or already have, a decision.
func newReviewListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List flagged results and conflicts with their latest decisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			ledger, err := ctx.ensureLedger()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])

			run, err := activeRun(store, id)
			if err != nil {
				return err
			}

			type reviewRow struct {
				TargetID string `json:"target_id"`
				Kind     string `json:"kind"`
				Detail   string `json:"detail"`
				Decision string `json:"decision"`
			}
			var rowsOut []reviewRow
			for _, r := range run.Results {
				if !r.FlaggedForReview {
					continue
				}
				row := reviewRow{
					TargetID: r.ID,
					Kind:     review.TargetValidation,
					Detail:   fmt.Sprintf("%s %s/%s %s", r.ValidatorID, r.Status, r.Band, r.Field),
				}
				if d, err := ledger.LatestForTarget(cmd.Context(), id, r.ID); err == nil && d != nil {
					row.Decision = string(d.Kind)
				}
				rowsOut = append(rowsOut, row)
			}
			for _, c := range run.Conflicts {
				row := reviewRow{
					TargetID: c.ID,
					Kind:     review.TargetConflict,
					Detail:   fmt.Sprintf("%s (%s)", c.Rule, c.Severity),
				}
				if d, err := ledger.LatestForTarget(cmd.Context(), id, c.ID); err == nil && d != nil {
					row.Decision = string(d.Kind)
				}
				rowsOut = append(rowsOut, row)
			}

			if asJSON {
				return writeJSON(cmd, rowsOut)
			}
			if len(rowsOut) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing needs review")
				return nil
			}
			tableRows := make([][]string, 0, len(rowsOut))
			for _, r := range rowsOut {
				decision := r.Decision
				if decision == "" {
					decision = "-"
				}
				tableRows = append(tableRows, []string{r.TargetID, r.Kind, r.Detail, decision})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"TARGET", "KIND", "DETAIL", "DECISION"},
				tableRows,
				nil,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit review targets as JSON")
	return cmd
}

func newReviewDecideCommand(ctx *commandContext) *cobra.Command {
	var (
		kind       string
		rationale  string
		actor      string
		precedence string
		targetKind string
	)

	cmd := &cobra.Command{
		Use:   "decide <session-id> <target-id>",
		Short: "Record one review decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			ledger, err := ctx.ensureLedger()
			if err != nil {
				return err
			}
			sessionID := strings.TrimSpace(args[0])
			targetID := strings.TrimSpace(args[1])

			target, err := resolveTarget(store, sessionID, targetID, targetKind)
			if err != nil {
				return err
			}
			decision, err := ledger.RecordDecision(cmd.Context(), review.Request{
				SessionID:          sessionID,
				Target:             target,
				Kind:               review.Kind(kind),
				Rationale:          rationale,
				Actor:              actor,
				PrecedenceResultID: precedence,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, decision)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(review.KindAccept), "Decision kind: accept, defer, or escalate")
	cmd.Flags().StringVar(&rationale, "rationale", "", "Why this decision was made (required for defer and escalate)")
	cmd.Flags().StringVar(&actor, "actor", "", "Who is deciding")
	cmd.Flags().StringVar(&precedence, "precedence", "", "Prevailing validation result id when deciding a conflict")
	cmd.Flags().StringVar(&targetKind, "target-kind", "", "Force the target kind when the id is not in the active run")
	return cmd
}

func newReviewBatchCommand(ctx *commandContext) *cobra.Command {
	var (
		rationale string
		actor     string
		except    []string
	)

	cmd := &cobra.Command{
		Use:   "batch <session-id>",
		Short: "Accept every flagged result in one batch, minus exceptions",
		Long: "Batch prepares the full list of flagged validation results and\n" +
			"records an accept decision for each, skipping ids named with\n" +
			"--except. Conflicts are never batchable; decide them one by one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			ledger, err := ctx.ensureLedger()
			if err != nil {
				return err
			}
			sessionID := strings.TrimSpace(args[0])

			run, err := activeRun(store, sessionID)
			if err != nil {
				return err
			}
			var targets []review.Target
			for _, r := range run.Results {
				if !r.FlaggedForReview {
					continue
				}
				targets = append(targets, review.Target{
					ID:          r.ID,
					Kind:        review.TargetValidation,
					ValidatorID: r.ValidatorID,
					Band:        r.Band,
					Summary:     fmt.Sprintf("%s %s", r.Status, r.Field),
				})
			}
			if len(targets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to batch")
				return nil
			}
			batch, err := review.PrepareBatch(sessionID, targets)
			if err != nil {
				return err
			}
			decisions, err := ledger.ApplyBatch(cmd.Context(), batch, review.KindAccept, rationale, actor, except)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d decisions (%d excepted)\n", len(decisions), len(targets)-len(decisions))
			return nil
		},
	}
	cmd.Flags().StringVar(&rationale, "rationale", "", "Rationale recorded on every decision in the batch")
	cmd.Flags().StringVar(&actor, "actor", "", "Who is deciding")
	cmd.Flags().StringSliceVar(&except, "except", nil, "Target ids to leave undecided")
	return cmd
}

func newReviewCompleteCommand(ctx *commandContext) *cobra.Command {
	var (
		reviewer     string
		allowPartial bool
		finish       bool
	)

	cmd := &cobra.Command{
		Use:   "complete <session-id>",
		Short: "Close the review stage once every conflict has a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			opts := workflow.RunOptions{AllowPartial: allowPartial}
			if err := manager.CompleteReview(cmd.Context(), id, reviewer, opts); err != nil {
				return err
			}
			if finish {
				if err := manager.Complete(cmd.Context(), id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "review complete for %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer recorded on the review artifact")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Complete with unresolved conflicts carried into the outcome")
	cmd.Flags().BoolVar(&finish, "finish", false, "Also move the session to its terminal stage")
	return cmd
}

// activeRun loads the validation artifact and returns its active run.
func activeRun(store *session.Store, sessionID string) (workflow.ValidationRun, error) {
	var va workflow.ValidationArtifact
	if err := store.Read(sessionID, session.KeyValidation, &va); err != nil {
		return workflow.ValidationRun{}, err
	}
	run, ok := va.Active()
	if !ok {
		return workflow.ValidationRun{}, fmt.Errorf("session %s has no active validation run", sessionID)
	}
	return run, nil
}

// resolveTarget finds the target in the active validation run so the
// decision carries the validator and band for precedent statistics.
func resolveTarget(store *session.Store, sessionID, targetID, forcedKind string) (review.Target, error) {
	run, err := activeRun(store, sessionID)
	if err != nil {
		return review.Target{}, err
	}
	for _, r := range run.Results {
		if r.ID == targetID {
			return review.Target{
				ID:          r.ID,
				Kind:        review.TargetValidation,
				ValidatorID: r.ValidatorID,
				Band:        r.Band,
				Summary:     fmt.Sprintf("%s %s", r.Status, r.Field),
			}, nil
		}
	}
	for _, c := range run.Conflicts {
		if c.ID == targetID {
			return review.Target{
				ID:      c.ID,
				Kind:    review.TargetConflict,
				Summary: c.Rule,
			}, nil
		}
	}
	if forcedKind != "" {
		return review.Target{ID: targetID, Kind: forcedKind}, nil
	}
	return review.Target{}, fmt.Errorf("target %s not found in the active validation run", targetID)
}
