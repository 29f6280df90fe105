package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"credence/internal/intake"
	"credence/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var supersede bool

	cmd := &cobra.Command{
		Use:   "run <session-id>",
		Short: "Run extraction, validation, and reporting for a session",
		Long: "Run advances a session through every stage that needs no human\n" +
			"input, stopping once the report is generated. Review completion is a\n" +
			"separate step driven by recorded decisions.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			opts := workflow.RunOptions{Supersede: supersede}
			if err := manager.Advance(cmd.Context(), id, opts); err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			sess, err := store.Get(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s is at %s\n", id, sess.Stage)
			return nil
		},
	}
	cmd.Flags().BoolVar(&supersede, "supersede", false, "Mark downstream artifacts superseded when a stage re-runs")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the intake directory and register dropped documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			manager, err := ctx.ensureManager()
			if err != nil {
				return err
			}
			watcher := intake.NewWatcher(cfg, manager, logger)
			return watcher.Run(cmd.Context())
		},
	}
	return cmd
}
