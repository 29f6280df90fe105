package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"credence/internal/session"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage review sessions",
	}

	sessionCmd.AddCommand(newSessionNewCommand(ctx))
	sessionCmd.AddCommand(newSessionListCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionDeleteCommand(ctx))

	return sessionCmd
}

func newSessionNewCommand(ctx *commandContext) *cobra.Command {
	var mode string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new review session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			sess, err := store.Create(session.Config{
				Mode:       mode,
				Bands:      cfg.Bands,
				Validation: cfg.Validation,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, sess)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "standard", "Review mode recorded on the session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the created session as JSON")
	return cmd
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions and their stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			sessions, err := store.List()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					s.ID,
					string(s.Stage),
					s.Config.Mode,
					s.UpdatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "STAGE", "MODE", "UPDATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit sessions as JSON")
	return cmd
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var artifactKey string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session, its artifacts, or one artifact payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])

			if artifactKey != "" {
				var payload any
				if err := store.Read(id, artifactKey, &payload); err != nil {
					return err
				}
				return writeJSON(cmd, payload)
			}

			sess, err := store.Get(id)
			if err != nil {
				return err
			}
			artifacts, err := store.Artifacts(id)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, struct {
					Session   *session.Session       `json:"session"`
					Artifacts []session.ArtifactInfo `json:"artifacts"`
				}{sess, artifacts})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s\n", sess.ID)
			fmt.Fprintf(out, "  Stage:   %s\n", sess.Stage)
			fmt.Fprintf(out, "  Mode:    %s\n", sess.Config.Mode)
			fmt.Fprintf(out, "  Created: %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "  Updated: %s\n", sess.UpdatedAt.Format("2006-01-02 15:04:05"))
			if len(artifacts) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(artifacts))
			for _, a := range artifacts {
				rows = append(rows, []string{
					a.Key,
					a.WrittenAt.Format("2006-01-02 15:04:05"),
					strconv.FormatBool(a.Superseded),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ARTIFACT", "WRITTEN", "SUPERSEDED"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the session as JSON")
	cmd.Flags().StringVar(&artifactKey, "artifact", "", "Print one artifact payload as JSON")
	return cmd
}

func newSessionDeleteCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and all of its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			if err := store.Delete(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
	return cmd
}
