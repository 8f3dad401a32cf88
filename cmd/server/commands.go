package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/p-dazzeo/realm/internal/config"
	"github.com/p-dazzeo/realm/internal/domain"
	"github.com/p-dazzeo/realm/internal/upload"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			st, err := ctx.openStore(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect upload sessions",
	}

	var reap bool
	staleCmd := &cobra.Command{
		Use:   "stale",
		Short: "List sessions that expired before finishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(_ *config.Config, svc *upload.Service, _ *slog.Logger) error {
				out := cmd.OutOrStdout()
				if reap {
					n, err := svc.ReapStaleSessions(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Marked %d session(s) as failed\n", n)
					return nil
				}
				sessions, err := svc.StaleSessions(cmd.Context())
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No stale sessions")
					return nil
				}
				fmt.Fprintln(out, renderSessions(sessions))
				return nil
			})
		},
	}
	staleCmd.Flags().BoolVar(&reap, "reap", false, "Mark the listed sessions as failed")

	sessionsCmd.AddCommand(staleCmd)
	return sessionsCmd
}

func newParserCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "parser-check",
		Short: "Probe the parser service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(_ *config.Config, svc *upload.Service, _ *slog.Logger) error {
				res := svc.TestParserConnectivity(cmd.Context())
				rows := [][]string{
					{"Enabled", strconv.FormatBool(res.Enabled)},
					{"Available", strconv.FormatBool(res.Available)},
					{"Status", res.Status},
					{"URL", res.URL},
				}
				if res.Detail != "" {
					rows = append(rows, []string{"Detail", res.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func renderSessions(sessions []domain.UploadSession) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.SessionID,
			string(s.Status),
			string(s.UploadMethod),
			fmt.Sprintf("%d/%d", s.ProcessedFiles+s.FailedFiles, s.TotalFiles),
			s.ExpiresAt.Format("2006-01-02 15:04:05"),
		})
	}
	return renderTable(
		[]string{"Session", "Status", "Method", "Progress", "Expired"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
