package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/audit"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the prediction audit log",
	}
	cmd.AddCommand(newAuditRecentCmd())
	return cmd
}

// #region recent
func newAuditRecentCmd() *cobra.Command {
	var (
		dsn      string
		last     int
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent served predictions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return fmt.Errorf("no audit DSN: pass --dsn or set DELAYRISK_AUDIT_DSN")
			}
			auditLog, err := audit.Open(dsn)
			if err != nil {
				return err
			}
			defer auditLog.Close()

			entries, err := auditLog.Recent(cmd.Context(), last)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no predictions recorded")
				return nil
			}

			t := newTable(cmd.OutOrStdout(), markdown, "Time", "Request", "Model", "Risk", "Probability", "Latency", "Unknown")
			t.alignRight(5, 6)
			for _, e := range entries {
				t.row(
					e.CreatedAt.Format(time.RFC3339),
					shortID(e.RequestID),
					shortID(e.ModelVersion),
					e.Label,
					fmt.Sprintf("%.3f", e.Probability),
					e.Latency.Round(time.Microsecond).String(),
					strings.Join(e.Unknown, ", "),
				)
			}
			t.render()
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("DELAYRISK_AUDIT_DSN"), "audit log DSN (sqlite://path or postgres://...)")
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent predictions")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as a Markdown table")
	return cmd
}

// #endregion recent
