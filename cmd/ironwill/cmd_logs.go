package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ironwill/internal/model"
	"ironwill/internal/service/dailylog"
)

func newTodayCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := st.requestContext(cmd.Context())
			defer cancel()

			today, err := st.client.TodaysLog(ctx)
			if err != nil {
				return err
			}
			if st.asJSON {
				return st.printJSON(cmd.OutOrStdout(), today)
			}
			if today.Log == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No log for today (%s) yet. Run \"ironwill log\" to create one.\n", today.Date)
				return nil
			}
			printLog(cmd.OutOrStdout(), *today.Log)
			return nil
		},
	}
}

func newHistoryCmd(st *cliState) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent logs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := st.requestContext(cmd.Context())
			defer cancel()

			logs, err := st.client.DailyLogs(ctx, limit)
			if err != nil {
				return err
			}
			if st.asJSON {
				return st.printJSON(cmd.OutOrStdout(), logs)
			}
			if len(logs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No logs yet.")
				return nil
			}
			printLogTable(cmd.OutOrStdout(), logs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", dailylog.DefaultLimit, "number of logs")
	return cmd
}

func newDeleteCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <log-id>",
		Short: "Delete a log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := st.requestContext(cmd.Context())
			defer cancel()

			log, err := st.client.DeleteDailyLog(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted log %s (%s)\n", log.ID, log.LogDate)
			return nil
		},
	}
}

func printLog(w io.Writer, log model.DailyLog) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", log.ID)
	fmt.Fprintf(tw, "date\t%s\n", log.LogDate)
	fmt.Fprintf(tw, "rating\t%s\n", stars(log.ComplianceRating))
	fmt.Fprintf(tw, "mood\t%s\n", orDash(log.Mood))
	fmt.Fprintf(tw, "challenges\t%s\n", orDash(strings.Join(log.CompletedChallenges, ", ")))
	fmt.Fprintf(tw, "journal\t%s\n", orDash(log.JournalEntry))
	tw.Flush()
}

func printLogTable(w io.Writer, logs []model.DailyLog) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tRATING\tMOOD\tCHALLENGES\tID")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", l.LogDate, stars(l.ComplianceRating), orDash(l.Mood), len(l.CompletedChallenges), l.ID)
	}
	tw.Flush()
}

func stars(n int) string {
	if n < 1 || n > 5 {
		return fmt.Sprint(n)
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
