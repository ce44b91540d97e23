package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newChallengesCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "challenges",
		Short: "List active challenges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := st.requestContext(cmd.Context())
			defer cancel()

			list, err := st.client.ActiveChallenges(ctx)
			if err != nil {
				return err
			}
			if st.asJSON {
				return st.printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active challenges.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCHALLENGE\tSTARTED")
			for _, uc := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", uc.ID, uc.Title(), uc.StartedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}

func newStatsCmd(st *cliState) *cobra.Command {
	var withAchievements bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show streaks and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := st.requestContext(cmd.Context())
			defer cancel()

			snap, err := st.client.Stats(ctx)
			if err != nil {
				return err
			}
			if st.asJSON && !withAchievements {
				return st.printJSON(cmd.OutOrStdout(), snap)
			}

			out := cmd.OutOrStdout()
			if !st.asJSON {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "current streak\t%d\n", snap.CurrentStreak)
				fmt.Fprintf(tw, "longest streak\t%d\n", snap.LongestStreak)
				fmt.Fprintf(tw, "total logs\t%d\n", snap.TotalLogs)
				fmt.Fprintf(tw, "perfect days\t%d\n", snap.PerfectDays)
				fmt.Fprintf(tw, "average\t%.2f\n", snap.AverageCompliance)
				fmt.Fprintf(tw, "challenges completed\t%d\n", snap.TotalChallengesCompleted)
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if !withAchievements {
				return nil
			}

			unlocked, err := st.client.Achievements(ctx)
			if err != nil {
				return err
			}
			if st.asJSON {
				return st.printJSON(out, map[string]any{"stats": snap, "achievements": unlocked})
			}
			fmt.Fprintln(out)
			if len(unlocked) == 0 {
				fmt.Fprintln(out, "No achievements yet.")
				return nil
			}
			for _, ua := range unlocked {
				title := ua.AchievementID
				if ua.Achievement != nil {
					title = ua.Achievement.Title
				}
				fmt.Fprintf(out, "  %s  %s\n", ua.UnlockedAt.Format("2006-01-02"), title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&withAchievements, "achievements", "a", false, "also list unlocked achievements")
	return cmd
}
