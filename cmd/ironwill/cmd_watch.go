package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/realtime"
)

func newWatchCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream log and stats changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return st.client.Watch(ctx, func(msg realtime.Message) {
				if st.asJSON {
					_ = st.printJSON(out, msg)
					return
				}
				switch msg.Type {
				case mqcontracts.RoutingKeyDailyLogChanged:
					var p mqcontracts.DailyLogChangedPayload
					if json.Unmarshal(msg.Data, &p) == nil {
						fmt.Fprintf(out, "log %s %s (%s)\n", p.LogDate, p.Change, p.LogID)
						return
					}
				case mqcontracts.RoutingKeyStatsUpdated:
					var p mqcontracts.StatsUpdatedPayload
					if json.Unmarshal(msg.Data, &p) == nil {
						fmt.Fprintf(out, "stats streak=%d longest=%d total=%d\n", p.CurrentStreak, p.LongestStreak, p.TotalLogs)
						return
					}
				}
				fmt.Fprintf(out, "%s %s\n", msg.Type, string(msg.Data))
			})
		},
	}
}
