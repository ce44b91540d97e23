package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ironwill/internal/client"
	"ironwill/pkg/logger"
)

// cliState is shared by every subcommand of one invocation.
type cliState struct {
	apiURL  string
	token   string
	verbose bool
	asJSON  bool
	timeout time.Duration

	logger *zap.Logger
	client *client.Client
	now    func() time.Time
}

func newRootCmd() *cobra.Command {
	st := &cliState{now: time.Now}

	root := &cobra.Command{
		Use:   "ironwill",
		Short: "Track daily compliance logs and challenges",
		Long: `ironwill talks to the ironwill api.

One log per day: "ironwill log" creates today's entry, "ironwill edit"
changes an existing one. Authentication uses a bearer token from --token
or IRONWILL_TOKEN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			st.logger = logger.NewCLILogger(st.verbose)
			if st.token == "" {
				return fmt.Errorf("missing token: pass --token or set IRONWILL_TOKEN")
			}
			st.client = client.New(st.apiURL, st.token, st.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&st.apiURL, "api", envOr("IRONWILL_API", "http://localhost:8080"), "api base url")
	root.PersistentFlags().StringVar(&st.token, "token", os.Getenv("IRONWILL_TOKEN"), "bearer token")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&st.asJSON, "json", false, "print json instead of tables")
	root.PersistentFlags().DurationVar(&st.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		newTodayCmd(st),
		newHistoryCmd(st),
		newLogCmd(st),
		newEditCmd(st),
		newDeleteCmd(st),
		newChallengesCmd(st),
		newStatsCmd(st),
		newWatchCmd(st),
	)
	return root
}

func (st *cliState) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if st.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, st.timeout)
}

func (st *cliState) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
