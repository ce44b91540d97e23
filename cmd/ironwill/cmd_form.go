package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"ironwill/internal/errs"
	"ironwill/internal/logform"
	"ironwill/internal/model"
	"ironwill/internal/service/dailylog"
)

// formFlags are the draft fields settable from the command line.
type formFlags struct {
	rating     int
	mood       string
	journal    string
	challenges []string
}

func (f *formFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.rating, "rating", "r", 0, "compliance rating 1-5")
	cmd.Flags().StringVarP(&f.mood, "mood", "m", "", "mood: "+strings.Join(model.Moods, ", "))
	cmd.Flags().StringVarP(&f.journal, "journal", "j", "", "journal entry")
	cmd.Flags().StringSliceVarP(&f.challenges, "challenge", "c", nil, "completed challenge enrollment ids (replaces the list)")
}

// apply copies the changed flags into the controller draft.
func (f *formFlags) apply(cmd *cobra.Command, form *logform.Controller) error {
	if cmd.Flags().Changed("rating") {
		if err := form.SetRating(f.rating); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("mood") {
		if err := form.SetMood(f.mood); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("journal") {
		if err := form.SetJournal(f.journal); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("challenge") {
		return nil
	}

	want := map[string]bool{}
	for _, id := range f.challenges {
		if id = strings.TrimSpace(id); id != "" {
			want[id] = true
		}
	}
	draft := form.Draft()
	for _, id := range draft.CompletedChallenges {
		if !want[id] {
			if err := form.ToggleChallenge(id); err != nil {
				return err
			}
		}
	}
	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if !draft.Has(id) {
			if err := form.ToggleChallenge(id); err != nil {
				return fmt.Errorf("challenge %s: %w", id, err)
			}
		}
	}
	return nil
}

func newLogCmd(st *cliState) *cobra.Command {
	var flags formFlags
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Create today's log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := st.requestContext(cmd.Context())
			defer cancel()

			form := st.loadForm(ctx)
			if err := form.StartCreate(); err != nil {
				if errors.Is(err, logform.ErrAlreadyLogged) {
					return fmt.Errorf("%w; use \"ironwill edit %s\"", err, form.Today().Data.LogDate)
				}
				return err
			}
			if err := flags.apply(cmd, form); err != nil {
				return err
			}
			return st.submit(ctx, cmd, form)
		},
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func newEditCmd(st *cliState) *cobra.Command {
	var flags formFlags
	cmd := &cobra.Command{
		Use:   "edit <log-id|YYYY-MM-DD>",
		Short: "Edit an existing log",
		Long: `Edit an existing log. Only the flags you pass change; the log keeps
its date.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := st.requestContext(cmd.Context())
			defer cancel()

			form := st.loadForm(ctx)
			log, err := st.findLog(ctx, form, args[0])
			if err != nil {
				return err
			}
			form.StartEdit(log)
			if err := flags.apply(cmd, form); err != nil {
				return err
			}
			return st.submit(ctx, cmd, form)
		},
	}
	flags.register(cmd)
	return cmd
}

func (st *cliState) loadForm(ctx context.Context) *logform.Controller {
	form := logform.NewController(st.client).WithClock(st.now)
	if err := form.Refresh(ctx); err != nil {
		// 读取失败不阻止编辑，只提示
		st.logger.Warn("refresh incomplete: " + err.Error())
	}
	return form
}

func (st *cliState) findLog(ctx context.Context, form *logform.Controller, ref string) (model.DailyLog, error) {
	if dailylog.ValidateDate(ref) != nil {
		return st.client.GetDailyLog(ctx, ref)
	}
	for _, l := range form.Recent().Data {
		if l.LogDate == ref {
			return l, nil
		}
	}
	logs, err := st.client.DailyLogs(ctx, dailylog.MaxLimit)
	if err != nil {
		return model.DailyLog{}, err
	}
	for _, l := range logs {
		if l.LogDate == ref {
			return l, nil
		}
	}
	return model.DailyLog{}, fmt.Errorf("log for %s: %w", ref, errs.ErrNotFound)
}

func (st *cliState) submit(ctx context.Context, cmd *cobra.Command, form *logform.Controller) error {
	saved, err := form.Submit(ctx)
	if err != nil {
		printBanner(cmd.ErrOrStderr(), form)
		return err
	}
	if n := form.Notice(); n != "" {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	if st.asJSON {
		return st.printJSON(cmd.OutOrStdout(), saved)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved log for %s\n", saved.LogDate)
	printLog(cmd.OutOrStdout(), saved)
	return nil
}

// printBanner shows the submit error and the draft that was kept.
func printBanner(w io.Writer, form *logform.Controller) {
	banner := form.Banner()
	if banner == nil {
		return
	}
	var v *errs.ValidationError
	switch {
	case errors.As(banner, &v):
		fmt.Fprintf(w, "Not saved: %s %s\n", v.Field, v.Reason)
	case errs.IsTransient(banner):
		fmt.Fprintln(w, "Not saved: the server is temporarily unavailable, try again.")
	default:
		fmt.Fprintf(w, "Not saved: %v\n", banner)
	}

	d := form.Draft()
	fmt.Fprintf(w, "Draft kept: date=%s rating=%d mood=%s challenges=%s\n",
		d.LogDate, d.ComplianceRating, orDash(d.Mood), orDash(strings.Join(d.CompletedChallenges, ",")))
}
