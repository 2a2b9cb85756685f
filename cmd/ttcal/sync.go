package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ttcal/internal/model"
	"ttcal/internal/refresh"
	"ttcal/internal/timetree"
)

func newSyncCmd() *cobra.Command {
	var calendarID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Poll one configured calendar once and print its events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if calendarID == "" && len(cfg.Entries) == 1 {
				calendarID = cfg.Entries[0].CalendarID
			}
			ec, ok := cfg.Entry(calendarID)
			if !ok {
				return fmt.Errorf("calendar %q is not configured", calendarID)
			}

			client := newClient(cfg, timetree.Credentials{Email: ec.Email, Password: ec.Password})
			r, err := refresh.New(ec.CalendarID, client, time.Minute)
			if err != nil {
				return err
			}
			if err := r.Refresh(cmd.Context()); err != nil {
				return err
			}

			events, _ := r.Snapshot()
			return printEvents(cmd.OutOrStdout(), events, cfg.Location())
		},
	}

	cmd.Flags().StringVar(&calendarID, "calendar", "", "Calendar id (default: the only configured calendar)")
	return cmd
}

func printEvents(w io.Writer, events []model.Event, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tSUMMARY\tRRULE")
	for _, e := range events {
		if e.AllDay {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.StartDate, e.EndDate, e.Summary, e.RRule)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Start.In(loc).Format(time.DateTime), e.End.In(loc).Format(time.DateTime), e.Summary, e.RRule)
	}
	return tw.Flush()
}
