package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ttcal/internal/config"
	appLog "ttcal/internal/log"
	"ttcal/internal/refresh"
	"ttcal/internal/timetree"
)

func newAddCmd() *cobra.Command {
	var (
		account    accountFlags
		calendarID string
		interval   int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link a TimeTree calendar and save it to the config file",
		Long: `Sign in, pick one of the account's calendars and store the entry in the
config file. If --calendar is omitted the account must have exactly one
calendar. A running server picks the entry up on restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := refresh.ResolveInterval(interval); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := account.credentials()
			if err != nil {
				return err
			}

			calendars, err := fetchCalendars(cmd.Context(), newClient(cfg, creds))
			if err != nil {
				return err
			}
			cal, err := pickCalendar(calendars, calendarID)
			if err != nil {
				if len(calendars) > 0 {
					_ = printCalendars(cmd.ErrOrStderr(), calendars)
				}
				return err
			}

			cfg.UpsertEntry(config.EntryConfig{
				Email:        creds.Email,
				Password:     creds.Password,
				CalendarID:   cal.ID.String(),
				CalendarName: cal.Name,
				ScanInterval: interval,
			})
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(flags.configPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			appLog.Info("calendar linked",
				"calendar", cal.ID.String(),
				"account", appLog.HashEmail(creds.Email),
				"config_path", flags.configPath,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Linked %s (%s)\n", cal.Name, cal.ID)
			return nil
		},
	}

	account.register(cmd)
	cmd.Flags().StringVar(&calendarID, "calendar", "", "Calendar id to link")
	cmd.Flags().IntVar(&interval, "interval", refresh.DefaultIntervalMinutes, "Scan interval in minutes (5-120)")
	return cmd
}

// pickCalendar selects the calendar with the given id, or the only calendar
// when id is empty.
func pickCalendar(calendars []timetree.Calendar, id string) (timetree.Calendar, error) {
	if len(calendars) == 0 {
		return timetree.Calendar{}, errors.New("no calendars found for this account")
	}
	if id == "" {
		if len(calendars) == 1 {
			return calendars[0], nil
		}
		return timetree.Calendar{}, errors.New("account has several calendars; choose one with --calendar")
	}
	for _, c := range calendars {
		if c.ID.String() == id {
			return c, nil
		}
	}
	return timetree.Calendar{}, fmt.Errorf("calendar %s not found for this account", id)
}
