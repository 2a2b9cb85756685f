package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ttcal/internal/config"
	"ttcal/internal/timetree"
)

// accountFlags are the credentials accepted by the calendars and add commands.
type accountFlags struct {
	email    string
	password string
}

func (a *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.email, "email", "", "TimeTree account email")
	cmd.Flags().StringVar(&a.password, "password", "", "TimeTree account password (default $TTCAL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
}

func (a *accountFlags) credentials() (timetree.Credentials, error) {
	password := a.password
	if password == "" {
		password = os.Getenv("TTCAL_PASSWORD")
	}
	if a.email == "" || password == "" {
		return timetree.Credentials{}, errors.New("email and password are required")
	}
	return timetree.Credentials{Email: a.email, Password: password}, nil
}

// newClient builds a client honoring the config's base URL override.
func newClient(cfg *config.Config, creds timetree.Credentials) *timetree.Client {
	opts := []timetree.Option{timetree.WithHTTPClient(&http.Client{Timeout: 30 * time.Second})}
	if cfg.BaseURL != "" {
		opts = append(opts, timetree.WithBaseURL(cfg.BaseURL))
	}
	return timetree.New(creds, opts...)
}

// fetchCalendars signs in and lists the account's calendars. Bad credentials
// and connection problems are reported distinctly.
func fetchCalendars(ctx context.Context, client *timetree.Client) ([]timetree.Calendar, error) {
	if err := client.Login(ctx); err != nil {
		if timetree.IsAuthError(err) {
			return nil, fmt.Errorf("invalid credentials or cannot connect: %w", err)
		}
		return nil, err
	}
	calendars, err := client.ListCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list calendars: %w", err)
	}
	return calendars, nil
}

func printCalendars(w io.Writer, calendars []timetree.Calendar) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tALIAS")
	for _, c := range calendars {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Name, c.AliasCode)
	}
	return tw.Flush()
}

func newCalendarsCmd() *cobra.Command {
	var account accountFlags

	cmd := &cobra.Command{
		Use:   "calendars",
		Short: "Validate credentials and list the account's calendars",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			return printCalendars(cmd.OutOrStdout(), calendars)
		},
	}
	account.register(cmd)
	return cmd
}
