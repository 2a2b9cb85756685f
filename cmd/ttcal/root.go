package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ttcal/internal/config"
	appLog "ttcal/internal/log"
)

// globalFlags holds flag values shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "ttcal",
	Short: "Polls TimeTree calendars and serves them over HTTP",
	Long: `ttcal signs in to TimeTree with an account's email and password, keeps an
in-memory snapshot of each linked calendar up to date on a fixed interval,
and exposes the snapshots as JSON and iCalendar feeds.

Run without a subcommand to start the server.`,
	SilenceUsage: true,
}

func setVersion(v string) {
	rootCmd.Version = v
}

func execute() {
	rootCmd.SetVersionTemplate(`{{printf "ttcal version %s\n" .Version}}`)

	// Serve by default.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "/etc/ttcal/config.yaml", "Path to config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: text or json (overrides config)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCalendarsCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig reads the config file and initializes logging from it, with
// command-line overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", flags.configPath, err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.LogFormat = flags.logFormat
	}
	appLog.Init(os.Stderr, cfg.LogFormat, appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ttcal version %s\n", rootCmd.Version)
		},
	}
}
