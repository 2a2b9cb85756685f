package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ttcal/internal/entry"
	appLog "ttcal/internal/log"
	"ttcal/internal/metrics"
	"ttcal/internal/web"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the configured calendars and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// --listen overrides config file listen if provided.
			if listen != "" {
				cfg.Listen = listen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			appLog.Info("ttcal starting",
				"version", rootCmd.Version,
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"entries", len(cfg.Entries),
			)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m, err := metrics.New(reg)
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			mgr, err := entry.NewManager(cfg,
				entry.WithConfigPath(flags.configPath),
				entry.WithMetrics(m),
			)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.Start(ctx); err != nil {
				return err
			}

			srv := web.NewServer(cfg, mgr, web.WithGatherer(reg))
			if err := srv.Run(ctx); err != nil {
				appLog.Error("HTTP server failed", err)
				return err
			}

			appLog.Info("ttcal exiting")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
