package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sapliy/nightly-giving/internal/config"
	"github.com/sapliy/nightly-giving/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, reminder scheduler and confirmation consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := config.New(cfgFile)
		for key, flag := range map[string]string{
			"http.addr":      "addr",
			"storage.driver": "storage",
			"relay.kind":     "relay",
		} {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return err
			}
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		logger := observability.NewLogger(cmd.OutOrStdout(), "giving", observability.ParseLevel(cfg.LogLevel)).Logger

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		return app.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("storage", "memory", "storage driver: memory or postgres")
	serveCmd.Flags().String("relay", "log", "email relay: log, emailjs or resend")
	rootCmd.AddCommand(serveCmd)
}
