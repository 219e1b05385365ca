package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentstudio/internal/config"
	"agentstudio/internal/logging"
	"agentstudio/internal/server"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var host string
	var port int
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API and live stream over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []config.Option
			if cmd.Flags().Changed("host") || cmd.Flags().Changed("port") {
				ov := root.overrides(cmd)
				if cmd.Flags().Changed("host") {
					ov.ServerHost = &host
				}
				if cmd.Flags().Changed("port") {
					ov.ServerPort = &port
				}
				extra = append(extra, config.WithOverrides(ov))
			}
			rt, err := root.load(cmd, extra...)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg := server.ConfigFrom(rt.config)
			cfg.Debug = debug
			cfg.Version = version
			srv, err := server.New(rt.service, cfg,
				server.WithLogger(logging.FromObservabilityWithComponent(rt.logger, "server")),
				server.WithMetrics(rt.metrics),
				server.WithTracer(rt.tracer),
			)
			if err != nil {
				return err
			}
			if !rt.config.HasAPIKey() {
				rt.logger.Warn("No API key configured; task starts will fail until " + config.APIKeyEnv + " is set")
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			select {
			case err := <-errCh:
				return err
			case <-sig:
				return srv.Stop()
			}
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Listen host")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultServerPort, "Listen port")
	cmd.Flags().BoolVar(&debug, "debug", false, "Verbose request logging")
	return cmd
}
