package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/agentcore/agents"
	"github.com/lexcodex/agentcore/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	var runTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the agents over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := agents.Bootstrap(globalCfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			api := &server.APIServer{Env: env, Logger: logger.Named("api"), RunTimeout: runTimeout}
			err = api.ServeContext(ctx, addr)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", server.DefaultRunTimeout, "Upper bound for one run")
	return cmd
}
