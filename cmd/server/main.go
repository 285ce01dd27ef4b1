package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"realtime-board/internal/api"
	"realtime-board/internal/config"
	l "realtime-board/internal/log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:           "board-server",
		Short:         "Serve the shared drawing board and relay its WebSocket traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			l.SetLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := api.NewServer(cfg, logrus.StandardLogger())
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	config.RegisterFlags(cmd.Flags())

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Fatal("board server failed")
	}
}
