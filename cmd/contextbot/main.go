package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slack-context-bot/cmd/contextbot/askcmd"
	"slack-context-bot/cmd/contextbot/servecmd"
	"slack-context-bot/cmd/contextbot/socketcmd"
	"slack-context-bot/internal/config"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "contextbot",
		Short:         "Slack bot that answers questions with workspace conversation context",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(cfgFile); err != nil {
				return err
			}
			slog.SetDefault(config.Logger())
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (default: ./contextbot.yaml).")

	cmd.AddCommand(servecmd.New())
	cmd.AddCommand(socketcmd.New())
	cmd.AddCommand(askcmd.New())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
