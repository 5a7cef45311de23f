// Package servecmd runs the webhook HTTP server: signed event callbacks and
// slash commands in, queued router work out.
package servecmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slack-context-bot/internal/botruntime"
	"slack-context-bot/internal/configutil"
	"slack-context-bot/internal/httpapi"
	"slack-context-bot/internal/slack"
)

// New builds the serve command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server for Slack events and slash commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			signingSecret := strings.TrimSpace(configutil.FlagOrViperString(cmd, "signing-secret", "slack.signing_secret"))
			if signingSecret == "" {
				return fmt.Errorf("missing slack.signing_secret (set via --signing-secret or CONTEXT_BOT_SLACK_SIGNING_SECRET)")
			}
			verifier, err := slack.NewVerifier(slack.VerifierOptions{
				SigningSecret: signingSecret,
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			rt, err := botruntime.Build(logger)
			if err != nil {
				return err
			}
			queue, err := rt.NewQueue(
				configutil.FlagOrViperInt(cmd, "workers", "events.workers"),
				configutil.FlagOrViperInt(cmd, "queue-size", "events.queue_size"),
			)
			if err != nil {
				return err
			}
			queue.Start(cmd.Context())
			defer queue.Close()

			server, err := httpapi.New(httpapi.Options{
				Listen:     configutil.FlagOrViperString(cmd, "listen", "server.listen"),
				Verifier:   verifier,
				Dispatcher: rt.Router,
				Queue:      queue,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}

	cmd.Flags().String("listen", "", "Listen address for the webhook server (host:port).")
	cmd.Flags().String("signing-secret", "", "Slack signing secret for request verification.")
	cmd.Flags().Int("workers", 4, "Number of event queue workers.")
	cmd.Flags().Int("queue-size", 64, "Event queue capacity before deliveries are rejected.")
	return cmd
}
