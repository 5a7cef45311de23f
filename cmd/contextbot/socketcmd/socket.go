// Package socketcmd runs the bot over Socket Mode: a websocket consume loop
// that acks envelopes, unwraps events_api payloads and feeds the router
// through the bounded queue.
package socketcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"slack-context-bot/internal/botruntime"
	"slack-context-bot/internal/configutil"
	"slack-context-bot/internal/events"
)

type socketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type eventsAPIPayload struct {
	EventID string          `json:"event_id,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

// New builds the socket command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Run the bot over Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			if strings.TrimSpace(viper.GetString("slack.app_token")) == "" {
				return fmt.Errorf("missing slack.app_token (set CONTEXT_BOT_SLACK_APP_TOKEN)")
			}

			rt, err := botruntime.Build(logger)
			if err != nil {
				return err
			}
			auth, err := rt.Slack.AuthTest(cmd.Context())
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			botUserID := strings.TrimSpace(auth.UserID)
			if botUserID == "" {
				return fmt.Errorf("slack auth.test returned empty user_id")
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

			logger.Info("socket_start", "bot_user_id", botUserID, "team", auth.Team)

			for {
				if cmd.Context().Err() != nil {
					logger.Info("socket_stop", "reason", "context_canceled")
					return nil
				}
				conn, err := rt.Slack.ConnectSocket(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						logger.Info("socket_stop", "reason", "context_canceled")
						return nil
					}
					logger.Warn("socket_connect_error", "error", err.Error())
					if err := sleepWithContext(cmd.Context(), 2*time.Second); err != nil {
						return nil
					}
					continue
				}
				logger.Info("socket_connected")
				readErr := consumeSocket(cmd.Context(), conn, func(envelope socketEnvelope) error {
					return dispatchEnvelope(rt, queue, botUserID, envelope)
				})
				_ = conn.Close()
				if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
					logger.Warn("socket_read_error", "error", readErr.Error())
				}
			}
		},
	}

	cmd.Flags().Int("workers", 4, "Number of event queue workers.")
	cmd.Flags().Int("queue-size", 64, "Event queue capacity before deliveries are rejected.")
	return cmd
}

// consumeSocket reads envelopes until the connection drops or ctx is
// cancelled. Envelopes with an id are acked before dispatch.
func consumeSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope socketEnvelope) error) error {
	if conn == nil {
		return fmt.Errorf("websocket connection is nil")
	}
	for {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope socketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}

// dispatchEnvelope unwraps an events_api envelope, drops duplicates and the
// bot's own messages, and enqueues the rest. Queue-full is logged and
// swallowed; the platform redelivers on its own schedule.
func dispatchEnvelope(rt *botruntime.Runtime, queue *events.Queue, botUserID string, envelope socketEnvelope) error {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return nil
	}
	var payload eventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		rt.Logger.Warn("socket_payload_malformed", "error", err.Error())
		return nil
	}
	var ev events.Event
	if err := json.Unmarshal(payload.Event, &ev); err != nil {
		rt.Logger.Warn("socket_event_malformed", "event_id", payload.EventID, "error", err.Error())
		return nil
	}
	if ev.User != "" && ev.User == botUserID {
		return nil
	}
	if rt.Router.Seen(payload.EventID, envelope.Payload) {
		rt.Logger.Debug("socket_event_deduped", "event_id", payload.EventID)
		return nil
	}
	if _, err := queue.Enqueue(ev); err != nil {
		rt.Router.Forget(payload.EventID, envelope.Payload)
		rt.Logger.Warn("socket_enqueue_failed", "event_id", payload.EventID, "error", err.Error())
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
