// Package botruntime builds the bot's component graph from the resolved
// configuration: platform client, context assembler, completion gateway and
// event router.
package botruntime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"slack-context-bot/internal/events"
	"slack-context-bot/internal/llm"
	"slack-context-bot/internal/msgcontext"
	"slack-context-bot/internal/slack"
)

// Runtime holds the wired components shared by the serve, socket and ask
// commands.
type Runtime struct {
	Logger    *slog.Logger
	Slack     *slack.Client
	Assembler *msgcontext.Assembler
	LLM       *llm.Client
	Router    *events.Router
}

// Build constructs a Runtime from viper settings. slack.bot_token and
// llm.api_key are required; everything else has a default.
func Build(logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	botToken := strings.TrimSpace(viper.GetString("slack.bot_token"))
	if botToken == "" {
		return nil, fmt.Errorf("missing slack.bot_token (set CONTEXT_BOT_SLACK_BOT_TOKEN)")
	}
	slackClient, err := slack.New(slack.Options{
		BaseURL:   viper.GetString("slack.base_url"),
		BotToken:  botToken,
		UserToken: viper.GetString("slack.user_token"),
		AppToken:  viper.GetString("slack.app_token"),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	assembler, err := msgcontext.NewAssembler(msgcontext.AssemblerOptions{
		API:              slackClient,
		Logger:           logger,
		SearchCount:      viper.GetInt("context.search_count"),
		StepTimeout:      viper.GetDuration("context.step_timeout"),
		MatchConcurrency: viper.GetInt("context.match_concurrency"),
	})
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing llm.api_key (set CONTEXT_BOT_LLM_API_KEY)")
	}
	llmClient, err := llm.New(llm.Options{
		BaseURL: viper.GetString("llm.endpoint"),
		APIKey:  apiKey,
		Model:   viper.GetString("llm.model"),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	router, err := events.NewRouter(events.RouterOptions{
		Contexts: assembler,
		LLM:      llmClient,
		Poster:   slackClient,
		Logger:   logger,
		DedupTTL: viper.GetDuration("events.dedup_ttl"),
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Logger:    logger,
		Slack:     slackClient,
		Assembler: assembler,
		LLM:       llmClient,
		Router:    router,
	}, nil
}

// NewQueue builds the bounded worker queue feeding events into the router.
func (rt *Runtime) NewQueue(workers, size int) (*events.Queue, error) {
	return events.NewQueue(events.QueueOptions{
		Workers: workers,
		Size:    size,
		Logger:  rt.Logger,
		Handler: func(ctx context.Context, job events.Job) {
			if err := rt.Router.HandleEvent(ctx, job.Event); err != nil {
				rt.Logger.Error("event_handling_failed",
					"job_id", job.ID,
					"event_type", job.Event.Type,
					"error", err.Error(),
				)
			}
		},
	})
}
