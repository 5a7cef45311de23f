package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	gocache "github.com/patrickmn/go-cache"
)

const answerPreamble = "You are a helpful assistant answering questions about a Slack workspace. " +
	"Use the provided conversation context when it is relevant and say so when it is not."

const helpText = "Available commands:\n" +
	"/hello - say hello\n" +
	"/help - show this message\n" +
	"Mention me in a channel to ask a question about past conversations."

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// ContextBuilder renders workspace context relevant to a query.
type ContextBuilder interface {
	BuildTranscript(ctx context.Context, query string) (string, error)
}

// Completer produces one model answer for a prompt.
type Completer interface {
	Complete(ctx context.Context, systemPreamble, userPrompt string) (string, error)
}

// Poster sends messages back to the platform.
type Poster interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
}

// Router dispatches events and slash commands. Mentions go through the full
// context pipeline; plain human messages get a direct completion; everything
// the bot itself produced is dropped to avoid reply loops.
type Router struct {
	contexts ContextBuilder
	llm      Completer
	poster   Poster
	logger   *slog.Logger
	dedup    *gocache.Cache
}

// RouterOptions configures a Router. All three collaborators are required.
type RouterOptions struct {
	Contexts ContextBuilder
	LLM      Completer
	Poster   Poster
	Logger   *slog.Logger
	DedupTTL time.Duration
}

// NewRouter builds a Router.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Contexts == nil {
		return nil, fmt.Errorf("context builder is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if opts.Poster == nil {
		return nil, fmt.Errorf("poster is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Router{
		contexts: opts.Contexts,
		llm:      opts.LLM,
		poster:   opts.Poster,
		logger:   logger,
		dedup:    gocache.New(ttl, ttl/2),
	}, nil
}

// dedupKey identifies one delivery: the event id when present, a
// canonical-body hash otherwise, so reordered-but-equal JSON retries match.
func (r *Router) dedupKey(eventID string, body []byte) string {
	if eventID != "" {
		return eventID
	}
	canonical, err := jsoncanonicalizer.Transform(body)
	if err != nil {
		canonical = body
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Seen reports whether this callback was already accepted, and records it.
// The platform retries webhook deliveries, so duplicates must answer 200
// without reprocessing. A caller that fails to hand the event off after a
// false return must Forget it, or the retry would be dropped as a duplicate.
func (r *Router) Seen(eventID string, body []byte) bool {
	key := r.dedupKey(eventID, body)
	if _, found := r.dedup.Get(key); found {
		return true
	}
	r.dedup.SetDefault(key, struct{}{})
	return false
}

// Forget erases the dedup record of a delivery that was rejected after the
// Seen check, so the platform's retry is accepted as a fresh delivery.
func (r *Router) Forget(eventID string, body []byte) {
	r.dedup.Delete(r.dedupKey(eventID, body))
}

// HandleEvent routes one event. Unknown event types are ignored.
func (r *Router) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case TypeAppMention:
		return r.handleAppMention(ctx, ev)
	case TypeMessage:
		return r.handleMessage(ctx, ev)
	default:
		r.logger.Debug("event_ignored", "type", ev.Type)
		return nil
	}
}

// handleAppMention answers a question with workspace context. Pipeline
// failures propagate to the caller without posting anything back.
func (r *Router) handleAppMention(ctx context.Context, ev Event) error {
	question := strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, ""))
	if question == "" {
		r.logger.Debug("mention_without_question", "channel", ev.Channel, "ts", ev.TS)
		return nil
	}
	r.logger.Info("mention_received", "channel", ev.Channel, "user", ev.User, "question_len", len(question))

	transcript, err := r.contexts.BuildTranscript(ctx, question)
	if err != nil {
		return fmt.Errorf("build transcript: %w", err)
	}

	prompt := question
	if transcript != "" {
		prompt = "Context from the workspace:\n" + transcript + "\n\nQuestion:\n" + question
	}
	answer, err := r.llm.Complete(ctx, answerPreamble, prompt)
	if err != nil {
		return err
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}
	if _, err := r.poster.PostMessage(ctx, ev.Channel, answer, threadTS); err != nil {
		return fmt.Errorf("post answer: %w", err)
	}
	return nil
}

// handleMessage replies to plain human messages with a direct completion.
// Bot-authored and subtype events are dropped; a completion failure is
// logged but not surfaced, since there is nobody to report it to.
func (r *Router) handleMessage(ctx context.Context, ev Event) error {
	if ev.Subtype != "" || ev.BotID != "" {
		r.logger.Debug("message_skipped", "subtype", ev.Subtype, "bot_id", ev.BotID)
		return nil
	}
	if ev.User == "" || strings.TrimSpace(ev.Text) == "" {
		return nil
	}

	answer, err := r.llm.Complete(ctx, answerPreamble, ev.Text)
	if err != nil {
		r.logger.Error("message_completion_failed", "channel", ev.Channel, "error", err.Error())
		return nil
	}
	if _, err := r.poster.PostMessage(ctx, ev.Channel, answer, ""); err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	return nil
}

// HandleCommand dispatches a slash command and returns the reply text.
func (r *Router) HandleCommand(ctx context.Context, cmd Command) (string, error) {
	r.logger.Info("command_received", "command", cmd.Command, "user", cmd.UserID)
	switch cmd.Command {
	case "/hello":
		return fmt.Sprintf("Hello, <@%s>! :wave:", cmd.UserID), nil
	case "/help":
		return helpText, nil
	default:
		return "", fmt.Errorf("unknown command: %s", cmd.Command)
	}
}
