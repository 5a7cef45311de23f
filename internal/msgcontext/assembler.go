// Package msgcontext assembles conversational context around search matches:
// it fans out bounded-concurrency lookups for the messages surrounding each
// match and the threads they participate in, tolerates partial failure, and
// renders the result into one deduplicated transcript for the model.
package msgcontext

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"slack-context-bot/internal/slack"
)

// API is the slice of the platform client the assembler consumes.
type API interface {
	SearchMessages(ctx context.Context, query string, count int, sort slack.SearchSort) ([]slack.Message, error)
	GetMessagesAround(ctx context.Context, channel, targetTS string) (slack.MessagesAround, error)
	GetThreadMessages(ctx context.Context, channel, threadTS string) ([]slack.Message, error)
}

// MessageContext is one assembled context unit: a search match plus its
// surrounding window and thread replies. Before and After never contain the
// target itself and are each ascending by ts.
type MessageContext struct {
	Target  slack.Message
	Before  []slack.Message
	After   []slack.Message
	Threads []slack.ThreadInfo
}

// SearchError marks a failed ranked-search call. It is fatal to the whole
// assembly: no per-match work is attempted once either search fails.
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string { return fmt.Sprintf("context search failed: %v", e.Err) }

func (e *SearchError) Unwrap() error { return e.Err }

// Assembler orchestrates search, around-fetch, thread-fetch and merge.
type Assembler struct {
	api              API
	logger           *slog.Logger
	searchCount      int
	stepTimeout      time.Duration
	matchConcurrency int
}

// AssemblerOptions configures an Assembler. API is required; the rest
// default to the values the bot ships with (5 results per ranking, 10s per
// sub-step, one match in flight at a time to stay inside platform rate
// limits).
type AssemblerOptions struct {
	API              API
	Logger           *slog.Logger
	SearchCount      int
	StepTimeout      time.Duration
	MatchConcurrency int
}

// NewAssembler builds an Assembler.
func NewAssembler(opts AssemblerOptions) (*Assembler, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("assembler api is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	searchCount := opts.SearchCount
	if searchCount <= 0 {
		searchCount = 5
	}
	stepTimeout := opts.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	matchConcurrency := opts.MatchConcurrency
	if matchConcurrency <= 0 {
		matchConcurrency = 1
	}
	return &Assembler{
		api:              opts.API,
		logger:           logger,
		searchCount:      searchCount,
		stepTimeout:      stepTimeout,
		matchConcurrency: matchConcurrency,
	}, nil
}

// AssembleContext searches the message index by relevance and by recency,
// deduplicates the matches, and fetches the surrounding window and thread
// replies for each. A failed search aborts the call; a failed or timed-out
// per-match fetch only drops that match. An empty match set is a valid
// empty result, not an error.
func (a *Assembler) AssembleContext(ctx context.Context, query string) ([]MessageContext, error) {
	matches, err := a.searchMatches(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		a.logger.Debug("context_no_matches", "query", query)
		return nil, nil
	}
	a.logger.Info("context_matches_found", "query", query, "matches", len(matches))

	results := make([]*MessageContext, len(matches))
	sem := make(chan struct{}, a.matchConcurrency)
	var wg sync.WaitGroup
	for i, match := range matches {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, match slack.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = a.fetchMatchContext(ctx, match)
		}(i, match)
	}
	wg.Wait()

	contexts := make([]MessageContext, 0, len(matches))
	for _, mc := range results {
		if mc != nil {
			contexts = append(contexts, *mc)
		}
	}
	a.logger.Info("context_assembled", "query", query, "contexts", len(contexts), "skipped", len(matches)-len(contexts))
	return contexts, nil
}

// searchMatches runs the two ranked searches concurrently and merges them,
// keeping the first occurrence of each ts. Relevance-ranked results come
// first, so they win ordering priority over recency duplicates.
func (a *Assembler) searchMatches(ctx context.Context, query string) ([]slack.Message, error) {
	var byRelevance, byRecency []slack.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byRelevance, err = a.api.SearchMessages(gctx, query, a.searchCount, slack.SortByRelevance)
		return err
	})
	g.Go(func() error {
		var err error
		byRecency, err = a.api.SearchMessages(gctx, query, a.searchCount, slack.SortByRecency)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, &SearchError{Err: err}
	}

	seen := make(map[string]struct{}, len(byRelevance)+len(byRecency))
	merged := make([]slack.Message, 0, len(byRelevance)+len(byRecency))
	for _, m := range append(byRelevance, byRecency...) {
		if _, ok := seen[m.TS]; ok {
			continue
		}
		seen[m.TS] = struct{}{}
		merged = append(merged, m)
	}
	return merged, nil
}

// fetchMatchContext assembles one match's context unit. A failed or
// timed-out around-fetch skips the match (nil); a failed thread batch
// degrades to zero threads.
func (a *Assembler) fetchMatchContext(ctx context.Context, match slack.Message) *MessageContext {
	channel := match.ChannelID()

	aroundCtx, cancel := context.WithTimeout(ctx, a.stepTimeout)
	around, err := a.api.GetMessagesAround(aroundCtx, channel, match.TS)
	cancel()
	if err != nil {
		a.logger.Warn("context_around_fetch_failed", "channel", channel, "ts", match.TS, "error", err.Error())
		return nil
	}

	window := make([]slack.Message, 0, len(around.Before)+len(around.After)+1)
	window = append(window, around.Before...)
	window = append(window, match)
	window = append(window, around.After...)

	threadCtx, cancel := context.WithTimeout(ctx, a.stepTimeout)
	threads := a.fetchThreadsBatch(threadCtx, channel, window)
	cancel()

	return &MessageContext{
		Target:  match,
		Before:  around.Before,
		After:   around.After,
		Threads: threads,
	}
}

// threadRootOf returns the thread id a message belongs to: its thread_ts
// when it is part of a thread, its own ts when it roots one (reply_count set),
// and "" when it carries no thread marker at all.
func threadRootOf(m slack.Message) string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	if m.ReplyCount > 0 {
		return m.TS
	}
	return ""
}

// fetchThreadsBatch fans out one replies-lookup per distinct thread root in
// the window and gathers whatever succeeds before ctx expires. Failures are
// logged and dropped; the batch never fails as a whole.
func (a *Assembler) fetchThreadsBatch(ctx context.Context, channel string, window []slack.Message) []slack.ThreadInfo {
	type probe struct {
		threadTS  string
		messageTS string
	}
	var probes []probe
	seenRoots := make(map[string]struct{})
	for _, m := range window {
		root := threadRootOf(m)
		if root == "" {
			continue
		}
		if _, ok := seenRoots[root]; ok {
			continue
		}
		seenRoots[root] = struct{}{}
		probes = append(probes, probe{threadTS: root, messageTS: m.TS})
	}
	if len(probes) == 0 {
		return nil
	}

	results := make([]*slack.ThreadInfo, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			replies, err := a.api.GetThreadMessages(ctx, channel, p.threadTS)
			if err != nil {
				a.logger.Warn("context_thread_fetch_failed", "channel", channel, "thread_ts", p.threadTS, "error", err.Error())
				return
			}
			results[i] = &slack.ThreadInfo{
				ThreadTS:   p.threadTS,
				MessageTS:  p.messageTS,
				ReplyCount: len(replies),
				Replies:    replies,
			}
		}(i, p)
	}
	wg.Wait()

	threads := make([]slack.ThreadInfo, 0, len(probes))
	for _, t := range results {
		if t != nil {
			threads = append(threads, *t)
		}
	}
	return threads
}

// BuildTranscript assembles context for query and renders it for the model.
func (a *Assembler) BuildTranscript(ctx context.Context, query string) (string, error) {
	contexts, err := a.AssembleContext(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatForModel(contexts), nil
}
