package events

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeContexts struct {
	transcript string
	err        error
	calls      atomic.Int32
}

func (f *fakeContexts) BuildTranscript(ctx context.Context, query string) (string, error) {
	f.calls.Add(1)
	return f.transcript, f.err
}

type fakeCompleter struct {
	answer     string
	err        error
	lastPrompt string
	calls      atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPreamble, userPrompt string) (string, error) {
	f.calls.Add(1)
	f.lastPrompt = userPrompt
	return f.answer, f.err
}

type fakePoster struct {
	lastChannel  string
	lastText     string
	lastThreadTS string
	err          error
	calls        atomic.Int32
}

func (f *fakePoster) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	f.calls.Add(1)
	f.lastChannel = channel
	f.lastText = text
	f.lastThreadTS = threadTS
	return "900.000000", f.err
}

func newTestRouter(t *testing.T, contexts *fakeContexts, completer *fakeCompleter, poster *fakePoster) *Router {
	t.Helper()
	r, err := NewRouter(RouterOptions{Contexts: contexts, LLM: completer, Poster: poster})
	if err != nil {
		t.Fatalf("NewRouter error: %v", err)
	}
	return r
}

func TestHandleAppMentionPostsThreadedAnswer(t *testing.T) {
	t.Parallel()

	contexts := &fakeContexts{transcript: "#general:\n[1.0] bob: hi\n"}
	completer := &fakeCompleter{answer: "the answer"}
	poster := &fakePoster{}
	r := newTestRouter(t, contexts, completer, poster)

	err := r.HandleEvent(context.Background(), Event{
		Type:    TypeAppMention,
		Channel: "C1",
		User:    "U1",
		Text:    "<@UBOT> what happened yesterday?",
		TS:      "100.000000",
	})
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if poster.lastChannel != "C1" || poster.lastText != "the answer" {
		t.Fatalf("post mismatch: got channel=%q text=%q", poster.lastChannel, poster.lastText)
	}
	if poster.lastThreadTS != "100.000000" {
		t.Fatalf("thread mismatch: got %q want the mention ts", poster.lastThreadTS)
	}
	if !strings.Contains(completer.lastPrompt, "what happened yesterday?") {
		t.Fatalf("prompt missing question: %q", completer.lastPrompt)
	}
	if !strings.Contains(completer.lastPrompt, "bob: hi") {
		t.Fatalf("prompt missing transcript: %q", completer.lastPrompt)
	}
	if strings.Contains(completer.lastPrompt, "<@UBOT>") {
		t.Fatalf("prompt still contains the mention token: %q", completer.lastPrompt)
	}
}

func TestHandleAppMentionKeepsExistingThread(t *testing.T) {
	t.Parallel()

	poster := &fakePoster{}
	r := newTestRouter(t, &fakeContexts{}, &fakeCompleter{answer: "a"}, poster)

	err := r.HandleEvent(context.Background(), Event{
		Type:     TypeAppMention,
		Channel:  "C1",
		Text:     "<@UBOT> q",
		TS:       "100.000000",
		ThreadTS: "90.000000",
	})
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if poster.lastThreadTS != "90.000000" {
		t.Fatalf("thread mismatch: got %q want 90.000000", poster.lastThreadTS)
	}
}

func TestHandleAppMentionPropagatesPipelineFailure(t *testing.T) {
	t.Parallel()

	contexts := &fakeContexts{err: fmt.Errorf("search down")}
	poster := &fakePoster{}
	r := newTestRouter(t, contexts, &fakeCompleter{}, poster)

	err := r.HandleEvent(context.Background(), Event{Type: TypeAppMention, Channel: "C1", Text: "<@UBOT> q", TS: "1.0"})
	if err == nil {
		t.Fatalf("HandleEvent swallowed a pipeline failure")
	}
	if got := poster.calls.Load(); got != 0 {
		t.Fatalf("post calls mismatch: got %d want 0", got)
	}
}

func TestHandleMessageDropsBotAuthored(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{}
	poster := &fakePoster{}
	r := newTestRouter(t, &fakeContexts{}, completer, poster)

	err := r.HandleEvent(context.Background(), Event{Type: TypeMessage, Channel: "C1", BotID: "B1", Text: "loop"})
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if got := completer.calls.Load(); got != 0 {
		t.Fatalf("completion calls mismatch: got %d want 0", got)
	}
	if got := poster.calls.Load(); got != 0 {
		t.Fatalf("post calls mismatch: got %d want 0", got)
	}
}

func TestHandleMessageAnswersDirectly(t *testing.T) {
	t.Parallel()

	contexts := &fakeContexts{}
	completer := &fakeCompleter{answer: "hi there"}
	poster := &fakePoster{}
	r := newTestRouter(t, contexts, completer, poster)

	err := r.HandleEvent(context.Background(), Event{Type: TypeMessage, Channel: "D1", User: "U1", Text: "hello bot"})
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if got := contexts.calls.Load(); got != 0 {
		t.Fatalf("transcript calls mismatch: got %d want 0", got)
	}
	if poster.lastText != "hi there" || poster.lastThreadTS != "" {
		t.Fatalf("post mismatch: got text=%q thread=%q", poster.lastText, poster.lastThreadTS)
	}
}

func TestHandleMessageSwallowsCompletionFailure(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{err: fmt.Errorf("llm down")}
	poster := &fakePoster{}
	r := newTestRouter(t, &fakeContexts{}, completer, poster)

	err := r.HandleEvent(context.Background(), Event{Type: TypeMessage, Channel: "D1", User: "U1", Text: "hello"})
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if got := poster.calls.Load(); got != 0 {
		t.Fatalf("post calls mismatch: got %d want 0", got)
	}
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{}
	r := newTestRouter(t, &fakeContexts{}, completer, &fakePoster{})

	if err := r.HandleEvent(context.Background(), Event{Type: "reaction_added"}); err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if got := completer.calls.Load(); got != 0 {
		t.Fatalf("completion calls mismatch: got %d want 0", got)
	}
}

func TestSeenDedupsByEventID(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeContexts{}, &fakeCompleter{}, &fakePoster{})

	if r.Seen("Ev1", []byte(`{"a":1}`)) {
		t.Fatalf("first delivery reported as seen")
	}
	if !r.Seen("Ev1", []byte(`{"a":1}`)) {
		t.Fatalf("second delivery not reported as seen")
	}
	if r.Seen("Ev2", []byte(`{"a":1}`)) {
		t.Fatalf("distinct event id reported as seen")
	}
}

func TestSeenFallsBackToCanonicalBodyHash(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeContexts{}, &fakeCompleter{}, &fakePoster{})

	if r.Seen("", []byte(`{"b":2,"a":1}`)) {
		t.Fatalf("first delivery reported as seen")
	}
	// Same payload with reordered keys canonicalizes to the same hash.
	if !r.Seen("", []byte(`{"a":1,"b":2}`)) {
		t.Fatalf("canonically equal body not reported as seen")
	}
}

func TestForgetAllowsRetryAfterRejection(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeContexts{}, &fakeCompleter{}, &fakePoster{})

	// A delivery that could not be handed off (queue full) is forgotten,
	// so the platform's retry must pass the dedup check again.
	if r.Seen("Ev1", []byte(`{"a":1}`)) {
		t.Fatalf("first delivery reported as seen")
	}
	r.Forget("Ev1", []byte(`{"a":1}`))
	if r.Seen("Ev1", []byte(`{"a":1}`)) {
		t.Fatalf("retry after Forget reported as seen")
	}

	// Same for deliveries keyed by the canonical body hash.
	if r.Seen("", []byte(`{"b":2,"a":1}`)) {
		t.Fatalf("first delivery reported as seen")
	}
	r.Forget("", []byte(`{"a":1,"b":2}`))
	if r.Seen("", []byte(`{"b":2,"a":1}`)) {
		t.Fatalf("retry after Forget reported as seen")
	}
}

func TestHandleCommand(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeContexts{}, &fakeCompleter{}, &fakePoster{})

	reply, err := r.HandleCommand(context.Background(), Command{Command: "/hello", UserID: "U42"})
	if err != nil {
		t.Fatalf("HandleCommand error: %v", err)
	}
	if !strings.Contains(reply, "<@U42>") {
		t.Fatalf("hello reply missing user mention: %q", reply)
	}

	reply, err = r.HandleCommand(context.Background(), Command{Command: "/help"})
	if err != nil {
		t.Fatalf("HandleCommand error: %v", err)
	}
	if !strings.Contains(reply, "/hello") {
		t.Fatalf("help reply missing command list: %q", reply)
	}

	if _, err := r.HandleCommand(context.Background(), Command{Command: "/frobnicate"}); err == nil {
		t.Fatalf("unknown command accepted")
	}
}

func TestNewRouterRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewRouter(RouterOptions{LLM: &fakeCompleter{}, Poster: &fakePoster{}}); err == nil {
		t.Fatalf("NewRouter accepted a nil context builder")
	}
	if _, err := NewRouter(RouterOptions{Contexts: &fakeContexts{}, Poster: &fakePoster{}}); err == nil {
		t.Fatalf("NewRouter accepted a nil completer")
	}
	if _, err := NewRouter(RouterOptions{Contexts: &fakeContexts{}, LLM: &fakeCompleter{}}); err == nil {
		t.Fatalf("NewRouter accepted a nil poster")
	}
}
