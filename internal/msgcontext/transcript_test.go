package msgcontext

import (
	"strings"
	"testing"

	"slack-context-bot/internal/slack"
)

func chanMsg(ts, user, text string) slack.Message {
	return slack.Message{TS: ts, User: user, Text: text, Channel: &slack.ChannelInfo{ID: "C1", Name: "general"}}
}

func TestFormatForModelRendersOneContext(t *testing.T) {
	t.Parallel()

	out := FormatForModel([]MessageContext{{
		Target: chanMsg("100.000000", "alice", "the target"),
		Before: []slack.Message{chanMsg("99.000000", "bob", "earlier")},
		After:  []slack.Message{chanMsg("101.000000", "carol", "later")},
	}})

	want := "#general:\n" +
		"[99.000000] bob: earlier\n" +
		">>> [100.000000] alice: the target\n" +
		"[101.000000] carol: later\n"
	if out != want {
		t.Fatalf("transcript mismatch:\ngot:\n%s\nwant:\n%s", out, want)
	}
}

func TestFormatForModelOrdersWindowChronologically(t *testing.T) {
	t.Parallel()

	// Window handed over out of order; the render must sort by ts.
	out := FormatForModel([]MessageContext{{
		Target: chanMsg("100.000000", "a", "t"),
		Before: []slack.Message{chanMsg("99.000000", "b", "x"), chanMsg("98.000000", "b", "y")},
	}})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("line count mismatch: got %d want 4", len(lines))
	}
	if !strings.HasPrefix(lines[1], "[98.000000]") || !strings.HasPrefix(lines[2], "[99.000000]") {
		t.Fatalf("chronological order mismatch:\n%s", out)
	}
}

func TestFormatForModelSeparatesContexts(t *testing.T) {
	t.Parallel()

	out := FormatForModel([]MessageContext{
		{Target: chanMsg("1.0", "a", "one")},
		{Target: chanMsg("2.0", "a", "two")},
	})

	if got := strings.Count(out, "\n---\n"); got != 1 {
		t.Fatalf("separator count mismatch: got %d want 1", got)
	}
}

func TestFormatForModelDedupsAcrossContexts(t *testing.T) {
	t.Parallel()

	shared := chanMsg("50.000000", "bob", "shared line")
	out := FormatForModel([]MessageContext{
		{Target: chanMsg("49.000000", "a", "first"), After: []slack.Message{shared}},
		{Target: chanMsg("51.000000", "a", "second"), Before: []slack.Message{shared}},
	})

	if got := strings.Count(out, "shared line"); got != 1 {
		t.Fatalf("shared message rendered %d times, want 1:\n%s", got, out)
	}
}

func TestFormatForModelRendersThreadsIndented(t *testing.T) {
	t.Parallel()

	out := FormatForModel([]MessageContext{{
		Target: chanMsg("100.000000", "alice", "root"),
		Threads: []slack.ThreadInfo{{
			ThreadTS: "100.000000",
			Replies: []slack.Message{
				chanMsg("100.000000", "alice", "root"),
				chanMsg("100.500000", "bob", "a reply"),
			},
		}},
	}})

	if !strings.Contains(out, "\nThreads:\n") {
		t.Fatalf("missing threads section:\n%s", out)
	}
	if !strings.Contains(out, "  [100.500000] bob: a reply\n") {
		t.Fatalf("missing indented reply:\n%s", out)
	}
	// The root was already rendered in the window, so the thread copy is
	// suppressed.
	if got := strings.Count(out, "alice: root"); got != 1 {
		t.Fatalf("root rendered %d times, want 1:\n%s", got, out)
	}
}

func TestFormatForModelUnknownChannelAndSender(t *testing.T) {
	t.Parallel()

	out := FormatForModel([]MessageContext{{
		Target: slack.Message{TS: "1.0", Text: "orphan"},
	}})

	if !strings.HasPrefix(out, "#unknown:\n") {
		t.Fatalf("channel fallback mismatch:\n%s", out)
	}
	if !strings.Contains(out, "unknown: orphan") {
		t.Fatalf("sender fallback mismatch:\n%s", out)
	}
}

func TestFormatForModelEmptyInput(t *testing.T) {
	t.Parallel()

	if out := FormatForModel(nil); out != "" {
		t.Fatalf("empty input mismatch: got %q want empty", out)
	}
}

func TestCompareTS(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"100.000001", "100.000002", -1},
		{"100.000002", "100.000001", 1},
		{"100.000001", "100.000001", 0},
		{"99.999999", "100.000000", -1},
		{"100.5", "100.500000", 0},
		{"9.0", "10.0", -1},
		{"abc", "abd", -1},
	}
	for _, tc := range cases {
		got := CompareTS(tc.a, tc.b)
		if (got < 0) != (tc.want < 0) || (got > 0) != (tc.want > 0) {
			t.Fatalf("CompareTS(%q, %q) mismatch: got %d want sign of %d", tc.a, tc.b, got, tc.want)
		}
	}
}
