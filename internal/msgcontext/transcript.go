package msgcontext

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"slack-context-bot/internal/slack"
)

// FormatForModel renders assembled contexts into one transcript string.
// Contexts are separated by "---" lines and headed by their channel name.
// Window messages are merged chronologically with the target line prefixed
// ">>> "; thread replies not already rendered follow under an indented
// "Threads:" subsection. The ts-keyed dedup set spans the whole render, so
// a message appears at most once no matter how many contexts fetched it.
func FormatForModel(contexts []MessageContext) string {
	var b strings.Builder
	seen := make(map[string]struct{})

	for idx, mc := range contexts {
		if idx > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString("#" + mc.Target.ChannelName() + ":\n")

		type entry struct {
			msg    slack.Message
			target bool
		}
		var ordered []entry
		for _, m := range mc.Before {
			if m.TS == "" {
				continue
			}
			if _, ok := seen[m.TS]; ok {
				continue
			}
			seen[m.TS] = struct{}{}
			ordered = append(ordered, entry{msg: m})
		}
		if mc.Target.TS != "" {
			if _, ok := seen[mc.Target.TS]; !ok {
				seen[mc.Target.TS] = struct{}{}
				ordered = append(ordered, entry{msg: mc.Target, target: true})
			}
		}
		for _, m := range mc.After {
			if m.TS == "" {
				continue
			}
			if _, ok := seen[m.TS]; ok {
				continue
			}
			seen[m.TS] = struct{}{}
			ordered = append(ordered, entry{msg: m})
		}

		sort.SliceStable(ordered, func(i, j int) bool {
			return CompareTS(ordered[i].msg.TS, ordered[j].msg.TS) < 0
		})

		for _, e := range ordered {
			if e.target {
				b.WriteString(">>> ")
			}
			b.WriteString(formatLine(e.msg))
			b.WriteString("\n")
		}

		if len(mc.Threads) > 0 {
			b.WriteString("\nThreads:\n")
			for _, t := range mc.Threads {
				for _, reply := range t.Replies {
					if reply.TS == "" {
						continue
					}
					if _, ok := seen[reply.TS]; ok {
						continue
					}
					seen[reply.TS] = struct{}{}
					b.WriteString("  " + formatLine(reply) + "\n")
				}
			}
		}
	}

	return b.String()
}

func formatLine(m slack.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.TS, m.Sender(), m.Text)
}

// CompareTS orders two platform timestamps. Both sides are parsed as
// "seconds.fraction" and compared numerically; values that do not parse
// fall back to a plain string compare. Slack emits fixed-width decimal
// timestamps, which makes the two orders agree, but numeric comparison
// stays correct if the widths ever diverge.
func CompareTS(a, b string) int {
	as, af, aok := splitTS(a)
	bs, bf, bok := splitTS(b)
	if aok && bok {
		switch {
		case as != bs:
			if as < bs {
				return -1
			}
			return 1
		case af != bf:
			if af < bf {
				return -1
			}
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func splitTS(ts string) (secs int64, frac int64, ok bool) {
	head, tail, found := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if !found || tail == "" {
		return secs, 0, true
	}
	// Right-pad the fraction so "5" and "500000" compare as equals.
	if len(tail) < 6 {
		tail += strings.Repeat("0", 6-len(tail))
	}
	frac, err = strconv.ParseInt(tail[:6], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return secs, frac, true
}
