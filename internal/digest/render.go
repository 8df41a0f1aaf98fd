package digest

import (
	"fmt"
	"strings"
)

// Section is one block of a rendered digest. When Lines is empty the
// section renders Fallback instead of disappearing, so the reader can
// tell "nothing today" from "we forgot to look".
type Section struct {
	Title    string
	Lines    []string
	Fallback string
}

// Render joins sections in order with blank-line separators. Every
// section is always present; an empty one degrades to its fallback
// sentence (or a generic one when none is set).
func Render(heading string, sections []Section) string {
	var b strings.Builder
	if heading != "" {
		b.WriteString(heading)
		b.WriteString("\n")
	}
	for _, s := range sections {
		b.WriteString("\n")
		b.WriteString(s.Title)
		b.WriteString("\n")
		if len(s.Lines) == 0 {
			fb := s.Fallback
			if fb == "" {
				fb = "Nothing to report."
			}
			b.WriteString(fb)
			b.WriteString("\n")
			continue
		}
		for _, line := range s.Lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// PlaceholderBullets derives deterministic stand-in lines from a
// user's configured topics, for when both the live fetch and the cache
// come up empty. The watcher always has something to send.
func PlaceholderBullets(topics []string, max int) []string {
	if len(topics) == 0 {
		return []string{"• No topics configured yet — tell me what to follow and I'll keep watch."}
	}
	if max > 0 && len(topics) > max {
		topics = topics[:max]
	}
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		out = append(out, fmt.Sprintf("• %s: nothing fresh pulled this round — worth a manual look.", topic))
	}
	return out
}
