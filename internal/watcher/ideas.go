package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/llm"
	"github.com/valetlabs/valet/internal/profile"
)

const (
	ideasPerSpark = 3

	// A cached spark is reusable for the whole week between sends.
	ideasMaxAge = 7 * 24 * time.Hour
)

// buildIdeas assembles the weekly idea spark: model-generated ideas in
// the user's niche, with the cache and a deterministic template as
// fallbacks.
func (e *Engine) buildIdeas(ctx context.Context, rec *profile.Record, now time.Time) string {
	loc := rec.Location()
	niche := rec.IdeaNiche
	if niche == "" {
		niche = "your projects"
	}

	var lines []string
	var note string

	// No model, no budget spend; the template still goes out.
	if e.deps.LLM != nil {
		decision, err := e.deps.Ledger.CheckAndConsume(ctx, rec.UserID, budget.KindIdeas)
		if err != nil {
			e.logger.Error("ideas budget check failed", "user_id", rec.UserID, "error", err)
			decision = budget.Decision{Allowed: false, Reason: "Budget status was unavailable this round."}
		}

		if decision.Allowed {
			generated, err := e.generateIdeas(ctx, niche)
			if err != nil {
				e.logger.Warn("idea generation failed", "user_id", rec.UserID, "error", err)
				note = "The idea model was unreachable; here is the last spark."
			} else {
				lines = generated
				entry := &digest.Entry{
					UserID:     rec.UserID,
					Kind:       digest.KindIdeas,
					Topics:     []string{niche},
					Items:      lines,
					CapturedAt: now,
					DayKey:     digest.DayKey(now, loc),
				}
				if err := e.deps.Cache.Put(ctx, entry); err != nil {
					e.logger.Warn("idea cache write failed", "user_id", rec.UserID, "error", err)
				}
			}
		} else {
			note = decision.Reason
		}
	}

	if len(lines) == 0 {
		entry, err := e.deps.Cache.Get(ctx, rec.UserID, digest.KindIdeas)
		if err != nil {
			e.logger.Warn("idea cache read failed", "user_id", rec.UserID, "error", err)
		}
		lines = digest.FreshBullets(entry, loc, now, ideasPerSpark, ideasMaxAge, false)
	}
	if len(lines) == 0 {
		lines = templateIdeas(niche)
	}

	section := digest.Section{Title: "This week's ideas", Lines: lines}
	if note != "" {
		section.Lines = append([]string{note}, section.Lines...)
	}
	return digest.Render("Idea spark", []digest.Section{section})
}

// generateIdeas asks the model for a short list and normalizes it to
// bullet lines.
func (e *Engine) generateIdeas(ctx context.Context, niche string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Suggest %d concrete, small-scope ideas in the area of %s. "+
			"One idea per line, no numbering, no preamble.", ideasPerSpark, niche)

	resp, err := e.deps.LLM.Chat(ctx, e.deps.Model, []llm.Message{
		{Role: "system", Content: "You generate short, actionable ideas. Output only the ideas, one per line."},
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, raw := range strings.Split(resp.Message.Content, "\n") {
		line := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(raw), "-•* "))
		if line == "" {
			continue
		}
		lines = append(lines, "• "+line)
		if len(lines) == ideasPerSpark {
			break
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("model returned no usable lines")
	}
	return lines, nil
}

// templateIdeas is the spark of last resort, deterministic per niche.
func templateIdeas(niche string) []string {
	return []string{
		fmt.Sprintf("• Write down the three most annoying frictions in %s and fix the smallest one.", niche),
		fmt.Sprintf("• Find one person doing interesting work in %s and read everything they published this month.", niche),
		fmt.Sprintf("• Sketch a tiny tool you wish existed for %s; timebox it to an afternoon.", niche),
	}
}
