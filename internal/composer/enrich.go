package composer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/fabula/internal/observe"
	"github.com/MrWong99/fabula/internal/story"
	"github.com/MrWong99/fabula/pkg/provider/llm"
)

// Enrichment defaults.
const (
	// DefaultSummaryMinChars is the content length below which no summary is
	// requested; the raw content is short enough to use directly.
	DefaultSummaryMinChars = 300

	// DefaultSummaryInputMax caps the rune count of content submitted for
	// summarisation. Longer content is elided in the middle, keeping both the
	// setup and the payoff.
	DefaultSummaryInputMax = 8000
)

// elisionMarker replaces the middle of over-long summarisation input.
const elisionMarker = "\n[...]\n"

// summarySystemPrompt is the fixed instruction used for chapter
// summarisation.
const summarySystemPrompt = "You summarise novel chapters. Condense the given chapter " +
	"to 200-300 characters. Preserve plot points, character interactions, foreshadowing, " +
	"and emotional turns. Output only the summary text."

// headFraction is the share of the summarisation input budget spent on the
// start of the chapter; the rest keeps the ending.
const headFraction = 0.4

// ProcessNewChapter runs post-generation enrichment for a freshly persisted
// chapter: derive and store a summary, then (re)index the chapter's content.
//
// Both steps are best-effort. This runs after the user-visible generation has
// completed, so failures are logged and counted but never propagate — the
// chapter simply stays without a summary or with partial embeddings until the
// next enrichment pass. The method returns when both steps have finished.
func (a *Assembler) ProcessNewChapter(ctx context.Context, projectID string, ch story.Chapter) {
	log := observe.Logger(ctx).With(
		slog.String("project_id", projectID),
		slog.String("chapter_id", ch.ID),
	)

	if summary, ok := a.summarize(ctx, ch); ok {
		if _, err := a.stories.UpdateChapter(ctx, ch.ID, story.ChapterPatch{Summary: &summary}); err != nil {
			a.metrics.RecordEnrichmentFailure(ctx, "summary")
			log.Warn("storing chapter summary failed", slog.String("error", err.Error()))
		}
	}

	if err := a.indexer.IndexChapter(ctx, projectID, ch.ID, ch.Content); err != nil {
		a.metrics.RecordEnrichmentFailure(ctx, "index")
		log.Warn("chapter indexing failed", slog.String("error", err.Error()))
	}
}

// summarize requests a condensed summary for the chapter. Returns ok=false
// when no LLM provider is configured, the content is too short to summarise,
// or the model call failed.
func (a *Assembler) summarize(ctx context.Context, ch story.Chapter) (string, bool) {
	if a.llm == nil {
		return "", false
	}
	if len([]rune(ch.Content)) <= a.summaryMinChars {
		return "", false
	}

	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: elideMiddle(ch.Content, a.summaryInputMax)},
		},
	})
	a.metrics.RecordLLMDuration(ctx, time.Since(start).Seconds(), "summary")
	if err != nil {
		a.metrics.RecordEnrichmentFailure(ctx, "summary")
		a.metrics.RecordProviderError(ctx, a.llm.ModelID(), "summary")
		observe.Logger(ctx).Warn("chapter summarisation failed",
			slog.String("chapter_id", ch.ID),
			slog.String("error", err.Error()),
		)
		return "", false
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		a.metrics.RecordEnrichmentFailure(ctx, "summary")
		return "", false
	}
	return summary, true
}

// elideMiddle bounds s to roughly max runes by keeping a head fraction and a
// tail fraction with an elision marker in between. Keeping both ends
// preserves the chapter's setup and its payoff for the summariser.
func elideMiddle(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	head := int(float64(max) * headFraction)
	tail := max - head
	return string(runes[:head]) + elisionMarker + string(runes[len(runes)-tail:])
}
