package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/fabula/internal/observe"
	"github.com/MrWong99/fabula/pkg/provider/llm"
)

// DefaultParseRetries is how many fresh generation attempts follow a
// structured-output parse failure before falling back to the fixed default
// options.
const DefaultParseRetries = 1

// PlotOption is one proposed direction for the next chapter.
type PlotOption struct {
	// Title is a short label for the direction.
	Title string `json:"title"`

	// Description expands the direction in one or two sentences.
	Description string `json:"description"`
}

// defaultPlotOptions is the deterministic fallback when the model cannot
// produce parseable options.
var defaultPlotOptions = []PlotOption{
	{Title: "Advance the main plot", Description: "Push the central conflict forward with a decisive event."},
	{Title: "Deepen a relationship", Description: "Spend the chapter on the bond between two main characters."},
	{Title: "Introduce a complication", Description: "Bring in an unexpected obstacle or revelation."},
}

const plotOptionsSystemPrompt = "You propose directions for the next chapter of a novel. " +
	"Respond with a JSON array of objects, each with a \"title\" and a \"description\" field. " +
	"Output only the JSON array."

// GeneratePlotOptions asks the model for possible next-chapter directions
// based on the project's current state.
//
// The model's reply is parsed strictly as a JSON array; on failure one repair
// heuristic is applied (strip wrapping code fences, extract the first array
// literal). If parsing still fails the generation is retried from scratch up
// to the configured retry count, after which the fixed default options are
// returned — a malformed model reply never fails the operation. Transport
// errors from the model do propagate. Without a configured LLM provider the
// default options are returned directly.
func (a *Assembler) GeneratePlotOptions(ctx context.Context, projectID string) ([]PlotOption, error) {
	if a.llm == nil {
		observe.Logger(ctx).Debug("no LLM provider configured, serving default plot options",
			slog.String("project_id", projectID),
		)
		result := make([]PlotOption, len(defaultPlotOptions))
		copy(result, defaultPlotOptions)
		return result, nil
	}

	project, err := a.stories.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("generate plot options: %w", err)
	}
	chapters, err := a.stories.ListChapters(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("generate plot options: list chapters: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Novel: %s", project.Title)
	if project.Genre != "" {
		fmt.Fprintf(&sb, " (%s)", project.Genre)
	}
	if project.PlotOutline != "" {
		sb.WriteString("\nPlot outline: " + project.PlotOutline)
	}
	if len(chapters) > 0 {
		last := chapters[len(chapters)-1]
		sb.WriteString("\nMost recent chapter:\n" + tailTruncate(last.Content, a.recentTailChars))
	}
	sb.WriteString("\n\nPropose 3 distinct directions for the next chapter.")

	req := llm.CompletionRequest{
		SystemPrompt: plotOptionsSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
	}

	attempts := 1 + a.parseRetries
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		resp, err := a.llm.Complete(ctx, req)
		a.metrics.RecordLLMDuration(ctx, time.Since(start).Seconds(), "plot_options")
		if err != nil {
			a.metrics.RecordProviderError(ctx, a.llm.ModelID(), "plot_options")
			return nil, fmt.Errorf("generate plot options: %w", err)
		}

		options, err := parsePlotOptions(resp.Content)
		if err == nil {
			return options, nil
		}
		observe.Logger(ctx).Warn("plot options reply failed to parse",
			slog.String("project_id", projectID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	observe.Logger(ctx).Warn("falling back to default plot options",
		slog.String("project_id", projectID),
	)
	result := make([]PlotOption, len(defaultPlotOptions))
	copy(result, defaultPlotOptions)
	return result, nil
}

// parsePlotOptions parses a model reply into plot options: one strict parse,
// then one repair pass, nothing more speculative than that.
func parsePlotOptions(content string) ([]PlotOption, error) {
	var options []PlotOption
	if err := json.Unmarshal([]byte(content), &options); err == nil {
		return validOptions(options)
	}

	repaired := extractArrayLiteral(stripCodeFences(content))
	if repaired == "" {
		return nil, fmt.Errorf("no JSON array found in reply")
	}
	if err := json.Unmarshal([]byte(repaired), &options); err != nil {
		return nil, fmt.Errorf("parse repaired reply: %w", err)
	}
	return validOptions(options)
}

func validOptions(options []PlotOption) ([]PlotOption, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("empty options array")
	}
	for _, o := range options {
		if strings.TrimSpace(o.Title) == "" {
			return nil, fmt.Errorf("option with empty title")
		}
	}
	return options, nil
}

// stripCodeFences removes a wrapping Markdown code fence, with or without a
// language tag.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractArrayLiteral returns the first balanced JSON array literal in s, or
// the empty string when none exists. Brackets inside string literals are
// ignored.
func extractArrayLiteral(s string) string {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
