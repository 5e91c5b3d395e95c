package composer

import (
	"fmt"
	"strings"

	"github.com/MrWong99/fabula/internal/story"
	"github.com/MrWong99/fabula/pkg/memory"
)

// Placeholder texts rendered when a prompt section has no content.
const (
	// firstChapterPlaceholder fills the history and recent sections while the
	// project has no earlier chapters to draw on.
	firstChapterPlaceholder = "This will be the first chapter. No story has been written yet."

	// noCharactersPlaceholder fills the character section for an empty roster.
	noCharactersPlaceholder = "No characters defined yet."

	// freeInstructionPlaceholder stands in when the user gave no instruction.
	freeInstructionPlaceholder = "Continue the story in whatever direction feels most natural."
)

// ellipsisMarker prefixes tail-truncated chapter content.
const ellipsisMarker = "…"

// promptInput carries everything [formatPrompt] needs. Chapters must be
// ordered by Number ascending.
type promptInput struct {
	Project           story.Project
	Characters        []story.Character
	Chapters          []story.Chapter
	Retrieved         []memory.SearchResult
	Instruction       string
	NextChapterNumber int
	Mode              WritingMode
	RecentCount       int
	RecentTailChars   int
	BriefChars        int
}

// formatPrompt renders the full generation prompt. It is pure: no I/O, no
// side effects, safe for concurrent use.
func formatPrompt(in promptInput) string {
	older, recent := partitionChapters(in.Chapters, in.RecentCount)

	var sb strings.Builder
	sb.WriteString("You are a novelist continuing a long-form serial work. " +
		"Use everything below to write the next chapter.")

	// ── Story settings ───────────────────────────────────────────────────────
	sb.WriteString("\n\n## Story Settings\n")
	sb.WriteString(formatSettingsSection(in.Project))

	// ── Characters ───────────────────────────────────────────────────────────
	sb.WriteString("\n\n## Characters\n")
	sb.WriteString(formatCharacterSection(in.Characters))

	// ── Story so far (summaries of older chapters) ───────────────────────────
	sb.WriteString("\n\n## Story So Far\n")
	if len(older) == 0 {
		sb.WriteString(firstChapterPlaceholder)
	} else {
		sb.WriteString(formatSummarySection(older, in.BriefChars))
	}

	// ── Retrieved passages (omitted entirely when empty) ─────────────────────
	if len(in.Retrieved) > 0 {
		sb.WriteString("\n\n## Relevant Passages\n")
		sb.WriteString(formatRetrievedSection(in.Retrieved))
	}

	// ── Recent chapters verbatim ─────────────────────────────────────────────
	sb.WriteString("\n\n## Recent Chapters\n")
	if len(recent) == 0 {
		sb.WriteString(firstChapterPlaceholder)
	} else {
		sb.WriteString(formatRecentSection(recent, in.RecentTailChars))
	}

	// ── Instruction ──────────────────────────────────────────────────────────
	sb.WriteString("\n\n## Instruction\n")
	if in.Instruction != "" {
		sb.WriteString(in.Instruction)
	} else {
		sb.WriteString(freeInstructionPlaceholder)
	}

	// ── Writing mode ─────────────────────────────────────────────────────────
	mode := in.Mode.Normalize()
	fmt.Fprintf(&sb, "\n\n## Writing Mode: %s\n%s", mode, mode.Instruction())

	// ── Fixed requirements and closing ───────────────────────────────────────
	sb.WriteString("\n\n## Requirements\n" +
		"- Write 2000 to 3000 characters of chapter prose.\n" +
		"- Write in the same language as the story so far.\n" +
		"- Output only the chapter text, without headings, notes, or commentary.")

	fmt.Fprintf(&sb, "\n\nNow write chapter %d.", in.NextChapterNumber)

	return sb.String()
}

// partitionChapters splits ordered chapters into (older, recent) where recent
// holds at most recentCount trailing chapters.
func partitionChapters(chapters []story.Chapter, recentCount int) (older, recent []story.Chapter) {
	if recentCount < 0 {
		recentCount = 0
	}
	if len(chapters) <= recentCount {
		return nil, chapters
	}
	split := len(chapters) - recentCount
	return chapters[:split], chapters[split:]
}

func formatSettingsSection(p story.Project) string {
	var lines []string
	if p.Title != "" {
		lines = append(lines, "Title: "+p.Title)
	}
	if p.Genre != "" {
		lines = append(lines, "Genre: "+p.Genre)
	}
	if p.WorldSetting != "" {
		lines = append(lines, "World: "+p.WorldSetting)
	}
	if p.PlotOutline != "" {
		lines = append(lines, "Plot outline: "+p.PlotOutline)
	}
	return strings.Join(lines, "\n")
}

func formatCharacterSection(characters []story.Character) string {
	if len(characters) == 0 {
		return noCharactersPlaceholder
	}

	var lines []string
	for _, c := range characters {
		var parts []string
		if c.Personality != "" {
			parts = append(parts, "personality: "+c.Personality)
		}
		if c.Background != "" {
			parts = append(parts, "background: "+c.Background)
		}
		if c.Relationships != "" {
			parts = append(parts, "relationships: "+c.Relationships)
		}
		line := "- " + c.Name
		if len(parts) > 0 {
			line += ": " + strings.Join(parts, "; ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// formatSummarySection renders one line per older chapter, using the stored
// summary or, when none exists yet, a mechanical brief from the start of the
// content.
func formatSummarySection(older []story.Chapter, briefChars int) string {
	var lines []string
	for _, ch := range older {
		text := ch.Summary
		if text == "" {
			text = headBrief(ch.Content, briefChars)
		}
		lines = append(lines, chapterLabel(ch)+": "+text)
	}
	return strings.Join(lines, "\n")
}

func formatRetrievedSection(results []memory.SearchResult) string {
	lines := []string{"Earlier passages related to the instruction, by relevance:"}
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- (%.0f%%) %s", r.Similarity*100, r.Record.Text))
	}
	return strings.Join(lines, "\n")
}

// formatRecentSection renders recent chapters verbatim, keeping the tail of
// over-long content because the chapter ending sits closest to what comes
// next.
func formatRecentSection(recent []story.Chapter, tailChars int) string {
	var blocks []string
	for _, ch := range recent {
		blocks = append(blocks, "### "+chapterLabel(ch)+"\n"+tailTruncate(ch.Content, tailChars))
	}
	return strings.Join(blocks, "\n\n")
}

func chapterLabel(ch story.Chapter) string {
	label := fmt.Sprintf("Chapter %d", ch.Number)
	if ch.Title != "" {
		label += " (" + ch.Title + ")"
	}
	return label
}

// tailTruncate keeps the last max runes of s, prefixed with an ellipsis
// marker when anything was dropped.
func tailTruncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return ellipsisMarker + string(runes[len(runes)-max:])
}

// headBrief keeps the first max runes of s, suffixed with an ellipsis marker
// when anything was dropped.
func headBrief(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + ellipsisMarker
}
