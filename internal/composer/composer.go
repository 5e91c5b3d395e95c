// Package composer assembles bounded generation prompts from a project's
// layered memory and drives post-generation enrichment.
//
// The memory layers are combined as follows: older chapters appear as
// summaries, the most recent chapters appear verbatim (tail-truncated), and
// arbitrary older passages are pulled in via embedding retrieval against the
// user's instruction. The assembled prompt is returned as a string; calling
// the generation model with it is the caller's responsibility, which keeps
// prompt assembly pure and testable.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/fabula/internal/observe"
	"github.com/MrWong99/fabula/internal/retrieval"
	"github.com/MrWong99/fabula/internal/story"
	"github.com/MrWong99/fabula/pkg/memory"
	"github.com/MrWong99/fabula/pkg/provider/embeddings"
	"github.com/MrWong99/fabula/pkg/provider/llm"
)

// Tunable defaults.
const (
	// DefaultRecentChapterCount is how many trailing chapters are included
	// verbatim rather than as summaries.
	DefaultRecentChapterCount = 2

	// DefaultRetrievalCount is the top-k for instruction-driven retrieval.
	DefaultRetrievalCount = 5

	// DefaultRetrievalThreshold filters retrieval hits below this cosine
	// similarity.
	DefaultRetrievalThreshold = 0.3

	// DefaultRecentTailChars is the rune budget per verbatim recent chapter;
	// longer chapters keep their tail, which sits closest to the next chapter.
	DefaultRecentTailChars = 3000

	// DefaultBriefChars is the rune budget of the mechanical brief used for
	// chapters that have no stored summary yet.
	DefaultBriefChars = 200

	// DefaultQueryMaxChars caps the rune count of text submitted to the
	// embedding provider for a retrieval query.
	DefaultQueryMaxChars = 2000
)

// ErrRetrievalUnavailable is returned by [Assembler.SearchRelevant] when no
// embeddings provider is configured.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable: no embeddings provider configured")

// Assembler builds generation prompts and aggregates project statistics. It
// never mutates stories except through enrichment (see enrich.go).
//
// The embedder and llm providers may be nil when the deployment runs without
// them; the affected features (retrieval, summarisation, plot options)
// degrade instead of failing.
type Assembler struct {
	stories  story.Store
	vectors  memory.VectorStore
	embedder embeddings.Provider
	llm      llm.Provider
	indexer  *retrieval.Indexer
	metrics  *observe.Metrics

	defaultMode WritingMode

	recentChapterCount int
	retrievalCount     int
	retrievalThreshold float64
	recentTailChars    int
	briefChars         int
	queryMaxChars      int
	summaryMinChars    int
	summaryInputMax    int
	parseRetries       int
}

// Option is a functional option for [New].
type Option func(*Assembler)

// WithRecentChapterCount sets how many trailing chapters are kept verbatim.
// Defaults to 2.
func WithRecentChapterCount(n int) Option {
	return func(a *Assembler) { a.recentChapterCount = n }
}

// WithRetrievalCount sets the top-k for instruction-driven retrieval.
// Defaults to 5.
func WithRetrievalCount(n int) Option {
	return func(a *Assembler) { a.retrievalCount = n }
}

// WithRetrievalThreshold sets the minimum cosine similarity for retrieval
// hits. Defaults to 0.3.
func WithRetrievalThreshold(t float64) Option {
	return func(a *Assembler) { a.retrievalThreshold = t }
}

// WithRecentTailChars sets the per-chapter rune budget of the verbatim recent
// block. Defaults to 3000.
func WithRecentTailChars(n int) Option {
	return func(a *Assembler) { a.recentTailChars = n }
}

// WithBriefChars sets the rune budget of the mechanical brief for chapters
// without a stored summary. Defaults to 200.
func WithBriefChars(n int) Option {
	return func(a *Assembler) { a.briefChars = n }
}

// WithQueryMaxChars caps retrieval query text submitted for embedding.
// Defaults to 2000.
func WithQueryMaxChars(n int) Option {
	return func(a *Assembler) { a.queryMaxChars = n }
}

// WithSummaryMinChars sets the content length below which no summary is
// requested during enrichment. Defaults to 300.
func WithSummaryMinChars(n int) Option {
	return func(a *Assembler) { a.summaryMinChars = n }
}

// WithSummaryInputMax caps the rune count of chapter content submitted for
// summarisation; longer content is elided in the middle. Defaults to 8000.
func WithSummaryInputMax(n int) Option {
	return func(a *Assembler) { a.summaryInputMax = n }
}

// WithParseRetries sets how many fresh generation attempts follow a
// structured-output parse failure before falling back to defaults.
// Defaults to 1.
func WithParseRetries(n int) Option {
	return func(a *Assembler) { a.parseRetries = n }
}

// WithDefaultMode sets the writing mode used when a request does not name
// one. Unknown values normalise to [ModeBalanced].
func WithDefaultMode(m WritingMode) Option {
	return func(a *Assembler) { a.defaultMode = m.Normalize() }
}

// WithMetrics overrides the metrics sink, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// New creates an [Assembler] with sensible defaults. Apply [Option] values to
// override them.
func New(stories story.Store, vectors memory.VectorStore, embedder embeddings.Provider, llmProvider llm.Provider, indexer *retrieval.Indexer, opts ...Option) *Assembler {
	a := &Assembler{
		stories:  stories,
		vectors:  vectors,
		embedder: embedder,
		llm:      llmProvider,
		indexer:  indexer,

		defaultMode: ModeBalanced,

		recentChapterCount: DefaultRecentChapterCount,
		retrievalCount:     DefaultRetrievalCount,
		retrievalThreshold: DefaultRetrievalThreshold,
		recentTailChars:    DefaultRecentTailChars,
		briefChars:         DefaultBriefChars,
		queryMaxChars:      DefaultQueryMaxChars,
		summaryMinChars:    DefaultSummaryMinChars,
		summaryInputMax:    DefaultSummaryInputMax,
		parseRetries:       DefaultParseRetries,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// BuildPrompt assembles the generation prompt for the next chapter of a
// project.
//
// The prompt concatenates, in fixed order: role framing, story settings,
// characters, summaries of older chapters, retrieved passages (omitted when
// empty), recent chapters verbatim, the user's instruction, the writing-mode
// instruction, fixed structural requirements, and a closing line naming the
// chapter to produce.
//
// Retrieval runs only when an embeddings provider is configured, an
// instruction is supplied, and at least one chapter exists; retrieval
// failures are logged and degrade to an empty retrieved block. An empty mode
// falls back to the assembler's default mode. A missing project is the only
// hard error.
func (a *Assembler) BuildPrompt(ctx context.Context, projectID, userInstruction string, nextChapterNumber int, mode WritingMode) (string, error) {
	ctx, span := observe.StartSpan(ctx, "composer.build_prompt")
	defer span.End()
	start := time.Now()
	defer func() {
		a.metrics.PromptAssemblyDuration.Record(ctx, time.Since(start).Seconds())
	}()

	project, err := a.stories.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	characters, err := a.stories.ListCharacters(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("build prompt: list characters: %w", err)
	}
	chapters, err := a.stories.ListChapters(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("build prompt: list chapters: %w", err)
	}

	if mode == "" {
		mode = a.defaultMode
	}

	var retrieved []memory.SearchResult
	if a.embedder != nil && strings.TrimSpace(userInstruction) != "" && len(chapters) > 0 {
		retrieved, err = a.retrieve(ctx, projectID, userInstruction, a.retrievalCount)
		if err != nil {
			// Retrieval is an enhancement, never a hard dependency.
			observe.Logger(ctx).Warn("retrieval failed, continuing without retrieved passages",
				slog.String("project_id", projectID),
				slog.String("error", err.Error()),
			)
			retrieved = nil
		}
		a.metrics.RetrievedResults.Add(ctx, int64(len(retrieved)))
	}

	prompt := formatPrompt(promptInput{
		Project:           project,
		Characters:        characters,
		Chapters:          chapters,
		Retrieved:         retrieved,
		Instruction:       strings.TrimSpace(userInstruction),
		NextChapterNumber: nextChapterNumber,
		Mode:              mode,
		RecentCount:       a.recentChapterCount,
		RecentTailChars:   a.recentTailChars,
		BriefChars:        a.briefChars,
	})
	return prompt, nil
}

// SearchRelevant runs an embedding retrieval over a project's records for an
// arbitrary query. Unlike the retrieval inside [Assembler.BuildPrompt],
// errors are surfaced: the caller explicitly asked for search results.
// A non-positive topK falls back to the assembler's retrieval count.
func (a *Assembler) SearchRelevant(ctx context.Context, projectID, queryText string, topK int) ([]memory.SearchResult, error) {
	if _, err := a.stories.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("search relevant: %w", err)
	}
	if topK <= 0 {
		topK = a.retrievalCount
	}
	results, err := a.retrieve(ctx, projectID, queryText, topK)
	if err != nil {
		return nil, fmt.Errorf("search relevant: %w", err)
	}
	return results, nil
}

// Stats aggregates a project's memory state. Pure aggregation, no side
// effects.
type Stats struct {
	// ChapterCount is the number of chapters in the project.
	ChapterCount int

	// EmbeddingCount is the number of embedding records indexed for the
	// project.
	EmbeddingCount int

	// TotalChars is the total rune count of all chapter content, a proxy for
	// manuscript length.
	TotalChars int

	// SummaryCount is how many chapters have a non-empty summary.
	SummaryCount int
}

// GetStats returns aggregate statistics for a project.
func (a *Assembler) GetStats(ctx context.Context, projectID string) (Stats, error) {
	if _, err := a.stories.GetProject(ctx, projectID); err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	chapters, err := a.stories.ListChapters(ctx, projectID)
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: list chapters: %w", err)
	}
	embeddingCount, err := a.vectors.CountByProject(ctx, projectID)
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: count embeddings: %w", err)
	}

	st := Stats{
		ChapterCount:   len(chapters),
		EmbeddingCount: embeddingCount,
	}
	for _, ch := range chapters {
		st.TotalChars += len([]rune(ch.Content))
		if ch.Summary != "" {
			st.SummaryCount++
		}
	}
	return st, nil
}

// retrieve embeds the query and ranks the project's embedding records by
// cosine similarity.
func (a *Assembler) retrieve(ctx context.Context, projectID, query string, topK int) ([]memory.SearchResult, error) {
	if a.embedder == nil {
		return nil, ErrRetrievalUnavailable
	}

	start := time.Now()
	defer func() {
		a.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds())
	}()

	queryVec, err := a.embedder.Embed(ctx, truncateRunes(query, a.queryMaxChars))
	if err != nil {
		a.metrics.RecordEmbeddingRequest(ctx, a.embedder.ModelID(), "error")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	a.metrics.RecordEmbeddingRequest(ctx, a.embedder.ModelID(), "ok")

	candidates, err := a.vectors.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project embeddings: %w", err)
	}
	return memory.Search(queryVec, candidates, topK, a.retrievalThreshold), nil
}

// truncateRunes returns s cut to at most max runes.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
