package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/fabula/internal/observe"
	"github.com/MrWong99/fabula/pkg/memory"
	"github.com/MrWong99/fabula/pkg/provider/embeddings"
)

// Indexer defaults.
const (
	// DefaultEmbedDelay is the pause between successive embedding calls for
	// one chapter, a cooperative nod to external API quotas.
	DefaultEmbedDelay = 200 * time.Millisecond

	// DefaultMaxEmbedChars is the maximum rune count submitted to the
	// embedding provider per chunk.
	DefaultMaxEmbedChars = 2000
)

// IndexerConfig tunes an [Indexer]. Zero values fall back to defaults.
type IndexerConfig struct {
	// Chunk is passed through to [SplitText].
	Chunk ChunkOptions

	// EmbedDelay is the fixed delay between embedding calls.
	EmbedDelay time.Duration

	// MaxEmbedChars caps the rune count of text submitted for embedding.
	// The stored chunk text is never truncated, only the embedding input.
	MaxEmbedChars int

	// Metrics receives instrument updates. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c IndexerConfig) withDefaults() IndexerConfig {
	if c.EmbedDelay <= 0 {
		c.EmbedDelay = DefaultEmbedDelay
	}
	if c.MaxEmbedChars <= 0 {
		c.MaxEmbedChars = DefaultMaxEmbedChars
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Indexer turns chapter content into embedding records: chunk, embed each
// chunk sequentially with a fixed delay, and store the results. Indexing is
// best-effort per chunk — one failed embedding never aborts the rest, so a
// chapter may legitimately end up with partial records. A nil embedder
// disables indexing entirely; [Indexer.IndexChapter] then only clears stale
// records.
type Indexer struct {
	vectors  memory.VectorStore
	embedder embeddings.Provider
	cfg      IndexerConfig
}

// NewIndexer returns an Indexer writing to vectors with embeddings from
// embedder.
func NewIndexer(vectors memory.VectorStore, embedder embeddings.Provider, cfg IndexerConfig) *Indexer {
	return &Indexer{
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
	}
}

// IndexChapter (re)indexes one chapter's content. Existing records for the
// chapter are deleted first so re-indexing is idempotent; the delete always
// precedes any insert. Per-chunk embedding or storage failures are logged and
// skipped. The error return is reserved for the delete step and for context
// cancellation — a partially indexed chapter is a valid outcome, not an
// error.
func (ix *Indexer) IndexChapter(ctx context.Context, projectID, chapterID, content string) error {
	log := observe.Logger(ctx).With(
		slog.String("project_id", projectID),
		slog.String("chapter_id", chapterID),
	)

	if err := ix.vectors.DeleteByChapter(ctx, chapterID); err != nil {
		return fmt.Errorf("index chapter %s: delete existing records: %w", chapterID, err)
	}

	// Without an embedder no new records can be produced; the delete above
	// still clears records that no longer match the chapter's content.
	if ix.embedder == nil {
		log.Debug("no embeddings provider configured, skipping indexing")
		return nil
	}

	chunks := SplitText(content, ix.cfg.Chunk)
	if len(chunks) == 0 {
		log.Debug("nothing to index", slog.Int("content_runes", len([]rune(content))))
		return nil
	}

	stored := 0
	for i, chunk := range chunks {
		if i > 0 {
			if err := sleepCtx(ctx, ix.cfg.EmbedDelay); err != nil {
				return fmt.Errorf("index chapter %s: %w", chapterID, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("index chapter %s: %w", chapterID, err)
		}

		start := time.Now()
		vec, err := ix.embedder.Embed(ctx, truncateRunes(chunk, ix.cfg.MaxEmbedChars))
		ix.cfg.Metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			ix.cfg.Metrics.RecordEmbeddingRequest(ctx, ix.embedder.ModelID(), "error")
			log.Warn("embedding failed, skipping chunk",
				slog.Int("paragraph_index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		ix.cfg.Metrics.RecordEmbeddingRequest(ctx, ix.embedder.ModelID(), "ok")

		rec := memory.EmbeddingRecord{
			ID:             uuid.NewString(),
			ProjectID:      projectID,
			ChapterID:      chapterID,
			ParagraphIndex: i,
			Text:           chunk,
			Vector:         vec,
			CreatedAt:      time.Now(),
		}
		if err := ix.vectors.Put(ctx, rec); err != nil {
			log.Warn("storing embedding record failed, skipping chunk",
				slog.Int("paragraph_index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		stored++
	}

	ix.cfg.Metrics.IndexedChunks.Add(ctx, int64(stored))
	log.Info("chapter indexed",
		slog.Int("chunks", len(chunks)),
		slog.Int("stored", stored),
	)
	return nil
}

// RemoveChapter deletes all embedding records of a chapter.
func (ix *Indexer) RemoveChapter(ctx context.Context, chapterID string) error {
	return ix.vectors.DeleteByChapter(ctx, chapterID)
}

// RemoveProject deletes all embedding records of a project.
func (ix *Indexer) RemoveProject(ctx context.Context, projectID string) error {
	return ix.vectors.DeleteByProject(ctx, projectID)
}

// truncateRunes returns s cut to at most max runes.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
