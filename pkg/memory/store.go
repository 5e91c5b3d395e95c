// Package memory defines the layered-memory building blocks used by the Fabula
// composer.
//
// The layering is organised by increasing abstraction:
//
//   - Recent chapters are injected verbatim into the prompt (handled by the
//     composer itself; no storage involved).
//   - Older chapters are represented by stored summaries on the chapter rows.
//   - Arbitrary history is reachable via embedding retrieval over
//     [EmbeddingRecord] values held in a [VectorStore].
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …) without depending on
// fabula internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// EmbeddingRecord is one embedded chunk of chapter content. Records are
// derived, disposable data — fully reconstructible from the owning chapter's
// content, and deleted and regenerated whenever that chapter is deleted or
// rewritten.
type EmbeddingRecord struct {
	// ID is the unique identifier for this record (a UUID).
	ID string

	// ProjectID is the project this record belongs to.
	ProjectID string

	// ChapterID is the chapter whose content produced this record. Must
	// reference a live chapter; deleting a chapter deletes all its records.
	ChapterID string

	// ParagraphIndex is the zero-based position of this chunk within the
	// chapter's chunk sequence.
	ParagraphIndex int

	// Text is the raw chunk text that was embedded.
	Text string

	// Vector is the embedding of Text. Dimension must match the store
	// configuration (e.g., 1536 for OpenAI text-embedding-3-small).
	Vector []float32

	// CreatedAt is when this record was produced.
	CreatedAt time.Time
}

// SearchResult pairs a retrieved record with its cosine similarity to the
// query vector. Higher Similarity values indicate closer semantic matches.
type SearchResult struct {
	// Record is the retrieved chunk.
	Record EmbeddingRecord

	// Similarity is the cosine similarity to the query vector, in [-1, 1].
	Similarity float64
}

// VectorStore persists [EmbeddingRecord] values keyed by project and chapter.
//
// The store performs no deduplication — duplicate (ChapterID, ParagraphIndex)
// pairs across re-indexing are prevented by the indexer issuing
// delete-before-insert. Deletes of non-existent records are not errors.
// List operations return empty (non-nil) slices when nothing matches.
//
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Put stores a record. Records with a duplicate ID are replaced (upsert).
	Put(ctx context.Context, rec EmbeddingRecord) error

	// ListByProject returns all records belonging to the given project, in
	// unspecified order.
	ListByProject(ctx context.Context, projectID string) ([]EmbeddingRecord, error)

	// ListByChapter returns all records belonging to the given chapter,
	// ordered by ParagraphIndex ascending.
	ListByChapter(ctx context.Context, chapterID string) ([]EmbeddingRecord, error)

	// DeleteByChapter removes all records belonging to the given chapter.
	DeleteByChapter(ctx context.Context, chapterID string) error

	// DeleteByProject removes all records belonging to the given project.
	DeleteByProject(ctx context.Context, projectID string) error

	// CountByProject returns the number of records belonging to the given
	// project without materialising the vectors.
	CountByProject(ctx context.Context, projectID string) (int, error)
}
