// Package postgres provides a PostgreSQL-backed implementation of
// [memory.VectorStore] using the pgvector extension.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Put(ctx, rec)
//	records, _ := store.ListByProject(ctx, projectID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlEmbeddings returns the embeddings DDL with the vector dimension
// substituted. The dimension is baked into the column type at schema creation
// time.
func ddlEmbeddings(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embedding_records (
    id               TEXT         PRIMARY KEY,
    project_id       TEXT         NOT NULL,
    chapter_id       TEXT         NOT NULL,
    paragraph_index  INTEGER      NOT NULL DEFAULT 0,
    text             TEXT         NOT NULL,
    vector           vector(%d),
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_embedding_records_project_id
    ON embedding_records (project_id);

CREATE INDEX IF NOT EXISTS idx_embedding_records_chapter_id
    ON embedding_records (chapter_id);
`, embeddingDimensions)
}

// Migrate creates or ensures the embeddings table and pgvector extension
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlEmbeddings(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
