package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/fabula/pkg/memory"
)

// Compile-time interface check.
var _ memory.VectorStore = (*Store)(nil)

// Store is the pgvector-backed [memory.VectorStore]. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the embeddings table and extension exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.EmbeddingRecord.Vector] values.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vector store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vector store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vector store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vector store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Put implements [memory.VectorStore.Put]. Records with a duplicate ID are
// completely replaced.
func (s *Store) Put(ctx context.Context, rec memory.EmbeddingRecord) error {
	const q = `
		INSERT INTO embedding_records
		    (id, project_id, chapter_id, paragraph_index, text, vector, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    project_id      = EXCLUDED.project_id,
		    chapter_id      = EXCLUDED.chapter_id,
		    paragraph_index = EXCLUDED.paragraph_index,
		    text            = EXCLUDED.text,
		    vector          = EXCLUDED.vector,
		    created_at      = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.ProjectID,
		rec.ChapterID,
		rec.ParagraphIndex,
		rec.Text,
		pgvector.NewVector(rec.Vector),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("vector store: put: %w", err)
	}
	return nil
}

// ListByProject implements [memory.VectorStore.ListByProject].
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]memory.EmbeddingRecord, error) {
	const q = `
		SELECT id, project_id, chapter_id, paragraph_index, text, vector, created_at
		FROM   embedding_records
		WHERE  project_id = $1`

	return s.list(ctx, q, projectID)
}

// ListByChapter implements [memory.VectorStore.ListByChapter].
func (s *Store) ListByChapter(ctx context.Context, chapterID string) ([]memory.EmbeddingRecord, error) {
	const q = `
		SELECT id, project_id, chapter_id, paragraph_index, text, vector, created_at
		FROM   embedding_records
		WHERE  chapter_id = $1
		ORDER  BY paragraph_index`

	return s.list(ctx, q, chapterID)
}

// DeleteByChapter implements [memory.VectorStore.DeleteByChapter].
func (s *Store) DeleteByChapter(ctx context.Context, chapterID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM embedding_records WHERE chapter_id = $1`, chapterID); err != nil {
		return fmt.Errorf("vector store: delete by chapter: %w", err)
	}
	return nil
}

// DeleteByProject implements [memory.VectorStore.DeleteByProject].
func (s *Store) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM embedding_records WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("vector store: delete by project: %w", err)
	}
	return nil
}

// CountByProject implements [memory.VectorStore.CountByProject].
func (s *Store) CountByProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM embedding_records WHERE project_id = $1`, projectID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vector store: count by project: %w", err)
	}
	return n, nil
}

// list runs a record query and scans the rows into EmbeddingRecord values.
func (s *Store) list(ctx context.Context, q string, args ...any) ([]memory.EmbeddingRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector store: query: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.EmbeddingRecord, error) {
		var (
			rec memory.EmbeddingRecord
			vec pgvector.Vector
		)
		if err := row.Scan(
			&rec.ID,
			&rec.ProjectID,
			&rec.ChapterID,
			&rec.ParagraphIndex,
			&rec.Text,
			&vec,
			&rec.CreatedAt,
		); err != nil {
			return memory.EmbeddingRecord{}, err
		}
		rec.Vector = vec.Slice()
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	if records == nil {
		records = []memory.EmbeddingRecord{}
	}
	return records, nil
}
