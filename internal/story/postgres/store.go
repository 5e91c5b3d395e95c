// Package postgres provides a PostgreSQL-backed implementation of
// [story.Store] using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/fabula/internal/story"
)

// Compile-time interface check.
var _ story.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS projects (
    id            TEXT         PRIMARY KEY,
    title         TEXT         NOT NULL,
    genre         TEXT         NOT NULL DEFAULT '',
    world_setting TEXT         NOT NULL DEFAULT '',
    plot_outline  TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS characters (
    id            TEXT  PRIMARY KEY,
    project_id    TEXT  NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
    name          TEXT  NOT NULL,
    personality   TEXT  NOT NULL DEFAULT '',
    background    TEXT  NOT NULL DEFAULT '',
    relationships TEXT  NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_characters_project_id ON characters (project_id);

CREATE TABLE IF NOT EXISTS chapters (
    id         TEXT         PRIMARY KEY,
    project_id TEXT         NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
    number     INTEGER      NOT NULL,
    title      TEXT         NOT NULL DEFAULT '',
    content    TEXT         NOT NULL DEFAULT '',
    summary    TEXT         NOT NULL DEFAULT '',
    prompt     TEXT         NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (project_id, number)
);

CREATE INDEX IF NOT EXISTS idx_chapters_project_id ON chapters (project_id);
`

// Store is the PostgreSQL-backed [story.Store]. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the database at dsn and ensures the
// schema exists. The migration is idempotent.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("story store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("story store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("story store: migrate: %w", err)
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

// CreateProject implements [story.Store.CreateProject].
func (s *Store) CreateProject(ctx context.Context, p story.Project) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, title, genre, world_setting, plot_outline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Title, p.Genre, p.WorldSetting, p.PlotOutline, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %q: %w", p.ID, story.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("story store: create project: %w", err)
	}
	return nil
}

// GetProject implements [story.Store.GetProject].
func (s *Store) GetProject(ctx context.Context, id string) (story.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, genre, world_setting, plot_outline, created_at, updated_at
		FROM   projects WHERE id = $1`, id)

	var p story.Project
	err := row.Scan(&p.ID, &p.Title, &p.Genre, &p.WorldSetting, &p.PlotOutline, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Project{}, fmt.Errorf("project %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return story.Project{}, fmt.Errorf("story store: get project: %w", err)
	}
	return p, nil
}

// ListProjects implements [story.Store.ListProjects].
func (s *Store) ListProjects(ctx context.Context) ([]story.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, genre, world_setting, plot_outline, created_at, updated_at
		FROM   projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("story store: list projects: %w", err)
	}

	projects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (story.Project, error) {
		var p story.Project
		err := row.Scan(&p.ID, &p.Title, &p.Genre, &p.WorldSetting, &p.PlotOutline, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("story store: scan projects: %w", err)
	}
	if projects == nil {
		projects = []story.Project{}
	}
	return projects, nil
}

// UpdateProject implements [story.Store.UpdateProject].
func (s *Store) UpdateProject(ctx context.Context, id string, patch story.ProjectPatch) (story.Project, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE projects SET
		    title         = COALESCE($2, title),
		    genre         = COALESCE($3, genre),
		    world_setting = COALESCE($4, world_setting),
		    plot_outline  = COALESCE($5, plot_outline),
		    updated_at    = now()
		WHERE id = $1
		RETURNING id, title, genre, world_setting, plot_outline, created_at, updated_at`,
		id, patch.Title, patch.Genre, patch.WorldSetting, patch.PlotOutline)

	var p story.Project
	err := row.Scan(&p.ID, &p.Title, &p.Genre, &p.WorldSetting, &p.PlotOutline, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Project{}, fmt.Errorf("project %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return story.Project{}, fmt.Errorf("story store: update project: %w", err)
	}
	return p, nil
}

// DeleteProject implements [story.Store.DeleteProject]. Characters and
// chapters cascade via foreign keys.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("story store: delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %q: %w", id, story.ErrNotFound)
	}
	return nil
}

// CreateCharacter implements [story.Store.CreateCharacter]. The parent
// project's updated_at is bumped in the same transaction.
func (s *Store) CreateCharacter(ctx context.Context, c story.Character) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO characters (id, project_id, name, personality, background, relationships)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.ProjectID, c.Name, c.Personality, c.Background, c.Relationships,
		)
		if err != nil {
			return err
		}
		return touchProject(ctx, tx, c.ProjectID)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("character %q: %w", c.ID, story.ErrDuplicateID)
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("project %q: %w", c.ProjectID, story.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("story store: create character: %w", err)
	}
	return nil
}

// GetCharacter implements [story.Store.GetCharacter].
func (s *Store) GetCharacter(ctx context.Context, id string) (story.Character, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, name, personality, background, relationships
		FROM   characters WHERE id = $1`, id)

	var c story.Character
	err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Personality, &c.Background, &c.Relationships)
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Character{}, fmt.Errorf("character %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return story.Character{}, fmt.Errorf("story store: get character: %w", err)
	}
	return c, nil
}

// ListCharacters implements [story.Store.ListCharacters].
func (s *Store) ListCharacters(ctx context.Context, projectID string) ([]story.Character, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, personality, background, relationships
		FROM   characters WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("story store: list characters: %w", err)
	}

	characters, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (story.Character, error) {
		var c story.Character
		err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Personality, &c.Background, &c.Relationships)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("story store: scan characters: %w", err)
	}
	if characters == nil {
		characters = []story.Character{}
	}
	return characters, nil
}

// UpdateCharacter implements [story.Store.UpdateCharacter]. The parent
// project's updated_at is bumped in the same transaction.
func (s *Store) UpdateCharacter(ctx context.Context, id string, patch story.CharacterPatch) (story.Character, error) {
	var c story.Character
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE characters SET
			    name          = COALESCE($2, name),
			    personality   = COALESCE($3, personality),
			    background    = COALESCE($4, background),
			    relationships = COALESCE($5, relationships)
			WHERE id = $1
			RETURNING id, project_id, name, personality, background, relationships`,
			id, patch.Name, patch.Personality, patch.Background, patch.Relationships)

		if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Personality, &c.Background, &c.Relationships); err != nil {
			return err
		}
		return touchProject(ctx, tx, c.ProjectID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Character{}, fmt.Errorf("character %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return story.Character{}, fmt.Errorf("story store: update character: %w", err)
	}
	return c, nil
}

// DeleteCharacter implements [story.Store.DeleteCharacter]. The parent
// project's updated_at is bumped in the same transaction.
func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var projectID string
		if err := tx.QueryRow(ctx, `
			DELETE FROM characters WHERE id = $1 RETURNING project_id`, id).Scan(&projectID); err != nil {
			return err
		}
		return touchProject(ctx, tx, projectID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("character %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("story store: delete character: %w", err)
	}
	return nil
}

// CreateChapter implements [story.Store.CreateChapter]. A zero Number is
// assigned inside the insert so concurrent creates in the same project cannot
// race past the (project_id, number) unique constraint silently. The parent
// project's updated_at is bumped in the same transaction.
func (s *Store) CreateChapter(ctx context.Context, ch story.Chapter) (story.Chapter, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO chapters (id, project_id, number, title, content, summary, prompt, created_at)
			VALUES ($1, $2,
			        CASE WHEN $3 > 0 THEN $3
			             ELSE (SELECT COALESCE(MAX(number), 0) + 1 FROM chapters WHERE project_id = $2)
			        END,
			        $4, $5, $6, $7, $8)
			RETURNING number`,
			ch.ID, ch.ProjectID, ch.Number, ch.Title, ch.Content, ch.Summary, ch.Prompt, ch.CreatedAt)

		if err := row.Scan(&ch.Number); err != nil {
			return err
		}
		return touchProject(ctx, tx, ch.ProjectID)
	})
	if isUniqueViolation(err) {
		return story.Chapter{}, fmt.Errorf("chapter %q: %w", ch.ID, story.ErrDuplicateID)
	}
	if isForeignKeyViolation(err) {
		return story.Chapter{}, fmt.Errorf("project %q: %w", ch.ProjectID, story.ErrNotFound)
	}
	if err != nil {
		return story.Chapter{}, fmt.Errorf("story store: create chapter: %w", err)
	}
	return ch, nil
}

// GetChapter implements [story.Store.GetChapter].
func (s *Store) GetChapter(ctx context.Context, id string) (story.Chapter, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, number, title, content, summary, prompt, created_at
		FROM   chapters WHERE id = $1`, id)

	ch, err := scanChapter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Chapter{}, fmt.Errorf("chapter %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return story.Chapter{}, fmt.Errorf("story store: get chapter: %w", err)
	}
	return ch, nil
}

// ListChapters implements [story.Store.ListChapters].
func (s *Store) ListChapters(ctx context.Context, projectID string) ([]story.Chapter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, number, title, content, summary, prompt, created_at
		FROM   chapters WHERE project_id = $1 ORDER BY number`, projectID)
	if err != nil {
		return nil, fmt.Errorf("story store: list chapters: %w", err)
	}

	chapters, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (story.Chapter, error) {
		return scanChapter(row)
	})
	if err != nil {
		return nil, fmt.Errorf("story store: scan chapters: %w", err)
	}
	if chapters == nil {
		chapters = []story.Chapter{}
	}
	return chapters, nil
}

// UpdateChapter implements [story.Store.UpdateChapter]. Patching content
// without a summary clears the stored summary. The parent project's
// updated_at is bumped in the same transaction.
func (s *Store) UpdateChapter(ctx context.Context, id string, patch story.ChapterPatch) (story.Chapter, error) {
	summary := patch.Summary
	if patch.Content != nil && patch.Summary == nil {
		empty := ""
		summary = &empty
	}

	var ch story.Chapter
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE chapters SET
			    title   = COALESCE($2, title),
			    content = COALESCE($3, content),
			    summary = COALESCE($4, summary),
			    prompt  = COALESCE($5, prompt)
			WHERE id = $1
			RETURNING id, project_id, number, title, content, summary, prompt, created_at`,
			id, patch.Title, patch.Content, summary, patch.Prompt)

		var err error
		if ch, err = scanChapter(row); err != nil {
			return err
		}
		return touchProject(ctx, tx, ch.ProjectID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return story.Chapter{}, fmt.Errorf("chapter %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return story.Chapter{}, fmt.Errorf("story store: update chapter: %w", err)
	}
	return ch, nil
}

// DeleteChapter implements [story.Store.DeleteChapter]. The parent project's
// updated_at is bumped in the same transaction.
func (s *Store) DeleteChapter(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var projectID string
		if err := tx.QueryRow(ctx, `
			DELETE FROM chapters WHERE id = $1 RETURNING project_id`, id).Scan(&projectID); err != nil {
			return err
		}
		return touchProject(ctx, tx, projectID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("chapter %q: %w", id, story.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("story store: delete chapter: %w", err)
	}
	return nil
}

// touchProject bumps a project's updated_at inside a child-save transaction.
func touchProject(ctx context.Context, tx pgx.Tx, projectID string) error {
	_, err := tx.Exec(ctx, `UPDATE projects SET updated_at = now() WHERE id = $1`, projectID)
	return err
}

func scanChapter(row pgx.Row) (story.Chapter, error) {
	var ch story.Chapter
	err := row.Scan(&ch.ID, &ch.ProjectID, &ch.Number, &ch.Title, &ch.Content, &ch.Summary, &ch.Prompt, &ch.CreatedAt)
	return ch, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
