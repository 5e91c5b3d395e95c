package story

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when creating an entity whose ID is already taken.
var ErrDuplicateID = errors.New("duplicate id")

// ProjectPatch is a partial update for a [Project]. Nil fields are left
// unchanged.
type ProjectPatch struct {
	Title        *string
	Genre        *string
	WorldSetting *string
	PlotOutline  *string
}

// CharacterPatch is a partial update for a [Character]. Nil fields are left
// unchanged.
type CharacterPatch struct {
	Name          *string
	Personality   *string
	Background    *string
	Relationships *string
}

// ChapterPatch is a partial update for a [Chapter]. Nil fields are left
// unchanged.
//
// Patching Content without also patching Summary clears the stored summary:
// a summary derived from old content must never describe new content.
type ChapterPatch struct {
	Title   *string
	Content *string
	Summary *string
	Prompt  *string
}

// Store persists the narrative domain. Implementations must be safe for
// concurrent use.
//
// Deleting a project cascades to its characters and chapters. Lookups of
// missing entities return [ErrNotFound]; creating with a taken ID returns
// [ErrDuplicateID]. List operations return empty non-nil slices when nothing
// matches.
type Store interface {
	// CreateProject stores a new project. ID and CreatedAt must be set by the
	// caller; UpdatedAt is set to CreatedAt if zero.
	CreateProject(ctx context.Context, p Project) error
	// GetProject returns the project with the given ID.
	GetProject(ctx context.Context, id string) (Project, error)
	// ListProjects returns all projects ordered by creation time.
	ListProjects(ctx context.Context) ([]Project, error)
	// UpdateProject applies the patch and bumps UpdatedAt. It returns the
	// updated project.
	UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error)
	// DeleteProject removes the project and all of its characters and
	// chapters.
	DeleteProject(ctx context.Context, id string) error

	// CreateCharacter stores a new character under its project.
	CreateCharacter(ctx context.Context, c Character) error
	// GetCharacter returns the character with the given ID.
	GetCharacter(ctx context.Context, id string) (Character, error)
	// ListCharacters returns the project's cast in creation order.
	ListCharacters(ctx context.Context, projectID string) ([]Character, error)
	// UpdateCharacter applies the patch and returns the updated character.
	UpdateCharacter(ctx context.Context, id string, patch CharacterPatch) (Character, error)
	// DeleteCharacter removes a single character.
	DeleteCharacter(ctx context.Context, id string) error

	// CreateChapter stores a new chapter. When ch.Number is zero the store
	// assigns the next number in the project (highest existing number plus
	// one, starting at 1).
	CreateChapter(ctx context.Context, ch Chapter) (Chapter, error)
	// GetChapter returns the chapter with the given ID.
	GetChapter(ctx context.Context, id string) (Chapter, error)
	// ListChapters returns the project's chapters ordered by Number ascending.
	ListChapters(ctx context.Context, projectID string) ([]Chapter, error)
	// UpdateChapter applies the patch and returns the updated chapter. See
	// [ChapterPatch] for the summary-clearing rule.
	UpdateChapter(ctx context.Context, id string, patch ChapterPatch) (Chapter, error)
	// DeleteChapter removes a single chapter. Numbers of other chapters are
	// not renumbered.
	DeleteChapter(ctx context.Context, id string) error
}
