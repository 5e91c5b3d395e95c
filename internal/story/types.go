// Package story defines the narrative domain entities of Fabula — projects,
// characters, and chapters — and the Store interface that persists them.
package story

import "time"

// Project is a single novel project. It owns its characters and chapters;
// neither ever outlives the project.
type Project struct {
	// ID is the unique, stable identifier for this project (a UUID).
	ID string

	// Title is the working title of the novel.
	Title string

	// Genre is a free-text genre label (e.g., "Fantasy", "Hard SF").
	Genre string

	// WorldSetting is a free-text description of the story world.
	WorldSetting string

	// PlotOutline is a free-text outline of the overall plot.
	PlotOutline string

	// CreatedAt is when the project was created.
	CreatedAt time.Time

	// UpdatedAt is bumped on every save of the project or one of its children.
	UpdatedAt time.Time
}

// Character is a member of a project's cast. Characters reference their
// project by ID only; no back-pointer is needed.
type Character struct {
	// ID is the unique identifier for this character (a UUID).
	ID string

	// ProjectID is the owning project.
	ProjectID string

	// Name is the character's display name.
	Name string

	// Personality is a free-text personality description.
	Personality string

	// Background is a free-text backstory.
	Background string

	// Relationships describes this character's ties to the rest of the cast.
	Relationships string
}

// Chapter is one chapter of a project's manuscript.
type Chapter struct {
	// ID is the unique identifier for this chapter (a UUID).
	ID string

	// ProjectID is the owning project.
	ProjectID string

	// Number is the 1-based chapter number, unique within the project.
	// Numbers are contiguous by convention but not enforced — deleting a
	// middle chapter leaves a gap.
	Number int

	// Title is the chapter title.
	Title string

	// Content is the full chapter text.
	Content string

	// Summary is a condensed representation of Content. Empty until derived;
	// rewriting Content clears it so it is re-derived. Never partially
	// written: it is either empty or a complete condensed text.
	Summary string

	// Prompt is the instruction that produced this chapter, kept for
	// provenance and regeneration.
	Prompt string

	// CreatedAt is when the chapter was created.
	CreatedAt time.Time
}
