package story

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newProject(id, title string) Project {
	return Project{
		ID:        id,
		Title:     title,
		Genre:     "Fantasy",
		CreatedAt: time.Now(),
	}
}

func TestMemStore_ProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.CreateProject(ctx, newProject("p1", "First")); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := s.CreateProject(ctx, newProject("p1", "Again")); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate create err = %v, want ErrDuplicateID", err)
	}

	got, err := s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Title != "First" {
		t.Errorf("Title = %q, want %q", got.Title, "First")
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not defaulted to CreatedAt")
	}

	newTitle := "Renamed"
	updated, err := s.UpdateProject(ctx, "p1", ProjectPatch{Title: &newTitle})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if updated.Title != "Renamed" || updated.Genre != "Fantasy" {
		t.Errorf("patch applied wrong: %+v", updated)
	}

	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject(missing) err = %v, want ErrNotFound", err)
	}

	if err := s.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := s.GetProject(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("project still present after delete: %v", err)
	}
}

func TestMemStore_DeleteProjectCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.CreateProject(ctx, newProject("p1", "Novel")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCharacter(ctx, Character{ID: "c1", ProjectID: "p1", Name: "Aria"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateChapter(ctx, Chapter{ID: "ch1", ProjectID: "p1", Title: "One"}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := s.GetCharacter(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("character survived project delete: %v", err)
	}
	if _, err := s.GetChapter(ctx, "ch1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("chapter survived project delete: %v", err)
	}
}

func TestMemStore_CharacterRequiresProject(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	err := s.CreateCharacter(ctx, Character{ID: "c1", ProjectID: "nope", Name: "Ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateCharacter without project err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_ListCharactersKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.CreateProject(ctx, newProject("p1", "Novel")); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Aria", "Bren", "Cato"} {
		if err := s.CreateCharacter(ctx, Character{ID: "c-" + name, ProjectID: "p1", Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	cast, err := s.ListCharacters(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cast) != 3 {
		t.Fatalf("got %d characters, want 3", len(cast))
	}
	for i, want := range []string{"Aria", "Bren", "Cato"} {
		if cast[i].Name != want {
			t.Errorf("cast[%d] = %q, want %q", i, cast[i].Name, want)
		}
	}
}

func TestMemStore_ChapterNumbering(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.CreateProject(ctx, newProject("p1", "Novel")); err != nil {
		t.Fatal(err)
	}

	first, err := s.CreateChapter(ctx, Chapter{ID: "ch1", ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Number != 1 {
		t.Errorf("first chapter number = %d, want 1", first.Number)
	}

	second, err := s.CreateChapter(ctx, Chapter{ID: "ch2", ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Number != 2 {
		t.Errorf("second chapter number = %d, want 2", second.Number)
	}

	// Deleting a middle chapter leaves a gap; the next chapter still goes
	// one past the highest surviving number.
	if err := s.DeleteChapter(ctx, "ch1"); err != nil {
		t.Fatal(err)
	}
	third, err := s.CreateChapter(ctx, Chapter{ID: "ch3", ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if third.Number != 3 {
		t.Errorf("number after gap = %d, want 3", third.Number)
	}

	chapters, err := s.ListChapters(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chapters) != 2 || chapters[0].Number != 2 || chapters[1].Number != 3 {
		t.Errorf("ListChapters order wrong: %+v", chapters)
	}
}

func TestMemStore_UpdateChapterClearsStaleSummary(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if err := s.CreateProject(ctx, newProject("p1", "Novel")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateChapter(ctx, Chapter{
		ID: "ch1", ProjectID: "p1", Content: "old text", Summary: "old summary",
	}); err != nil {
		t.Fatal(err)
	}

	newContent := "rewritten text"
	got, err := s.UpdateChapter(ctx, "ch1", ChapterPatch{Content: &newContent})
	if err != nil {
		t.Fatalf("UpdateChapter: %v", err)
	}
	if got.Summary != "" {
		t.Errorf("Summary = %q after content rewrite, want cleared", got.Summary)
	}

	// Patching content and summary together keeps the provided summary.
	content2, summary2 := "more text", "fresh summary"
	got, err = s.UpdateChapter(ctx, "ch1", ChapterPatch{Content: &content2, Summary: &summary2})
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "fresh summary" {
		t.Errorf("Summary = %q, want %q", got.Summary, "fresh summary")
	}

	// Patching only the title leaves the summary alone.
	title := "Retitled"
	got, err = s.UpdateChapter(ctx, "ch1", ChapterPatch{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "fresh summary" {
		t.Errorf("Summary = %q after title patch, want untouched", got.Summary)
	}
}

func TestMemStore_EmptyListsAreNonNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	projects, err := s.ListProjects(ctx)
	if err != nil || projects == nil {
		t.Errorf("ListProjects = (%v, %v), want empty non-nil", projects, err)
	}
	characters, err := s.ListCharacters(ctx, "missing")
	if err != nil || characters == nil {
		t.Errorf("ListCharacters = (%v, %v), want empty non-nil", characters, err)
	}
	chapters, err := s.ListChapters(ctx, "missing")
	if err != nil || chapters == nil {
		t.Errorf("ListChapters = (%v, %v), want empty non-nil", chapters, err)
	}
}

func TestMemStore_ChildSavesBumpProjectUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	p := newProject("p1", "Chronicle")
	p.CreatedAt = time.Now().Add(-time.Hour)
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}

	updatedAt := func() time.Time {
		t.Helper()
		got, err := s.GetProject(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		return got.UpdatedAt
	}
	prev := updatedAt()

	steps := []struct {
		name string
		op   func() error
	}{
		{"create character", func() error {
			return s.CreateCharacter(ctx, Character{ID: "c1", ProjectID: "p1", Name: "Mira"})
		}},
		{"update character", func() error {
			name := "Mira the Bold"
			_, err := s.UpdateCharacter(ctx, "c1", CharacterPatch{Name: &name})
			return err
		}},
		{"delete character", func() error {
			return s.DeleteCharacter(ctx, "c1")
		}},
		{"create chapter", func() error {
			_, err := s.CreateChapter(ctx, Chapter{ID: "ch1", ProjectID: "p1", Content: "dawn"})
			return err
		}},
		{"update chapter", func() error {
			title := "Dawn"
			_, err := s.UpdateChapter(ctx, "ch1", ChapterPatch{Title: &title})
			return err
		}},
		{"delete chapter", func() error {
			return s.DeleteChapter(ctx, "ch1")
		}},
	}
	for _, step := range steps {
		if err := step.op(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		now := updatedAt()
		if !now.After(prev) {
			t.Errorf("%s did not bump project UpdatedAt", step.name)
		}
		prev = now
	}
}
