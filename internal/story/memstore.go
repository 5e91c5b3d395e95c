package story

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store] for tests and single-session
// use without a database.
type MemStore struct {
	mu         sync.RWMutex
	projects   map[string]Project
	characters map[string]Character
	chapters   map[string]Chapter
	// order slices preserve insertion order for deterministic listings.
	projectOrder   []string
	characterOrder []string
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		projects:   make(map[string]Project),
		characters: make(map[string]Character),
		chapters:   make(map[string]Chapter),
	}
}

// CreateProject implements [Store.CreateProject].
func (s *MemStore) CreateProject(ctx context.Context, p Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %q: %w", p.ID, ErrDuplicateID)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	s.projects[p.ID] = p
	s.projectOrder = append(s.projectOrder, p.ID)
	return nil
}

// GetProject implements [Store.GetProject].
func (s *MemStore) GetProject(ctx context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("project %q: %w", id, ErrNotFound)
	}
	return p, nil
}

// ListProjects implements [Store.ListProjects].
func (s *MemStore) ListProjects(ctx context.Context) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Project{}
	for _, id := range s.projectOrder {
		if p, ok := s.projects[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// UpdateProject implements [Store.UpdateProject].
func (s *MemStore) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("project %q: %w", id, ErrNotFound)
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Genre != nil {
		p.Genre = *patch.Genre
	}
	if patch.WorldSetting != nil {
		p.WorldSetting = *patch.WorldSetting
	}
	if patch.PlotOutline != nil {
		p.PlotOutline = *patch.PlotOutline
	}
	p.UpdatedAt = time.Now()
	s.projects[id] = p
	return p, nil
}

// DeleteProject implements [Store.DeleteProject]. Characters and chapters of
// the project are removed as well.
func (s *MemStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %q: %w", id, ErrNotFound)
	}
	delete(s.projects, id)
	s.projectOrder = remove(s.projectOrder, id)

	for cid, c := range s.characters {
		if c.ProjectID == id {
			delete(s.characters, cid)
			s.characterOrder = remove(s.characterOrder, cid)
		}
	}
	for chid, ch := range s.chapters {
		if ch.ProjectID == id {
			delete(s.chapters, chid)
		}
	}
	return nil
}

// CreateCharacter implements [Store.CreateCharacter].
func (s *MemStore) CreateCharacter(ctx context.Context, c Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.characters[c.ID]; exists {
		return fmt.Errorf("character %q: %w", c.ID, ErrDuplicateID)
	}
	if _, ok := s.projects[c.ProjectID]; !ok {
		return fmt.Errorf("project %q: %w", c.ProjectID, ErrNotFound)
	}
	s.characters[c.ID] = c
	s.characterOrder = append(s.characterOrder, c.ID)
	s.touchProject(c.ProjectID)
	return nil
}

// GetCharacter implements [Store.GetCharacter].
func (s *MemStore) GetCharacter(ctx context.Context, id string) (Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok {
		return Character{}, fmt.Errorf("character %q: %w", id, ErrNotFound)
	}
	return c, nil
}

// ListCharacters implements [Store.ListCharacters].
func (s *MemStore) ListCharacters(ctx context.Context, projectID string) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Character{}
	for _, id := range s.characterOrder {
		if c, ok := s.characters[id]; ok && c.ProjectID == projectID {
			result = append(result, c)
		}
	}
	return result, nil
}

// UpdateCharacter implements [Store.UpdateCharacter].
func (s *MemStore) UpdateCharacter(ctx context.Context, id string, patch CharacterPatch) (Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[id]
	if !ok {
		return Character{}, fmt.Errorf("character %q: %w", id, ErrNotFound)
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Personality != nil {
		c.Personality = *patch.Personality
	}
	if patch.Background != nil {
		c.Background = *patch.Background
	}
	if patch.Relationships != nil {
		c.Relationships = *patch.Relationships
	}
	s.characters[id] = c
	s.touchProject(c.ProjectID)
	return c, nil
}

// DeleteCharacter implements [Store.DeleteCharacter].
func (s *MemStore) DeleteCharacter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[id]
	if !ok {
		return fmt.Errorf("character %q: %w", id, ErrNotFound)
	}
	delete(s.characters, id)
	s.characterOrder = remove(s.characterOrder, id)
	s.touchProject(c.ProjectID)
	return nil
}

// CreateChapter implements [Store.CreateChapter].
func (s *MemStore) CreateChapter(ctx context.Context, ch Chapter) (Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chapters[ch.ID]; exists {
		return Chapter{}, fmt.Errorf("chapter %q: %w", ch.ID, ErrDuplicateID)
	}
	if _, ok := s.projects[ch.ProjectID]; !ok {
		return Chapter{}, fmt.Errorf("project %q: %w", ch.ProjectID, ErrNotFound)
	}
	if ch.Number == 0 {
		ch.Number = s.nextChapterNumber(ch.ProjectID)
	}
	s.chapters[ch.ID] = ch
	s.touchProject(ch.ProjectID)
	return ch, nil
}

// GetChapter implements [Store.GetChapter].
func (s *MemStore) GetChapter(ctx context.Context, id string) (Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.chapters[id]
	if !ok {
		return Chapter{}, fmt.Errorf("chapter %q: %w", id, ErrNotFound)
	}
	return ch, nil
}

// ListChapters implements [Store.ListChapters].
func (s *MemStore) ListChapters(ctx context.Context, projectID string) ([]Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Chapter{}
	for _, ch := range s.chapters {
		if ch.ProjectID == projectID {
			result = append(result, ch)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// UpdateChapter implements [Store.UpdateChapter]. Patching Content without
// Summary clears the stored summary.
func (s *MemStore) UpdateChapter(ctx context.Context, id string, patch ChapterPatch) (Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.chapters[id]
	if !ok {
		return Chapter{}, fmt.Errorf("chapter %q: %w", id, ErrNotFound)
	}
	if patch.Title != nil {
		ch.Title = *patch.Title
	}
	if patch.Content != nil {
		ch.Content = *patch.Content
		if patch.Summary == nil {
			ch.Summary = ""
		}
	}
	if patch.Summary != nil {
		ch.Summary = *patch.Summary
	}
	if patch.Prompt != nil {
		ch.Prompt = *patch.Prompt
	}
	s.chapters[id] = ch
	s.touchProject(ch.ProjectID)
	return ch, nil
}

// DeleteChapter implements [Store.DeleteChapter].
func (s *MemStore) DeleteChapter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.chapters[id]
	if !ok {
		return fmt.Errorf("chapter %q: %w", id, ErrNotFound)
	}
	delete(s.chapters, id)
	s.touchProject(ch.ProjectID)
	return nil
}

// nextChapterNumber returns one past the highest chapter number of the
// project. Must be called with s.mu held for writing.
func (s *MemStore) nextChapterNumber(projectID string) int {
	max := 0
	for _, ch := range s.chapters {
		if ch.ProjectID == projectID && ch.Number > max {
			max = ch.Number
		}
	}
	return max + 1
}

// touchProject bumps the project's UpdatedAt. Must be called with s.mu held
// for writing.
func (s *MemStore) touchProject(projectID string) {
	if p, ok := s.projects[projectID]; ok {
		p.UpdatedAt = time.Now()
		s.projects[projectID] = p
	}
}

func remove(ids []string, id string) []string {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}
