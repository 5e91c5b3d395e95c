// Package memstore provides a thread-safe, in-memory implementation of
// [memory.VectorStore]. It is suitable for tests and for single-session use
// without a database.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/MrWong99/fabula/pkg/memory"
)

// Compile-time assertion that Store satisfies the VectorStore interface.
var _ memory.VectorStore = (*Store)(nil)

// Store is an in-memory [memory.VectorStore]. The zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	records map[string]memory.EmbeddingRecord
	// order preserves insertion order for deterministic listings.
	order []string
}

// New returns an initialised [Store].
func New() *Store {
	return &Store{records: make(map[string]memory.EmbeddingRecord)}
}

// Put implements [memory.VectorStore.Put].
func (s *Store) Put(ctx context.Context, rec memory.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[string]memory.EmbeddingRecord)
	}
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// ListByProject implements [memory.VectorStore.ListByProject].
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]memory.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []memory.EmbeddingRecord{}
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok && rec.ProjectID == projectID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// ListByChapter implements [memory.VectorStore.ListByChapter].
func (s *Store) ListByChapter(ctx context.Context, chapterID string) ([]memory.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []memory.EmbeddingRecord{}
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok && rec.ChapterID == chapterID {
			result = append(result, rec)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ParagraphIndex < result[j].ParagraphIndex
	})
	return result, nil
}

// DeleteByChapter implements [memory.VectorStore.DeleteByChapter].
func (s *Store) DeleteByChapter(ctx context.Context, chapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteWhere(func(rec memory.EmbeddingRecord) bool {
		return rec.ChapterID == chapterID
	})
	return nil
}

// DeleteByProject implements [memory.VectorStore.DeleteByProject].
func (s *Store) DeleteByProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteWhere(func(rec memory.EmbeddingRecord) bool {
		return rec.ProjectID == projectID
	})
	return nil
}

// CountByProject implements [memory.VectorStore.CountByProject].
func (s *Store) CountByProject(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if rec.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

// deleteWhere removes all records matching the predicate.
// Must be called with s.mu held for writing.
func (s *Store) deleteWhere(match func(memory.EmbeddingRecord) bool) {
	kept := s.order[:0]
	for _, id := range s.order {
		rec, ok := s.records[id]
		if ok && match(rec) {
			delete(s.records, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}
