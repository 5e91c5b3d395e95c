package memstore

import (
	"context"
	"testing"

	"github.com/MrWong99/fabula/pkg/memory"
)

func rec(id, projectID, chapterID string, idx int) memory.EmbeddingRecord {
	return memory.EmbeddingRecord{
		ID:             id,
		ProjectID:      projectID,
		ChapterID:      chapterID,
		ParagraphIndex: idx,
		Text:           "chunk " + id,
		Vector:         []float32{1, 0},
	}
}

func TestStore_PutAndList(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, r := range []memory.EmbeddingRecord{
		rec("r1", "p1", "c1", 0),
		rec("r2", "p1", "c1", 1),
		rec("r3", "p1", "c2", 0),
		rec("r4", "p2", "c3", 0),
	} {
		if err := s.Put(ctx, r); err != nil {
			t.Fatalf("Put(%s): %v", r.ID, err)
		}
	}

	byProject, err := s.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(byProject) != 3 {
		t.Errorf("ListByProject(p1) = %d records, want 3", len(byProject))
	}

	byChapter, err := s.ListByChapter(ctx, "c1")
	if err != nil {
		t.Fatalf("ListByChapter: %v", err)
	}
	if len(byChapter) != 2 {
		t.Fatalf("ListByChapter(c1) = %d records, want 2", len(byChapter))
	}
	if byChapter[0].ParagraphIndex != 0 || byChapter[1].ParagraphIndex != 1 {
		t.Errorf("ListByChapter not ordered by paragraph index: %+v", byChapter)
	}
}

func TestStore_PutUpsertsByID(t *testing.T) {
	ctx := context.Background()
	s := New()

	r := rec("r1", "p1", "c1", 0)
	if err := s.Put(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Text = "updated"
	if err := s.Put(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListByChapter(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records after upsert, want 1", len(got))
	}
	if got[0].Text != "updated" {
		t.Errorf("Text = %q, want %q", got[0].Text, "updated")
	}
}

func TestStore_Deletes(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, r := range []memory.EmbeddingRecord{
		rec("r1", "p1", "c1", 0),
		rec("r2", "p1", "c2", 0),
		rec("r3", "p2", "c3", 0),
	} {
		if err := s.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteByChapter(ctx, "c1"); err != nil {
		t.Fatalf("DeleteByChapter: %v", err)
	}
	if n, _ := s.CountByProject(ctx, "p1"); n != 1 {
		t.Errorf("CountByProject(p1) = %d after chapter delete, want 1", n)
	}

	// Deleting an unknown chapter is not an error.
	if err := s.DeleteByChapter(ctx, "no-such-chapter"); err != nil {
		t.Errorf("DeleteByChapter(unknown): %v", err)
	}

	if err := s.DeleteByProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteByProject: %v", err)
	}
	if n, _ := s.CountByProject(ctx, "p1"); n != 0 {
		t.Errorf("CountByProject(p1) = %d after project delete, want 0", n)
	}
	if n, _ := s.CountByProject(ctx, "p2"); n != 1 {
		t.Errorf("CountByProject(p2) = %d, want 1 (unrelated project untouched)", n)
	}
}

func TestStore_EmptyListsAreNonNil(t *testing.T) {
	ctx := context.Background()
	s := New()

	byProject, err := s.ListByProject(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if byProject == nil {
		t.Error("ListByProject returned nil slice, want empty non-nil")
	}

	byChapter, err := s.ListByChapter(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if byChapter == nil {
		t.Error("ListByChapter returned nil slice, want empty non-nil")
	}
}

func TestStore_ZeroValueUsable(t *testing.T) {
	var s Store
	if err := s.Put(context.Background(), rec("r1", "p1", "c1", 0)); err != nil {
		t.Fatalf("Put on zero-value store: %v", err)
	}
}
