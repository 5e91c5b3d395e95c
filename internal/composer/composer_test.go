package composer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/fabula/internal/retrieval"
	"github.com/MrWong99/fabula/internal/story"
	"github.com/MrWong99/fabula/pkg/memory"
	"github.com/MrWong99/fabula/pkg/memory/memstore"
	embmock "github.com/MrWong99/fabula/pkg/provider/embeddings/mock"
	llmmock "github.com/MrWong99/fabula/pkg/provider/llm/mock"
)

type fixture struct {
	stories  *story.MemStore
	vectors  *memstore.Store
	embedder *embmock.Provider
	llm      *llmmock.Provider
	asm      *Assembler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		stories:  story.NewMemStore(),
		vectors:  memstore.New(),
		embedder: &embmock.Provider{EmbedResult: []float32{1, 0}},
		llm:      &llmmock.Provider{ModelIDValue: "test-model"},
	}
	ix := retrieval.NewIndexer(f.vectors, f.embedder, retrieval.IndexerConfig{
		EmbedDelay: time.Millisecond,
	})
	f.asm = New(f.stories, f.vectors, f.embedder, f.llm, ix, opts...)
	return f
}

func (f *fixture) mustCreateProject(t *testing.T, title, genre string) {
	t.Helper()
	err := f.stories.CreateProject(context.Background(), story.Project{
		ID: "p1", Title: title, Genre: genre, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) mustAddChapter(t *testing.T, id string, number int, content, summary string) {
	t.Helper()
	_, err := f.stories.CreateChapter(context.Background(), story.Chapter{
		ID: id, ProjectID: "p1", Number: number, Content: content, Summary: summary,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// section returns the part of prompt between the given header and the next
// "## " header (or the end).
func section(t *testing.T, prompt, header string) string {
	t.Helper()
	i := strings.Index(prompt, header)
	if i < 0 {
		t.Fatalf("prompt missing section %q:\n%s", header, prompt)
	}
	rest := prompt[i+len(header):]
	if j := strings.Index(rest, "\n## "); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func TestBuildPrompt_EmptyProject(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	if err := f.stories.CreateCharacter(context.Background(), story.Character{
		ID: "c1", ProjectID: "p1", Name: "Aria", Personality: "brave",
	}); err != nil {
		t.Fatal(err)
	}

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "Begin the tale", 1, ModeBalanced)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}

	for _, want := range []string{"Test", "Fantasy", "Aria", "brave", firstChapterPlaceholder} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "## Relevant Passages") {
		t.Error("prompt contains a retrieved section for a project with no chapters")
	}
	if !strings.Contains(prompt, "Now write chapter 1.") {
		t.Error("prompt missing closing chapter marker")
	}
}

func TestBuildPrompt_ProjectNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.asm.BuildPrompt(context.Background(), "missing", "", 1, ModeBalanced)
	if !errors.Is(err, story.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBuildPrompt_FourChaptersRecentTwo(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	for i := 1; i <= 4; i++ {
		f.mustAddChapter(t, chID(i), i, chapterProse(i), "")
	}

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 5, ModeBalanced)
	if err != nil {
		t.Fatal(err)
	}

	summaries := section(t, prompt, "## Story So Far")
	recent := section(t, prompt, "## Recent Chapters")

	for _, want := range []string{"Chapter 1:", "Chapter 2:"} {
		if !strings.Contains(summaries, want) {
			t.Errorf("summary block missing %q:\n%s", want, summaries)
		}
	}
	for _, wrong := range []string{"Chapter 3", "Chapter 4"} {
		if strings.Contains(summaries, wrong) {
			t.Errorf("summary block wrongly contains %q:\n%s", wrong, summaries)
		}
	}
	for _, want := range []string{"### Chapter 3", "### Chapter 4"} {
		if !strings.Contains(recent, want) {
			t.Errorf("recent block missing %q:\n%s", want, recent)
		}
	}
	for _, wrong := range []string{"### Chapter 1", "### Chapter 2"} {
		if strings.Contains(recent, wrong) {
			t.Errorf("recent block wrongly contains %q", wrong)
		}
	}
}

func TestBuildPrompt_FiveChaptersRecentTwo(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	for i := 1; i <= 5; i++ {
		f.mustAddChapter(t, chID(i), i, chapterProse(i), "")
	}

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 6, ModeBalanced)
	if err != nil {
		t.Fatal(err)
	}

	summaries := section(t, prompt, "## Story So Far")
	recent := section(t, prompt, "## Recent Chapters")

	for _, want := range []string{"Chapter 1:", "Chapter 2:", "Chapter 3:"} {
		if !strings.Contains(summaries, want) {
			t.Errorf("summary block missing %q", want)
		}
	}
	for _, want := range []string{"### Chapter 4", "### Chapter 5"} {
		if !strings.Contains(recent, want) {
			t.Errorf("recent block missing %q", want)
		}
	}
}

func TestBuildPrompt_UsesStoredSummaryOrBrief(t *testing.T) {
	f := newFixture(t, WithRecentChapterCount(1))
	f.mustCreateProject(t, "Test", "Fantasy")
	f.mustAddChapter(t, "ch1", 1, strings.Repeat("x", 400), "Aria swore the dragon oath.")
	f.mustAddChapter(t, "ch2", 2, "A very long second chapter "+strings.Repeat("y", 400), "")
	f.mustAddChapter(t, "ch3", 3, chapterProse(3), "")

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 4, ModeBalanced)
	if err != nil {
		t.Fatal(err)
	}
	summaries := section(t, prompt, "## Story So Far")

	if !strings.Contains(summaries, "Aria swore the dragon oath.") {
		t.Error("stored summary not used for chapter 1")
	}
	// Chapter 2 has no summary: a 200-rune brief with a trailing ellipsis.
	if !strings.Contains(summaries, "A very long second chapter") {
		t.Error("mechanical brief missing for chapter 2")
	}
	if !strings.Contains(summaries, ellipsisMarker) {
		t.Error("brief for over-long chapter 2 missing the ellipsis marker")
	}
	if strings.Contains(summaries, strings.Repeat("y", 300)) {
		t.Error("brief for chapter 2 was not truncated to the brief budget")
	}
}

func TestBuildPrompt_RecentChapterTailTruncation(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	content := strings.Repeat("a", 2000) + strings.Repeat("b", 3000) // 5000 runes
	f.mustAddChapter(t, "ch1", 1, content, "")

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 2, ModeBalanced)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(prompt, ellipsisMarker+strings.Repeat("b", 3000)) {
		t.Error("recent block does not contain the last 3000 runes with a leading ellipsis")
	}
	if strings.Contains(prompt, "aaaa") {
		t.Error("recent block contains content beyond the tail budget")
	}
}

func TestBuildPrompt_RetrievalIncluded(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	f.mustAddChapter(t, "ch1", 1, chapterProse(1), "")

	ctx := context.Background()
	seed := []memory.EmbeddingRecord{
		{ID: "r1", ProjectID: "p1", ChapterID: "ch1", Text: "the dragon oath sworn at dawn", Vector: []float32{1, 0}},
		{ID: "r2", ProjectID: "p1", ChapterID: "ch1", Text: "an unrelated laundry day", Vector: []float32{0, 1}},
	}
	for _, rec := range seed {
		if err := f.vectors.Put(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	prompt, err := f.asm.BuildPrompt(ctx, "p1", "What about the oath?", 2, ModeBalanced)
	if err != nil {
		t.Fatal(err)
	}

	retrievedSection := section(t, prompt, "## Relevant Passages")
	if !strings.Contains(retrievedSection, "the dragon oath sworn at dawn") {
		t.Error("matching passage missing from retrieved block")
	}
	if !strings.Contains(retrievedSection, "(100%)") {
		t.Errorf("similarity percentage missing:\n%s", retrievedSection)
	}
	if strings.Contains(retrievedSection, "laundry day") {
		t.Error("orthogonal passage included despite threshold")
	}
}

func TestBuildPrompt_NoRetrievalWithoutInstruction(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	f.mustAddChapter(t, "ch1", 1, chapterProse(1), "")
	if err := f.vectors.Put(context.Background(), memory.EmbeddingRecord{
		ID: "r1", ProjectID: "p1", ChapterID: "ch1", Text: "a passage", Vector: []float32{1, 0},
	}); err != nil {
		t.Fatal(err)
	}

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "   ", 2, ModeBalanced)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(prompt, "## Relevant Passages") {
		t.Error("retrieval ran without a user instruction")
	}
	if len(f.embedder.EmbedCalls) != 0 {
		t.Errorf("embedder called %d times, want 0", len(f.embedder.EmbedCalls))
	}
	if !strings.Contains(prompt, freeInstructionPlaceholder) {
		t.Error("prompt missing the continue-freely placeholder")
	}
}

func TestBuildPrompt_RetrievalFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	f.mustAddChapter(t, "ch1", 1, chapterProse(1), "")
	f.embedder.EmbedErr = errors.New("embedding service down")
	f.embedder.EmbedResult = nil

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "Continue the siege", 2, ModeBalanced)
	if err != nil {
		t.Fatalf("BuildPrompt failed on a retrieval error: %v", err)
	}
	if strings.Contains(prompt, "## Relevant Passages") {
		t.Error("retrieved section present despite embedding failure")
	}
}

func TestBuildPrompt_UnknownModeFallsBackToBalanced(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 1, WritingMode("noir"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "## Writing Mode: balanced") {
		t.Errorf("unknown mode did not fall back to balanced:\n%s", section(t, prompt, "## Writing Mode"))
	}
}

// newDegradedFixture builds an assembler with no LLM and no embeddings
// provider, the shape a deployment has when neither is configured.
func newDegradedFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		stories: story.NewMemStore(),
		vectors: memstore.New(),
	}
	ix := retrieval.NewIndexer(f.vectors, nil, retrieval.IndexerConfig{
		EmbedDelay: time.Millisecond,
	})
	f.asm = New(f.stories, f.vectors, nil, nil, ix, opts...)
	return f
}

func TestBuildPrompt_NoEmbeddingsProviderSkipsRetrieval(t *testing.T) {
	f := newDegradedFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	f.mustAddChapter(t, "ch1", 1, chapterProse(1), "")

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "What about the oath?", 2, ModeBalanced)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if strings.Contains(prompt, "## Relevant Passages") {
		t.Error("retrieved section present without an embeddings provider")
	}
	if !strings.Contains(prompt, "What about the oath?") {
		t.Error("user instruction missing from prompt")
	}
}

func TestSearchRelevant_NoEmbeddingsProvider(t *testing.T) {
	f := newDegradedFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")

	_, err := f.asm.SearchRelevant(context.Background(), "p1", "the oath", 5)
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Errorf("err = %v, want ErrRetrievalUnavailable", err)
	}
}

func TestBuildPrompt_EmptyModeUsesConfiguredDefault(t *testing.T) {
	f := newFixture(t, WithDefaultMode(ModeRomance))
	f.mustCreateProject(t, "Test", "Fantasy")

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "## Writing Mode: romance") {
		t.Errorf("configured default mode not applied:\n%s", section(t, prompt, "## Writing Mode"))
	}
}

func TestBuildPrompt_EmptyModeWithoutDefaultIsBalanced(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "## Writing Mode: balanced") {
		t.Errorf("empty mode did not default to balanced:\n%s", section(t, prompt, "## Writing Mode"))
	}
}

func TestBuildPrompt_ExplicitModeOverridesDefault(t *testing.T) {
	f := newFixture(t, WithDefaultMode(ModeRomance))
	f.mustCreateProject(t, "Test", "Fantasy")

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "", 1, ModeAction)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "## Writing Mode: action") {
		t.Errorf("explicit mode lost to the configured default:\n%s", section(t, prompt, "## Writing Mode"))
	}
}

func TestBuildPrompt_SectionOrder(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	f.mustAddChapter(t, "ch1", 1, chapterProse(1), "")
	if err := f.vectors.Put(context.Background(), memory.EmbeddingRecord{
		ID: "r1", ProjectID: "p1", ChapterID: "ch1", Text: "a passage", Vector: []float32{1, 0},
	}); err != nil {
		t.Fatal(err)
	}

	prompt, err := f.asm.BuildPrompt(context.Background(), "p1", "Keep going", 2, ModeAction)
	if err != nil {
		t.Fatal(err)
	}

	headers := []string{
		"## Story Settings",
		"## Characters",
		"## Story So Far",
		"## Relevant Passages",
		"## Recent Chapters",
		"## Instruction",
		"## Writing Mode: action",
		"## Requirements",
		"Now write chapter 2.",
	}
	last := -1
	for _, h := range headers {
		i := strings.Index(prompt, h)
		if i < 0 {
			t.Fatalf("prompt missing %q", h)
		}
		if i < last {
			t.Errorf("section %q out of order", h)
		}
		last = i
	}
}

func TestSearchRelevant(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")

	ctx := context.Background()
	for _, rec := range []memory.EmbeddingRecord{
		{ID: "r1", ProjectID: "p1", ChapterID: "ch1", Text: "exact", Vector: []float32{1, 0}},
		{ID: "r2", ProjectID: "p1", ChapterID: "ch1", Text: "close", Vector: []float32{0.9, 0.1}},
		{ID: "r3", ProjectID: "p1", ChapterID: "ch1", Text: "orthogonal", Vector: []float32{0, 1}},
	} {
		if err := f.vectors.Put(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	results, err := f.asm.SearchRelevant(ctx, "p1", "the oath", 2)
	if err != nil {
		t.Fatalf("SearchRelevant: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Record.Text != "exact" || results[1].Record.Text != "close" {
		t.Errorf("results out of order: %q, %q", results[0].Record.Text, results[1].Record.Text)
	}
}

func TestSearchRelevant_ProjectNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.asm.SearchRelevant(context.Background(), "missing", "q", 5); !errors.Is(err, story.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSearchRelevant_EmbeddingErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	f.embedder.EmbedErr = errors.New("down")

	if _, err := f.asm.SearchRelevant(context.Background(), "p1", "q", 5); err == nil {
		t.Error("SearchRelevant swallowed an embedding error")
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	f.mustCreateProject(t, "Test", "Fantasy")
	f.mustAddChapter(t, "ch1", 1, strings.Repeat("字", 10), "done")
	f.mustAddChapter(t, "ch2", 2, strings.Repeat("x", 20), "")

	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := f.vectors.Put(ctx, memory.EmbeddingRecord{
			ID: id, ProjectID: "p1", ChapterID: "ch1", ParagraphIndex: i, Vector: []float32{1},
		}); err != nil {
			t.Fatal(err)
		}
	}

	st, err := f.asm.GetStats(ctx, "p1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	want := Stats{ChapterCount: 2, EmbeddingCount: 3, TotalChars: 30, SummaryCount: 1}
	if st != want {
		t.Errorf("GetStats = %+v, want %+v", st, want)
	}
}

func TestGetStats_ProjectNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.asm.GetStats(context.Background(), "missing"); !errors.Is(err, story.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// chID returns a stable chapter ID for test chapter n.
func chID(n int) string {
	return "ch" + strings.Repeat("i", n)
}

// chapterProse returns distinct, recognisable chapter content.
func chapterProse(n int) string {
	return strings.Repeat("The story moved on through its telling once more. ", 2+n)
}
