package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/MrWong99/fabula/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback_Embed(t *testing.T) {
	primary := &embmock.Provider{EmbedErr: errors.New("quota"), DimensionsValue: 3}
	backup := &embmock.Provider{EmbedResult: []float32{1, 2, 3}, DimensionsValue: 3}

	f := NewEmbeddingsFallback(primary, "primary", BreakerConfig{})
	f.AddFallback("backup", backup)

	vec, err := f.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector length = %d, want backup's 3", len(vec))
	}
	if len(primary.EmbedCalls) != 1 || len(backup.EmbedCalls) != 1 {
		t.Errorf("calls = (%d, %d), want both tried once",
			len(primary.EmbedCalls), len(backup.EmbedCalls))
	}
}

func TestEmbeddingsFallback_EmbedBatch(t *testing.T) {
	primary := &embmock.Provider{EmbedBatchErr: errors.New("down")}
	backup := &embmock.Provider{EmbedBatchResult: [][]float32{{1}, {2}}}

	f := NewEmbeddingsFallback(primary, "primary", BreakerConfig{})
	f.AddFallback("backup", backup)

	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Errorf("got %d vectors, want 2", len(vecs))
	}
}

func TestEmbeddingsFallback_AllFail(t *testing.T) {
	f := NewEmbeddingsFallback(&embmock.Provider{EmbedErr: errors.New("down")}, "only", BreakerConfig{})

	_, err := f.Embed(context.Background(), "text")
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Errorf("err = %v, want ErrAllBackendsFailed", err)
	}
}

func TestEmbeddingsFallback_StaticMetadataFromPrimary(t *testing.T) {
	f := NewEmbeddingsFallback(&embmock.Provider{
		DimensionsValue: 768, ModelIDValue: "nomic-embed-text",
	}, "primary", BreakerConfig{})
	f.AddFallback("backup", &embmock.Provider{DimensionsValue: 1536})

	if got := f.Dimensions(); got != 768 {
		t.Errorf("Dimensions() = %d, want primary's 768", got)
	}
	if got := f.ModelID(); got != "nomic-embed-text" {
		t.Errorf("ModelID() = %q, want primary's", got)
	}
}
