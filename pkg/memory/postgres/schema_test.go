package postgres

import (
	"strings"
	"testing"
)

func TestDDLEmbeddings(t *testing.T) {
	ddl := ddlEmbeddings(768)

	for _, want := range []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		"vector(768)",
		"idx_embedding_records_project_id",
		"idx_embedding_records_chapter_id",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q", want)
		}
	}

	// Similarity is scored in-process over listed records; the schema must not
	// build a vector index no query would ever hit.
	if strings.Contains(ddl, "hnsw") || strings.Contains(ddl, "ivfflat") {
		t.Error("DDL declares an approximate-nearest-neighbour index")
	}
}
