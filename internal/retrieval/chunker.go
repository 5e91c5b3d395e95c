// Package retrieval turns chapter text into embedded, searchable memory. The
// chunker cuts raw text into overlapping segments sized for an embedding
// model; the Indexer drives chunking, embedding, and vector-store writes for
// whole chapters.
package retrieval

import (
	"regexp"
	"strings"
)

// Chunking defaults. Lengths are in runes, not bytes, so CJK text chunks the
// same way as Latin text.
const (
	DefaultMaxLength = 500
	DefaultOverlap   = 50
	DefaultMinLength = 20
)

// ChunkOptions tunes [SplitText]. Non-positive fields fall back to the
// package defaults.
type ChunkOptions struct {
	// MaxLength is the maximum chunk length in runes.
	MaxLength int

	// Overlap is how many runes of the previous chunk are repeated at the
	// start of the next one, preserving context across cut points.
	Overlap int

	// MinLength is the minimum chunk length in runes; shorter chunks are
	// discarded as noise.
	MinLength int
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.MaxLength <= 0 {
		o.MaxLength = DefaultMaxLength
	}
	if o.Overlap <= 0 {
		o.Overlap = DefaultOverlap
	}
	if o.MinLength <= 0 {
		o.MinLength = DefaultMinLength
	}
	if o.Overlap >= o.MaxLength {
		o.Overlap = o.MaxLength / 4
	}
	return o
}

// sentenceEnders are the runes a long paragraph may be cut after.
var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
	'…': true,
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// SplitText splits text into chunks suitable for embedding. Blank lines are
// treated as paragraph boundaries; paragraphs longer than MaxLength are cut
// further, preferring a sentence-ending rune at or before the limit when one
// sits past the half-length mark, and hard-cutting at the limit otherwise.
// Consecutive chunks of a long paragraph overlap by Overlap runes. Chunks
// shorter than MinLength are dropped.
//
// SplitText is a pure function: same input, same output, no state between
// calls.
func SplitText(text string, opts ChunkOptions) []string {
	opts = opts.withDefaults()

	chunks := []string{}
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		chunks = append(chunks, chunkParagraph([]rune(para), opts)...)
	}
	return chunks
}

// chunkParagraph cuts a single paragraph into overlapping pieces.
func chunkParagraph(runes []rune, opts ChunkOptions) []string {
	var out []string

	emit := func(piece []rune) {
		s := strings.TrimSpace(string(piece))
		if len([]rune(s)) >= opts.MinLength {
			out = append(out, s)
		}
	}

	for len(runes) > opts.MaxLength {
		cut := opts.MaxLength
		// Walk back to the nearest sentence ender inside the window. Accept
		// it only past the half-length mark so a stray early "." cannot
		// produce a degenerate cut.
		for i := opts.MaxLength - 1; i >= 0; i-- {
			if sentenceEnders[runes[i]] {
				if i+1 > opts.MaxLength/2 {
					cut = i + 1
				}
				break
			}
		}
		emit(runes[:cut])

		next := cut - opts.Overlap
		if next <= 0 {
			next = cut
		}
		runes = runes[next:]
	}
	emit(runes)

	return out
}
