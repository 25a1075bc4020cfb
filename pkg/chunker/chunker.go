// Package chunker splits memory notes into overlapping, line-aligned chunks.
//
// Sizes are configured in approximate tokens and converted to characters at
// four characters per token. Every chunk carries its 1-indexed inclusive line
// range and a content hash so callers can derive stable chunk identities.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

const (
	// CharsPerToken approximates the token count of a chunk.
	CharsPerToken = 4
	// MinChunkChars is the smallest budget a chunk can be configured with.
	MinChunkChars = 32
)

// Options controls chunk sizing.
type Options struct {
	Tokens  int // approximate tokens per chunk
	Overlap int // approximate tokens carried across a chunk boundary
}

// MaxChars returns the per-chunk character budget.
func (o Options) MaxChars() int {
	n := o.Tokens * CharsPerToken
	if n < MinChunkChars {
		return MinChunkChars
	}
	return n
}

// OverlapChars returns the number of characters carried into the next chunk.
func (o Options) OverlapChars() int {
	n := o.Overlap * CharsPerToken
	if n < 0 {
		return 0
	}
	return n
}

// Chunk is a contiguous line range of a source text.
type Chunk struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
	Hash      string `json:"hash"`
}

type line struct {
	text string
	no   int
	size int
}

// ChunkMarkdown splits content into ordered chunks. Whole lines are
// accumulated until the next line would exceed the budget; the buffer is then
// flushed and the next one is seeded with trailing lines of the flushed chunk
// totalling at least the overlap budget. A single line longer than the budget
// is emitted verbatim as its own chunk.
func ChunkMarkdown(content string, opts Options) []Chunk {
	if content == "" {
		return nil
	}

	maxChars := opts.MaxChars()
	overlapChars := opts.OverlapChars()

	var (
		chunks  []Chunk
		current []line
		size    int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		parts := make([]string, len(current))
		for i, l := range current {
			parts[i] = l.text
		}
		text := strings.Join(parts, "\n")
		chunks = append(chunks, Chunk{
			StartLine: current[0].no,
			EndLine:   current[len(current)-1].no,
			Text:      text,
			Hash:      HashText(text),
		})
	}

	carry := func() {
		if overlapChars == 0 || len(current) == 0 {
			current, size = nil, 0
			return
		}
		acc := 0
		start := len(current)
		for start > 0 && acc < overlapChars {
			start--
			acc += current[start].size
		}
		kept := make([]line, len(current)-start)
		copy(kept, current[start:])
		current, size = kept, acc
	}

	for i, text := range strings.Split(content, "\n") {
		l := line{text: text, no: i + 1, size: utf8.RuneCountInString(text) + 1}

		if l.size > maxChars {
			flush()
			current, size = []line{l}, l.size
			flush()
			current, size = nil, 0
			continue
		}

		if len(current) > 0 && size+l.size > maxChars {
			flush()
			carry()
			// The carried context must leave room for the incoming line.
			for len(current) > 0 && size+l.size > maxChars {
				size -= current[0].size
				current = current[1:]
			}
		}

		current = append(current, l)
		size += l.size
	}
	flush()

	return chunks
}

// NonEmpty drops chunks whose text is only whitespace.
func NonEmpty(chunks []Chunk) []Chunk {
	out := chunks[:0:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) != "" {
			out = append(out, c)
		}
	}
	return out
}

// HashText returns the hex SHA-256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
