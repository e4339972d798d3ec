package ingest

import (
	"strings"
	"unicode/utf8"
)

// Splitter cuts extracted text into bounded, overlapping chunks at
// sentence boundaries where possible.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// NewSplitter returns a splitter with the given bounds, applying the
// defaults for out-of-range values.
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 200
		if overlap >= size {
			overlap = size / 5
		}
	}
	return Splitter{ChunkSize: size, Overlap: overlap}
}

// Split returns the ordered chunk texts of text. Empty input yields no
// chunks; input shorter than the chunk size yields exactly one.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range splitSentences(text) {
		if current.Len() > 0 && current.Len()+len(sentence) > s.ChunkSize {
			chunk := strings.TrimSpace(current.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Carry the tail of the previous chunk forward as overlap.
			tail := chunk
			if len(tail) > s.Overlap {
				tail = tail[len(tail)-s.Overlap:]
				// The byte cut can land inside a multi-byte rune.
				for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
					tail = tail[1:]
				}
			}
			current.Reset()
			current.WriteString(tail)
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		current.WriteString(" ")
	}
	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitSentences cuts text after sentence-ending punctuation followed by
// whitespace. A trailing fragment without terminal punctuation is kept.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				out = append(out, strings.TrimSpace(text[start:i+1]))
				for i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t') {
					i++
				}
				start = i + 1
			}
		}
	}
	if start < len(text) {
		if tail := strings.TrimSpace(text[start:]); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}
