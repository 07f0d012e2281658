package ingest

import (
	"strings"
)

// Default splitter geometry. Sized for prose; roughly a paragraph or two
// per chunk with enough overlap to keep sentences that straddle a
// boundary retrievable from both sides.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// defaultSeparators, tried in order: paragraph break, line break, sentence
// end, word boundary, then single characters as the last resort.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter breaks document text into overlapping chunks. It prefers the
// largest structural separator that still yields pieces under the size
// limit, recursing to finer separators for oversized pieces.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter creates a splitter. Non-positive size or negative overlap
// fall back to the defaults; lengths are measured in runes.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 4
		}
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split returns the chunks of text in document order. Whitespace-only
// input yields no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	chunks := s.split(text, s.separators)

	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	if runeLen(text) <= s.chunkSize {
		return []string{text}
	}

	// Pick the coarsest separator that occurs in the text.
	separator := separators[len(separators)-1]
	rest := separators
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = splitRunes(text, s.chunkSize)
	} else {
		pieces = splitKeepingSeparator(text, separator)
	}

	// Merge small pieces into chunks; recurse into oversized ones.
	var chunks []string
	var pending []string
	for _, piece := range pieces {
		if runeLen(piece) <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		chunks = append(chunks, s.merge(pending)...)
		pending = nil
		chunks = append(chunks, s.split(piece, rest)...)
	}
	chunks = append(chunks, s.merge(pending)...)
	return chunks
}

// merge packs pieces into chunks up to chunkSize, carrying a tail of at
// most chunkOverlap runes into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	var window []string
	total := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		chunk := strings.Join(window, "")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range pieces {
		pieceLen := runeLen(piece)

		if total+pieceLen > s.chunkSize && total > 0 {
			flush()
			// Retain the overlap tail.
			for total > s.chunkOverlap && len(window) > 0 {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}

		window = append(window, piece)
		total += pieceLen
	}
	flush()
	return chunks
}

// splitKeepingSeparator splits text by sep, keeping the separator attached
// to the end of each piece so joins reconstruct the original text.
func splitKeepingSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// splitRunes hard-splits text into size-rune pieces.
func splitRunes(text string, size int) []string {
	runes := []rune(text)
	var pieces []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

func runeLen(s string) int {
	return len([]rune(s))
}
