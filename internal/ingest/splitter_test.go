package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortInputSingleChunk(t *testing.T) {
	s := NewSplitter(100, 20)
	chunks := s.Split("a short paragraph that fits in one chunk")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short paragraph that fits in one chunk", chunks[0])
}

func TestSplit_EmptyInput(t *testing.T) {
	s := NewSplitter(100, 20)
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n\t  "))
}

func TestSplit_PrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("alpha ", 10) // 60 runes
	para2 := strings.Repeat("beta ", 10)  // 50 runes
	text := para1 + "\n\n" + para2

	s := NewSplitter(70, 10)
	chunks := s.Split(text)

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0], "alpha"))
	assert.True(t, strings.HasPrefix(chunks[1], "beta"))
}

func TestSplit_ChunksWithinSizeLimit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is sentence number one of the test corpus. ")
	}

	s := NewSplitter(200, 40)
	chunks := s.Split(sb.String())

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 200, "chunk %q exceeds size", c)
	}
}

func TestSplit_OverlapCarriesContext(t *testing.T) {
	// Word-separated text forces the space separator and the overlap path.
	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("word%04d", i)
	}
	text := strings.Join(words, " ")

	s := NewSplitter(100, 30)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	// Each chunk after the first starts with the tail of the previous one.
	for i := 1; i < len(chunks); i++ {
		head := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1], head,
			"chunk %d should overlap with chunk %d", i, i-1)
	}
}

func TestSplit_HardSplitWithoutSeparators(t *testing.T) {
	text := strings.Repeat("x", 250)

	s := NewSplitter(100, 0)
	chunks := s.Split(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, 100, len(chunks[0]))
	assert.Equal(t, 100, len(chunks[1]))
	assert.Equal(t, 50, len(chunks[2]))
}

func TestSplit_RuneAware(t *testing.T) {
	text := strings.Repeat("é", 150)

	s := NewSplitter(100, 0)
	chunks := s.Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, 100, len([]rune(chunks[0])))
	assert.Equal(t, 50, len([]rune(chunks[1])))
}

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter(0, -1)
	assert.Equal(t, DefaultChunkSize, s.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, s.chunkOverlap)

	// Overlap must stay below size.
	s = NewSplitter(100, 100)
	assert.Less(t, s.chunkOverlap, s.chunkSize)
}
