package chunker

import (
	"slices"
	"strings"
	"testing"

	"github.com/poiesic/tenantrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconstruct joins spans dropping the overlapping prefix of each span.
func reconstruct(text string, spans []Span) string {
	var sb strings.Builder
	covered := 0
	for _, s := range spans {
		if s.End > covered {
			sb.WriteString(text[max(s.Start, covered):s.End])
			covered = s.End
		}
	}
	return sb.String()
}

func TestChunk_InvalidConfig(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 11},
		{"negative overlap", 10, -1},
		{"zero size", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk("some text", tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfig)
		})
	}
}

func TestChunk_ShortText(t *testing.T) {
	seq, err := Chunk("short", 100, 10)
	require.NoError(t, err)

	spans := slices.Collect(seq)
	require.Len(t, spans, 1)
	assert.Equal(t, "short", spans[0].Text)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, 5, spans[0].End)
}

func TestChunk_ExactSize(t *testing.T) {
	seq, err := Chunk("abcdefghij", 10, 3)
	require.NoError(t, err)
	assert.Len(t, slices.Collect(seq), 1)
}

func TestChunk_Empty(t *testing.T) {
	seq, err := Chunk("", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(seq))
}

func TestChunk_OverlapAndCoverage(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"
	seq, err := Chunk(text, 10, 4)
	require.NoError(t, err)

	spans := slices.Collect(seq)
	require.Len(t, spans, 4)
	assert.Equal(t, "abcdefghij", spans[0].Text)
	assert.Equal(t, "ghijklmnop", spans[1].Text)
	assert.Equal(t, "mnopqrstuv", spans[2].Text)
	assert.Equal(t, "stuvwxyz", spans[3].Text)

	for i, s := range spans {
		assert.Equal(t, i, s.Sequence)
		if i > 0 {
			prev := spans[i-1]
			assert.Equal(t, 4, prev.End-s.Start, "consecutive spans overlap by 4")
			assert.Less(t, s.Start, prev.End, "no gap between spans")
		}
	}
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, len(text), spans[len(spans)-1].End)
	assert.Equal(t, text, reconstruct(text, spans))
}

func TestChunk_ZeroOverlap(t *testing.T) {
	text := strings.Repeat("x", 25)
	seq, err := Chunk(text, 10, 0)
	require.NoError(t, err)

	spans := slices.Collect(seq)
	require.Len(t, spans, 3)
	assert.Equal(t, 10, spans[1].Start)
	assert.Equal(t, text, reconstruct(text, spans))
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	seq, err := Chunk(text, 64, 16)
	require.NoError(t, err)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second, "ranging twice restarts from the beginning")

	again, err := Chunk(text, 64, 16)
	require.NoError(t, err)
	assert.Equal(t, first, slices.Collect(again))
	assert.Equal(t, text, reconstruct(text, first))
}

func TestChunk_EarlyStop(t *testing.T) {
	text := strings.Repeat("a", 100)
	seq, err := Chunk(text, 10, 2)
	require.NoError(t, err)

	count := 0
	for range seq {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)

	// Stopping early does not affect later iterations.
	assert.Equal(t, text, reconstruct(text, slices.Collect(seq)))
}

func TestChunk_MultiByteRunes(t *testing.T) {
	text := "héllo wörld ünïcödé ✓✓✓ 日本語のテキスト"
	seq, err := Chunk(text, 7, 3)
	require.NoError(t, err)

	spans := slices.Collect(seq)
	require.NotEmpty(t, spans)
	for _, s := range spans {
		assert.True(t, len([]rune(s.Text)) <= 7)
		assert.Equal(t, text[s.Start:s.End], s.Text)
	}
	assert.Equal(t, text, reconstruct(text, spans))
}

func TestNew_Defaults(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, c.Size())
	assert.Equal(t, DefaultOverlap, c.Overlap())
}

func TestSplit_Tokens(t *testing.T) {
	c, err := New(WithSize(8), WithOverlap(2), WithUnit(UnitTokens))
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}

	text := strings.Repeat("Retrieval augmented generation splits documents into chunks. ", 10)
	spans := slices.Collect(c.Split(text))
	require.Greater(t, len(spans), 1)
	assert.Equal(t, text, reconstruct(text, spans))
	assert.Equal(t, spans, slices.Collect(c.Split(text)))
}
