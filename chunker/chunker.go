package chunker

import (
	"fmt"
	"iter"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/poiesic/tenantrag/core"
)

const (
	// DefaultSize is the default chunk length in units.
	DefaultSize = 500

	// DefaultOverlap is the default number of units shared by consecutive chunks.
	DefaultOverlap = 250

	// TokenEncoding is the BPE encoding used when counting in tokens.
	TokenEncoding = "cl100k_base"
)

// Unit selects what chunk size and overlap are measured in.
type Unit int

const (
	// UnitRunes measures chunks in Unicode code points.
	UnitRunes Unit = iota
	// UnitTokens measures chunks in cl100k BPE tokens.
	UnitTokens
)

// Span is one chunk of a source text.
// Start and End are byte offsets into the source.
type Span struct {
	Sequence int
	Start    int
	End      int
	Text     string
}

// Chunker splits text into overlapping fixed-size spans.
// A Chunker is immutable and safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
	unit    Unit
	enc     *tiktoken.Tiktoken
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithSize sets the chunk size.
func WithSize(size int) Option {
	return func(c *Chunker) error {
		c.size = size
		return nil
	}
}

// WithOverlap sets the overlap between consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) error {
		c.overlap = overlap
		return nil
	}
}

// WithUnit sets the unit chunk size and overlap are measured in.
// UnitTokens loads the cl100k encoding.
func WithUnit(unit Unit) Option {
	return func(c *Chunker) error {
		c.unit = unit
		if unit != UnitTokens {
			return nil
		}
		enc, err := tiktoken.GetEncoding(TokenEncoding)
		if err != nil {
			return fmt.Errorf("loading %s encoding: %w", TokenEncoding, err)
		}
		c.enc = enc
		return nil
	}
}

// New creates a Chunker. It fails with core.ErrConfig unless size > overlap >= 0.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:    DefaultSize,
		overlap: DefaultOverlap,
		unit:    UnitRunes,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := validate(c.size, c.overlap); err != nil {
		return nil, err
	}
	return c, nil
}

// Chunk splits text into spans of size runes overlapping by overlap runes.
func Chunk(text string, size, overlap int) (iter.Seq[Span], error) {
	c, err := New(WithSize(size), WithOverlap(overlap))
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

func validate(size, overlap int) error {
	if overlap < 0 || size <= overlap {
		return fmt.Errorf("%w: chunk size %d must exceed overlap %d >= 0", core.ErrConfig, size, overlap)
	}
	return nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the spans of text in order.
//
// The sequence is lazy and restartable: each range over it starts from the
// beginning, and stopping early has no side effects. The same input always
// yields the same spans. Text no longer than one chunk yields exactly one
// span; empty text yields none.
func (c *Chunker) Split(text string) iter.Seq[Span] {
	if c.unit == UnitTokens && c.enc != nil {
		return c.splitTokens(text)
	}
	return c.splitRunes(text)
}

func (c *Chunker) splitRunes(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		if len(text) == 0 {
			return
		}
		start := 0
		for seq := 0; ; seq++ {
			end := advanceRunes(text, start, c.size)
			if !yield(Span{Sequence: seq, Start: start, End: end, Text: text[start:end]}) {
				return
			}
			if end >= len(text) {
				return
			}
			start = advanceRunes(text, start, c.size-c.overlap)
		}
	}
}

func (c *Chunker) splitTokens(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		if len(text) == 0 {
			return
		}
		bounds := c.tokenBounds(text)
		n := len(bounds) - 1
		for seq, first := 0, 0; ; seq++ {
			last := min(first+c.size, n)
			start, end := bounds[first], bounds[last]
			if !yield(Span{Sequence: seq, Start: start, End: end, Text: text[start:end]}) {
				return
			}
			if last >= n {
				return
			}
			first += c.size - c.overlap
		}
	}
}

// tokenBounds returns the byte offset where each token starts, plus len(text).
// Offsets that fall inside a UTF-8 sequence are moved to the next rune start
// so spans never split a character.
func (c *Chunker) tokenBounds(text string) []int {
	tokens := c.enc.Encode(text, nil, nil)
	bounds := make([]int, 0, len(tokens)+1)
	offset := 0
	for _, tok := range tokens {
		bounds = append(bounds, snapToRune(text, offset))
		offset += len(c.enc.Decode([]int{tok}))
	}
	bounds = append(bounds, len(text))
	if len(bounds) > 0 {
		bounds[0] = 0
	}
	return bounds
}

func advanceRunes(text string, from, n int) int {
	i := from
	for ; n > 0 && i < len(text); n-- {
		_, w := utf8.DecodeRuneInString(text[i:])
		i += w
	}
	return i
}

func snapToRune(text string, i int) int {
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return min(i, len(text))
}
