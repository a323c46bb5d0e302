// Package chunker splits document text into overlapping fixed-size spans.
//
// Spans are produced lazily as an iter.Seq and are fully determined by the
// input text and the chunker's size, overlap and unit. Consecutive spans
// share exactly the configured overlap, so the spans cover the whole text
// without gaps.
package chunker
