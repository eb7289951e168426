// Package chunker splits document text into overlapping, sentence-aware
// chunks and assigns each a content hash for deduplication.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chunk is a bounded span of document text plus its provenance.
// Chunks are immutable once created; the content hash covers source id
// and text so identical content always deduplicates.
type Chunk struct {
	Text        string
	SourceID    string
	Page        *int // nil for single-page documents
	Sequence    int
	ContentHash string // hex-encoded SHA-256
}

// sentenceBoundaries is the fixed priority order for backward boundary
// search. The first match wins, so ". " beats "? " inside one window.
var sentenceBoundaries = []string{". ", ".\n", "! ", "?\n", "? "}

// Chunker splits page text into character windows of approximately Size,
// pulling each window end back to the nearest sentence boundary.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Size must be positive and overlap must satisfy
// 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// ChunkPages splits the pages of one document into chunks. Pages are
// 1-indexed; sequence numbers are global across all pages, starting at 0.
// Single-page documents leave Page unset. Identical input always yields an
// identical chunk sequence, which keeps content hashes stable across
// re-ingestion runs.
func (c *Chunker) ChunkPages(pages []string, sourceID string) []Chunk {
	multiPage := len(pages) > 1
	var chunks []Chunk
	seq := 0

	for i, pageText := range pages {
		for _, text := range c.splitText(pageText) {
			chunk := Chunk{
				Text:        text,
				SourceID:    sourceID,
				Sequence:    seq,
				ContentHash: HashContent(sourceID, text),
			}
			if multiPage {
				page := i + 1
				chunk.Page = &page
			}
			chunks = append(chunks, chunk)
			seq++
		}
	}

	return chunks
}

// splitText windows the text into chunks of at most c.size characters,
// breaking at sentence boundaries where possible. Windows are measured in
// runes, not bytes, so multibyte text never gets cut mid-character. The
// next window starts overlap characters before the previous end; when that
// would stall, the start jumps to the previous end so the loop always
// makes progress.
func (c *Chunker) splitText(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.size {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{text}
		}
		return nil
	}

	var chunks []string
	start := 0

	for start < len(runes) {
		end := start + c.size
		if end < len(runes) {
			// Pull the boundary back to just after the nearest
			// sentence-terminating punctuation.
			window := string(runes[start:end])
			for _, punct := range sentenceBoundaries {
				if idx := strings.LastIndex(window, punct); idx != -1 {
					end = start + utf8.RuneCountInString(window[:idx]) + 1
					break
				}
			}
		} else {
			end = len(runes)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - c.overlap
		if next <= start {
			// Overlap would revisit the same window forever.
			next = end
		}
		if next >= len(runes) {
			break
		}
		start = next
	}

	return chunks
}

// HashContent computes the dedup digest for a chunk. The hash is a pure
// function of (sourceID, text): the same pair always produces the same
// digest regardless of page or sequence.
func HashContent(sourceID, text string) string {
	sum := sha256.Sum256([]byte(sourceID + ":" + text))
	return hex.EncodeToString(sum[:])
}
