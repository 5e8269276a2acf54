// Package chunker implements the Chunker (C1): token-aware sliding-window
// segmentation of parsed document text into an ordered, materialized
// sequence of chunks.
package chunker

import (
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ErrConfiguration is returned when chunker configuration violates its
// invariants (overlap must be strictly less than chunk size).
var ErrConfiguration = errors.New("chunker: invalid configuration")

// TokenEncoder counts the tokens a downstream generator model would see
// for a given text. The chunker depends on this interface, not a concrete
// tokenizer, so callers can swap in a model-specific encoder (e.g. a
// tiktoken-compatible one) without touching chunking logic.
type TokenEncoder interface {
	CountTokens(text string) int
	Name() string
}

// heuristicEncoder approximates token count from word count. It is the
// default encoder: cheap, dependency-free, and close enough for sizing
// decisions when no model-specific tokenizer is wired in.
type heuristicEncoder struct{}

func (heuristicEncoder) CountTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

func (heuristicEncoder) Name() string { return "heuristic-word-1.3x" }

// NewHeuristicEncoder returns the default word-count-based TokenEncoder.
func NewHeuristicEncoder() TokenEncoder { return heuristicEncoder{} }

// Config controls chunking behavior.
type Config struct {
	ChunkSize    int // target tokens per chunk, per Encoder
	ChunkOverlap int // token overlap between consecutive chunks
	Encoder      TokenEncoder
}

// Chunk is one ordered, contiguous token window of a document's text.
type Chunk struct {
	ID          string
	Text        string
	TokenCount  int
	SequenceNum int
}

// Chunker performs the sliding-window segmentation described in §4.1.
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a Chunker. Overlap >= ChunkSize fails with
// ErrConfiguration, matching the "overlap < chunk_size" invariant.
func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, ErrConfiguration
	}
	if cfg.Encoder == nil {
		cfg.Encoder = NewHeuristicEncoder()
	}
	return &Chunker{cfg: cfg}, nil
}

// Chunk splits text into an ordered sequence of token-sized windows. Empty
// input yields the empty sequence. The window advances by (ChunkSize -
// ChunkOverlap) estimated tokens at a time and splits on word boundaries,
// so no chunk ever cuts a word in half.
//
// Ids are opaque, globally unique UUIDs — collision-free across documents
// and across retries, since a fresh UUID is minted per call regardless of
// whether this is a first ingest or a re-ingest.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	for seq, windowText := range c.slidingWindow(text) {
		chunks = append(chunks, Chunk{
			ID:          uuid.NewString(),
			Text:        windowText,
			TokenCount:  c.cfg.Encoder.CountTokens(windowText),
			SequenceNum: seq,
		})
	}
	return chunks
}

// slidingWindow applies the token sliding window across the full text.
func (c *Chunker) slidingWindow(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	stepWords := c.wordsForTokens(c.cfg.ChunkSize - c.cfg.ChunkOverlap)
	if stepWords <= 0 {
		stepWords = 1
	}
	windowWords := c.wordsForTokens(c.cfg.ChunkSize)
	if windowWords <= 0 {
		windowWords = 1
	}

	var windows []string
	for start := 0; start < len(words); start += stepWords {
		end := start + windowWords
		if end > len(words) {
			end = len(words)
		}
		windows = append(windows, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}
	}
	return windows
}

// wordsForTokens inverts the encoder's token estimate to a word budget by
// probing the heuristic ratio; for non-heuristic encoders this falls back
// to a 1:1 token-to-word assumption, a larger window than the heuristic
// gives, which exceeds the caller's token budget whenever that encoder
// counts more than one token per word.
func (c *Chunker) wordsForTokens(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	if _, ok := c.cfg.Encoder.(heuristicEncoder); ok {
		return int(float64(tokens) / 1.3)
	}
	return tokens
}
