package harmonizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/retrieval"
	"github.com/kgraph-ai/harmonizer/security"
)

// Source is a retrieved chunk backing an answer, the {document_id,
// chunk_id, score} triple of §6's Query contract.
type Source struct {
	DocumentID int64   `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet,omitempty"`
}

// QueryResult is Query's return value: the generated answer's tokens,
// delivered incrementally over a channel, plus its source list.
type QueryResult struct {
	Tokens  <-chan string
	Sources []Source
}

// QueryMode selects retrieval.Mode at the Engine boundary, so callers of
// this package never need to import the retrieval package directly.
type QueryMode = retrieval.Mode

const (
	QueryModeVector = retrieval.ModeVector
	QueryModeGraph  = retrieval.ModeGraph
	QueryModeHybrid = retrieval.ModeHybrid
)

// answerPromptTemplate takes (capped retrieved context, question).
const answerPromptTemplate = `Answer the question using only the context below. If the context does not contain the answer, say so plainly.

CONTEXT:
%s

QUESTION:
%s`

// Query implements §6's external Query operation: retrieve(text, top_k,
// mode), bind the hits into a generator prompt capped at
// cfg.MaxContextKiB (§4.11 Retrieved context), and generate an answer.
// The returned channel is closed once every token has been sent; callers
// that only want the final text can drain it with collectTokens.
func (e *Engine) Query(ctx context.Context, text string, topK int, mode QueryMode) (QueryResult, error) {
	hits, err := e.retrieve.Retrieve(ctx, text, topK, mode)
	if err != nil {
		return QueryResult{}, fmt.Errorf("retrieving context: %w", err)
	}

	var contextParts []string
	for _, h := range hits {
		if h.Text != "" {
			contextParts = append(contextParts, h.Text)
		}
	}

	cappedContext := security.CapContext(strings.Join(contextParts, "\n\n"), e.cfg.MaxContextKiB)
	sanitizedQuestion := security.Sanitize(text, nil)

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(answerPromptTemplate, cappedContext, sanitizedQuestion)}},
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("generating answer: %w", err)
	}

	answerWords := significantWords(resp.Content)
	sources := make([]Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, Source{
			DocumentID: h.DocID,
			ChunkID:    h.ChunkID,
			Score:      h.Score,
			Snippet:    extractSnippet(h.Text, answerWords),
		})
	}

	return QueryResult{Tokens: streamTokens(resp.Content), Sources: sources}, nil
}

// streamTokens splits a completed chat response into whitespace-preserving
// word tokens pushed onto a channel, the host-visible "streamed tokens"
// shape of §6 — the underlying llm.Provider is a single-shot completion
// call, not a token-streaming one, so this is where the response becomes
// a stream rather than where generation itself streams.
func streamTokens(content string) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, f := range strings.SplitAfter(content, " ") {
			if f == "" {
				continue
			}
			ch <- f
		}
	}()
	return ch
}

// collectTokens drains a QueryResult's token channel into a single string,
// for callers that do not need incremental delivery.
func collectTokens(tokens <-chan string) string {
	var b strings.Builder
	for t := range tokens {
		b.WriteString(t)
	}
	return b.String()
}
