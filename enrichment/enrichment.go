// Package enrichment implements the Enrichment Worker (C9): a periodic
// scheduler that drains PENDING EnrichmentQueueItems, asks an LLM to
// propose a canonical name for each unresolved mention, and folds it into
// the Canonical Store via its atomic get-or-create primitive
// (GetOrCreateCanonicalNode).
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kgraph-ai/harmonizer/canonicalstore"
	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/security"
)

// aliasConfidence is the confidence recorded for an alias minted by the
// enrichment worker, per §4.9 — lower than an exact extractor match would
// imply, since it is itself an LLM proposal.
const aliasConfidence = 0.98

// defaultBatchSize bounds how many PENDING items a single Run dequeues.
const defaultBatchSize = 25

const canonicalNamePromptTemplate = `You are assigning a canonical name to an entity mention extracted from a document.

Mention: %s
Proposed type: %s
Context: %s

Respond with a strict JSON object with exactly one key:
{"canonical_name": string}

The canonical_name should be the clearest, most standard form of this entity's name (e.g. expand abbreviations, normalize casing conventions for the type). Do not include any text outside the JSON object.`

type canonicalNameResponse struct {
	CanonicalName string `json:"canonical_name"`
}

// Worker drains the enrichment queue on a schedule.
type Worker struct {
	store     canonicalstore.Store
	chat      llm.Provider
	embedder  llm.Provider
	batchSize int
}

// Option configures a Worker.
type Option func(*Worker)

// WithBatchSize overrides the default per-run dequeue size.
func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

// New creates a Worker. chat proposes canonical names, embedder embeds
// them; both are typically the same llm.Provider.
func New(store canonicalstore.Store, chat, embedder llm.Provider, opts ...Option) *Worker {
	w := &Worker{store: store, chat: chat, embedder: embedder, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run dequeues up to the configured batch size of PENDING items and
// processes each independently; one item's failure does not affect the
// others. It returns the number of items processed (whether COMPLETED or
// FAILED) so a caller can log scheduler throughput.
func (w *Worker) Run(ctx context.Context) (int, error) {
	items, err := w.store.DequeuePending(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeuing enrichment items: %w", err)
	}
	for _, item := range items {
		if err := w.processItem(ctx, item); err != nil {
			slog.Warn("enrichment: item failed", "item_id", item.ID, "raw_name", item.RawName, "error", err)
			if uerr := w.store.UpdateEnrichmentStatus(ctx, item.ID, canonicalstore.EnrichmentFailed); uerr != nil {
				slog.Error("enrichment: failed to mark item FAILED", "item_id", item.ID, "error", uerr)
			}
			continue
		}
		if uerr := w.store.UpdateEnrichmentStatus(ctx, item.ID, canonicalstore.EnrichmentCompleted); uerr != nil {
			slog.Error("enrichment: failed to mark item COMPLETED", "item_id", item.ID, "error", uerr)
		}
	}
	return len(items), nil
}

func (w *Worker) processItem(ctx context.Context, item canonicalstore.EnrichmentQueueItem) error {
	canonicalName, err := w.proposeCanonicalName(ctx, item)
	if err != nil {
		return fmt.Errorf("proposing canonical name: %w", err)
	}

	embeddings, err := w.embedder.Embed(ctx, []string{canonicalName})
	if err != nil {
		return fmt.Errorf("embedding canonical name: %w", err)
	}
	if len(embeddings) == 0 {
		return fmt.Errorf("embedder returned no vector for %q", canonicalName)
	}

	node, _, err := w.store.GetOrCreateCanonicalNode(ctx, item.ProposedType, canonicalName, embeddings[0])
	if err != nil {
		return fmt.Errorf("get-or-create canonical node: %w", err)
	}

	// Alias uniqueness is a softer constraint than canonical-name
	// uniqueness (§4.9): a duplicate alias attempt is suppressed, not an
	// error, since InsertNodeAlias is itself an upsert keyed on alias.
	if _, err := w.store.InsertNodeAlias(ctx, canonicalstore.NodeAlias{
		Alias:           item.RawName,
		CanonicalNodeID: node.ID,
		Confidence:      aliasConfidence,
	}); err != nil {
		return fmt.Errorf("inserting node alias: %w", err)
	}
	return nil
}

func (w *Worker) proposeCanonicalName(ctx context.Context, item canonicalstore.EnrichmentQueueItem) (string, error) {
	cleanContext := security.Sanitize(item.ContextChunk, func(pattern string) {
		slog.Warn("enrichment: injection pattern detected in context chunk", "item_id", item.ID, "pattern", pattern)
	})
	prompt := fmt.Sprintf(canonicalNamePromptTemplate, item.RawName, item.ProposedType, cleanContext)

	resp, err := w.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return "", fmt.Errorf("llm chat: %w", err)
	}

	var parsed canonicalNameResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
		return "", fmt.Errorf("parsing canonical name response: %w", err)
	}
	name := strings.TrimSpace(parsed.CanonicalName)
	if name == "" {
		return "", fmt.Errorf("llm returned empty canonical_name")
	}
	return name, nil
}

// RunForever calls Run on a fixed interval until ctx is canceled. It is
// the scheduler half of the "periodic scheduler dispatches a bounded
// batch" description in §4.9. Nothing in cmd/server or Engine starts a
// Worker; the host that constructs one calls RunForever itself.
func (w *Worker) RunForever(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Run(ctx)
			if err != nil {
				slog.Error("enrichment: run failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("enrichment: processed batch", "count", n)
			}
		}
	}
}
