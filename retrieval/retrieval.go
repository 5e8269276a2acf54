// Package retrieval implements the Retrieval layer (C10): a single
// retrieve(query, top_k, mode) entry point fanning out to vector search,
// graph-intent dispatch, or both fused via Reciprocal Rank Fusion.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kgraph-ai/harmonizer/graphstore"
	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/security"
)

// Mode selects which retrieval path Engine.Retrieve takes (§4.10).
type Mode string

const (
	ModeVector Mode = "vector"
	ModeGraph  Mode = "graph"
	ModeHybrid Mode = "hybrid"
)

// Config tunes the fusion weights and candidate pool sizes used by
// Engine.Retrieve. Defaults favor the graph channel slightly, since a
// resolved graph hit carries more precision than a raw embedding match.
type Config struct {
	WeightVector float64
	WeightGraph  float64
	RRFK         int
	// FindConnectionsMaxHops bounds the shortest-path search dispatched by
	// the find_connections intent.
	FindConnectionsMaxHops int
}

// DefaultConfig returns the retrieval tuning used when the caller does not
// override it.
func DefaultConfig() Config {
	return Config{
		WeightVector:           1.0,
		WeightGraph:            1.2,
		RRFK:                   defaultRRFK,
		FindConnectionsMaxHops: 3,
	}
}

// Engine is the Retrieval layer's entry point, composing the Graph Store,
// an embedding provider, and a query Planner behind the three modes of
// §4.10.
type Engine struct {
	cfg     Config
	graph   graphstore.Store
	embed   llm.Provider
	planner *Planner
}

// NewEngine wires an Engine over the given Graph Store and providers.
func NewEngine(cfg Config, graph graphstore.Store, embed llm.Provider, chat llm.Provider) *Engine {
	return &Engine{cfg: cfg, graph: graph, embed: embed, planner: NewPlanner(chat)}
}

// Retrieve dispatches query against the requested mode and returns up to
// topK ranked chunk hits (§4.10 retrieve).
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, mode Mode) ([]graphstore.SearchHit, error) {
	switch mode {
	case ModeVector:
		return e.vectorSearch(ctx, query, topK)
	case ModeGraph:
		return e.graphSearch(ctx, query, topK)
	case ModeHybrid:
		return e.hybridSearch(ctx, query, topK)
	default:
		return nil, fmt.Errorf("retrieval: unknown mode %q", mode)
	}
}

func (e *Engine) vectorSearch(ctx context.Context, query string, topK int) ([]graphstore.SearchHit, error) {
	vecs, err := e.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("retrieval: embedder returned no vectors")
	}
	return e.graph.VectorSearch(ctx, vecs[0], graphstore.LabelChunk, topK)
}

// graphSearch plans the query into a security.Plan and dispatches on its
// Intent to the matching Graph Store primitive (§4.10 query intents).
func (e *Engine) graphSearch(ctx context.Context, query string, topK int) ([]graphstore.SearchHit, error) {
	plan := e.planner.Plan(ctx, query)
	return e.dispatchPlan(ctx, plan, query, topK)
}

func (e *Engine) dispatchPlan(ctx context.Context, plan security.Plan, query string, topK int) ([]graphstore.SearchHit, error) {
	switch plan.Intent {
	case security.IntentFindConnections:
		source, target := plan.Parameters["source"], plan.Parameters["target"]
		if source == "" || target == "" {
			return e.semanticGraphSearch(ctx, query, plan.Parameters["entity_type"], topK)
		}
		return e.graph.FindConnections(ctx, source, target, e.cfg.FindConnectionsMaxHops, topK)

	case security.IntentFindMitigatingControls:
		risk := plan.Parameters["risk"]
		if risk == "" {
			return e.semanticGraphSearch(ctx, query, "", topK)
		}
		controls, err := e.graph.FindMitigatingControls(ctx, risk, topK)
		if err != nil {
			return nil, err
		}
		return e.graph.MentioningChunks(ctx, entityIDs(controls), topK)

	case security.IntentGetAttributes:
		name := plan.Parameters["name"]
		if name == "" {
			return e.semanticGraphSearch(ctx, query, "", topK)
		}
		return e.graph.GetAttributes(ctx, name, topK)

	default: // security.IntentSemanticSearch, or anything ValidatePlan fell back to
		return e.semanticGraphSearch(ctx, query, plan.Parameters["entity_type"], topK)
	}
}

// semanticGraphSearch embeds query and runs hybrid_search (entity vector
// search plus one-hop neighbor expansion), then maps the matched entities
// to the chunks that mention them.
func (e *Engine) semanticGraphSearch(ctx context.Context, query, entityTypeFilter string, topK int) ([]graphstore.SearchHit, error) {
	vecs, err := e.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("retrieval: embedder returned no vectors")
	}
	hits, err := e.graph.HybridSearch(ctx, vecs[0], entityTypeFilter, topK, true)
	if err != nil {
		return nil, err
	}
	ids := entityIDs(hits)
	for _, h := range hits {
		for _, n := range h.Neighbors {
			ids = append(ids, n.CanonicalID)
		}
	}
	return e.graph.MentioningChunks(ctx, ids, topK)
}

// hybridSearch runs vector and graph retrieval concurrently, each budgeted
// at twice topK so fusion has enough candidates to rerank from, then fuses
// via Reciprocal Rank Fusion and truncates to topK (§4.10 hybrid mode).
func (e *Engine) hybridSearch(ctx context.Context, query string, topK int) ([]graphstore.SearchHit, error) {
	candidatePool := topK * 2
	var vecHits, graphHits []graphstore.SearchHit

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		hits, err := e.vectorSearch(gctx, query, candidatePool)
		if err != nil {
			return fmt.Errorf("hybrid vector channel: %w", err)
		}
		vecHits = hits
		return nil
	})
	eg.Go(func() error {
		hits, err := e.graphSearch(gctx, query, candidatePool)
		if err != nil {
			return fmt.Errorf("hybrid graph channel: %w", err)
		}
		graphHits = hits
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return fuseRRF(vecHits, graphHits, e.cfg.WeightVector, e.cfg.WeightGraph, e.cfg.RRFK, topK), nil
}

func entityIDs(hits []graphstore.SearchHit) []int64 {
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.EntityID)
	}
	return ids
}
