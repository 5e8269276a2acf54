// Package resolver implements the Resolver/Harmonizer (C7): the two-stage
// neuro-symbolic matcher that maps an extracted mention to a canonical
// node, or routes it to the enrichment queue when neither stage places it.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kgraph-ai/harmonizer/canonicalstore"
	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/ontology"
)

// defaultResolutionThreshold is the minimum cosine similarity for stage 2
// (neural vector match) to count as resolved.
const defaultResolutionThreshold = 0.95

// Resolution is the Go sum type for a resolve() outcome (§4.7, §9 Design
// Notes): an explicit result variant instead of a sentinel error, since
// "unresolved" is a routine branch, not a failure. Exactly one of
// Resolved/Unresolved is populated; callers switch on IsResolved.
type Resolution struct {
	resolved bool

	// CanonicalID is set when IsResolved() is true.
	CanonicalID int64

	// Name, Type, and BestSimilarity are set when IsResolved() is false.
	Name           string
	Type           string
	BestSimilarity float64
}

// IsResolved reports whether a mention was placed at a canonical node.
func (r Resolution) IsResolved() bool { return r.resolved }

func resolved(id int64) Resolution {
	return Resolution{resolved: true, CanonicalID: id}
}

func unresolved(name, typ string, bestSimilarity float64) Resolution {
	return Resolution{resolved: false, Name: name, Type: typ, BestSimilarity: bestSimilarity}
}

// Resolver holds the dependencies for entity resolution: the Canonical
// Store for alias lookup and vector search, and an embedding capability
// for stage 2.
type Resolver struct {
	store     canonicalstore.Store
	embedder  llm.Provider
	threshold float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithResolutionThreshold overrides the default 0.95 cosine-similarity
// cutoff for stage 2.
func WithResolutionThreshold(threshold float64) Option {
	return func(r *Resolver) { r.threshold = threshold }
}

// New creates a Resolver.
func New(store canonicalstore.Store, embedder llm.Provider, opts ...Option) *Resolver {
	r := &Resolver{store: store, embedder: embedder, threshold: defaultResolutionThreshold}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the two-stage pipeline for a single mention (§4.7):
//  1. Symbolic exact match — case-insensitive NodeAlias lookup.
//  2. Neural vector match — embed the mention, cosine-nearest-neighbor in
//     CanonicalNode; resolved if similarity >= threshold.
func (r *Resolver) Resolve(ctx context.Context, name, entityType string) (Resolution, error) {
	alias, err := r.store.LookupAlias(ctx, name)
	if err != nil {
		return Resolution{}, fmt.Errorf("alias lookup: %w", err)
	}
	if alias != nil {
		return resolved(alias.CanonicalNodeID), nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{name})
	if err != nil {
		return Resolution{}, fmt.Errorf("embedding mention: %w", err)
	}
	if len(embeddings) == 0 {
		return unresolved(name, entityType, 0), nil
	}

	neighbors, err := r.store.NearestCanonicalNodes(ctx, embeddings[0], 1)
	if err != nil {
		return Resolution{}, fmt.Errorf("nearest canonical nodes: %w", err)
	}
	if len(neighbors) == 0 {
		return unresolved(name, entityType, 0), nil
	}

	best := neighbors[0]
	if best.Similarity >= r.threshold {
		return resolved(best.Node.ID), nil
	}
	return unresolved(name, entityType, best.Similarity), nil
}

// BatchResult is the output of resolve_all (§4.7): a temporary-id to
// canonical-id map for everything that resolved, plus the list of
// mentions that did not and must be enqueued for enrichment.
type BatchResult struct {
	IDMap      map[string]int64
	Unresolved []UnresolvedMention
}

// UnresolvedMention is one entity that cleared neither resolution stage.
type UnresolvedMention struct {
	TempID  string
	Name    string
	Type    string
	Context string
}

// ResolveAll runs Resolve over every extracted entity and aggregates the
// results into an id_map plus an unresolved list (§4.7 resolve_all).
// context, keyed by temporary id, supplies the source chunk text an
// unresolved mention is enqueued with.
func (r *Resolver) ResolveAll(ctx context.Context, entities []ontology.ExtractedEntity, contextByID map[string]string) (BatchResult, error) {
	result := BatchResult{IDMap: make(map[string]int64, len(entities))}
	for _, e := range entities {
		res, err := r.Resolve(ctx, e.Name, e.Type)
		if err != nil {
			return BatchResult{}, fmt.Errorf("resolving %q: %w", e.ID, err)
		}
		if res.IsResolved() {
			result.IDMap[e.ID] = res.CanonicalID
			continue
		}
		result.Unresolved = append(result.Unresolved, UnresolvedMention{
			TempID:  e.ID,
			Name:    res.Name,
			Type:    res.Type,
			Context: contextByID[e.ID],
		})
	}
	return result, nil
}

// EnqueueUnresolved writes every unresolved mention to the enrichment
// queue so the Enrichment Worker (C9) can canonicalize it asynchronously.
func (r *Resolver) EnqueueUnresolved(ctx context.Context, unresolved []UnresolvedMention) error {
	for _, u := range unresolved {
		if _, err := r.store.EnqueueUnresolved(ctx, canonicalstore.EnrichmentQueueItem{
			RawName:      u.Name,
			ProposedType: u.Type,
			ContextChunk: u.Context,
			Status:       canonicalstore.EnrichmentPending,
		}); err != nil {
			return fmt.Errorf("enqueuing %q: %w", u.Name, err)
		}
	}
	return nil
}

// RemapRelations replaces each relation's source/target temporary id with
// its resolved canonical id via idMap (§4.7). A relation with an unmapped
// endpoint, or whose endpoints collapse to the same canonical id (a
// self-loop after remap), is dropped with a warning log — both are
// routine outcomes, not errors.
func RemapRelations(relations []ontology.ExtractedRelation, idMap map[string]int64) []RemappedRelation {
	out := make([]RemappedRelation, 0, len(relations))
	for _, rel := range relations {
		srcID, srcOK := idMap[rel.Source]
		tgtID, tgtOK := idMap[rel.Target]
		if !srcOK || !tgtOK {
			slog.Warn("resolver: dropping relation with unmapped endpoint",
				"source", rel.Source, "target", rel.Target, "type", rel.Type)
			continue
		}
		if srcID == tgtID {
			slog.Warn("resolver: dropping self-loop relation after remap",
				"canonical_id", srcID, "type", rel.Type)
			continue
		}
		out = append(out, RemappedRelation{
			SourceCanonicalID: srcID,
			TargetCanonicalID: tgtID,
			Type:              strings.ToUpper(rel.Type),
			ChunkID:           rel.ChunkID,
		})
	}
	return out
}

// RemappedRelation is a GraphRelation ready for the Graph Store: its
// endpoints are canonical node ids, not the Extractor's temporary ids.
type RemappedRelation struct {
	SourceCanonicalID int64
	TargetCanonicalID int64
	Type              string
	ChunkID           string
}
