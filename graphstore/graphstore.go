// Package graphstore implements the Graph Store (C5): a typed property
// graph with native vector indexes, reached through a Store interface so
// the canonical Neo4j backend and an in-process backend (for tests and
// single-node deployments) satisfy the same contract.
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// safeIdentifier gates every string destined to become a Cypher label or
// relationship type. LLM output can propose arbitrary type names; nothing
// matching this is ever substituted into query text unvalidated.
var safeIdentifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// ErrInvalidLabel is returned when a label or relation-type string fails
// the safe-identifier check.
var ErrInvalidLabel = errors.New("graphstore: invalid label or relation type")

// ValidateIdentifier rejects anything that is not a safe Cypher label or
// relationship-type token, the system's defense against Cypher injection
// carried through LLM-produced entity/relation types.
func ValidateIdentifier(s string) error {
	if !safeIdentifier.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, s)
	}
	return nil
}

// sanitizeProperty strips null bytes from a string property before it
// reaches a Cypher parameter map. It does not look at float values; NaN/Inf
// handling for embeddings is sanitizeEmbedding's.
func sanitizeProperty(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

func validFloat(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// sanitizeEmbedding returns a copy of v with NaN/Inf components zeroed; a
// vector holding them is not rejected, so a poisoned single component
// does not make the whole vector unusable.
func sanitizeEmbedding(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		if validFloat(f) {
			out[i] = f
		}
	}
	return out
}

// Document is the Graph Store's view of a Document node: identity and
// display fields only, the authoritative status lives in the Canonical
// Store.
type Document struct {
	ID       int64
	Filename string
}

// Chunk is a Document's segment, carrying its own embedding for the
// Chunk-level vector index.
type Chunk struct {
	ID          string
	DocID       int64
	SequenceNum int
	Text        string
	Embedding   []float32
}

// Entity is the single `Entity` label node: canonical_id ties it back to
// the Canonical Store's CanonicalNode, node_type is stored as a plain
// property rather than a dynamic label (see upsert_entities).
type Entity struct {
	CanonicalID int64
	NodeType    string
	Name        string
	Embedding   []float32
}

// Relation is a typed edge between two canonical entity ids, optionally
// annotated with the chunk it was extracted from.
type Relation struct {
	SourceID     int64
	TargetID     int64
	RelationType string
	ChunkID      string
}

// SearchHit is one result row from vector_search or hybrid_search: either
// a chunk or an entity hit, distinguished by which id/text field is set.
type SearchHit struct {
	ChunkID   string
	DocID     int64 // populated on Chunk hits; the retrieval package's source attribution
	EntityID  int64
	Text      string
	Name      string
	Score     float64
	Neighbors []Entity // populated by hybrid_search when expand_neighbors is set
}

// SearchLabel selects which vector index vector_search / hybrid_search
// queries.
type SearchLabel string

const (
	LabelChunk  SearchLabel = "Chunk"
	LabelEntity SearchLabel = "Entity"
)

// Store is the Graph Store contract (§4.5). A Neo4j-backed implementation
// is canonical; an in-process implementation satisfies the same contract
// for tests and single-node deployments.
type Store interface {
	InitializeSchema(ctx context.Context, vectorDim int) error

	UpsertDocument(ctx context.Context, doc Document) error
	UpsertChunks(ctx context.Context, docID int64, chunks []Chunk) error
	UpsertEntities(ctx context.Context, entities []Entity) error
	UpsertRelations(ctx context.Context, relations []Relation) error
	LinkChunkToEntities(ctx context.Context, chunkID string, entityIDs []int64) error

	DeleteDocument(ctx context.Context, docID int64) error
	GarbageCollectOrphans(ctx context.Context) (int, error)

	VectorSearch(ctx context.Context, queryVec []float32, label SearchLabel, topK int) ([]SearchHit, error)
	HybridSearch(ctx context.Context, queryVec []float32, entityTypeFilter string, topK int, expandNeighbors bool) ([]SearchHit, error)

	// MentioningChunks returns the distinct chunks that mention any of
	// entityIDs, the shared primitive behind every query intent that must
	// surface chunk-level results from an entity-level match (semantic
	// search's hybrid_search hits, find_mitigating_controls' Control
	// entities).
	MentioningChunks(ctx context.Context, entityIDs []int64, topK int) ([]SearchHit, error)

	// GetAttributes implements the get_attributes query intent (§4.10): a
	// name-contains entity lookup, returning the chunks that mention any
	// matching entity.
	GetAttributes(ctx context.Context, nameContains string, topK int) ([]SearchHit, error)
	// FindConnections implements the find_connections query intent: a
	// shortest path of at most maxHops between an entity matching
	// sourceNameContains and one matching targetNameContains, returning
	// the chunks that mention any node on the path.
	FindConnections(ctx context.Context, sourceNameContains, targetNameContains string, maxHops, topK int) ([]SearchHit, error)
	// FindMitigatingControls implements the find_mitigating_controls query
	// intent: the (Risk)<-[MITIGATES]-(Control) pattern filtered by a
	// risk name match, returning the matching Control entities.
	FindMitigatingControls(ctx context.Context, riskNameContains string, topK int) ([]SearchHit, error)

	Close(ctx context.Context) error
}
