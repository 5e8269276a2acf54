package resolver

import (
	"context"
	"testing"

	"github.com/kgraph-ai/harmonizer/canonicalstore"
	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/ontology"
)

// fakeStore implements canonicalstore.Store with just enough behavior for
// resolver tests: a fixed alias table and a fixed nearest-neighbor result.
type fakeStore struct {
	aliases  map[string]canonicalstore.NodeAlias
	nearest  []canonicalstore.ScoredNode
	enqueued []canonicalstore.EnrichmentQueueItem
}

func (f *fakeStore) InsertDocument(context.Context, canonicalstore.Document) (int64, error) { return 0, nil }
func (f *fakeStore) GetDocument(context.Context, int64) (*canonicalstore.Document, error)   { return nil, nil }
func (f *fakeStore) GetDocumentByContentHash(context.Context, string) (*canonicalstore.Document, error) {
	return nil, nil
}
func (f *fakeStore) UpdateDocumentStatus(context.Context, int64, canonicalstore.DocumentStatus, string) error {
	return nil
}
func (f *fakeStore) DeleteDocument(context.Context, int64) error { return nil }
func (f *fakeStore) GetOrCreateCanonicalNode(context.Context, string, string, []float32) (canonicalstore.CanonicalNode, bool, error) {
	return canonicalstore.CanonicalNode{}, false, nil
}
func (f *fakeStore) GetCanonicalNode(context.Context, int64) (*canonicalstore.CanonicalNode, error) {
	return nil, nil
}
func (f *fakeStore) NearestCanonicalNodes(context.Context, []float32, int) ([]canonicalstore.ScoredNode, error) {
	return f.nearest, nil
}
func (f *fakeStore) InsertNodeAlias(context.Context, canonicalstore.NodeAlias) (int64, error) {
	return 0, nil
}
func (f *fakeStore) LookupAlias(ctx context.Context, alias string) (*canonicalstore.NodeAlias, error) {
	if a, ok := f.aliases[alias]; ok {
		return &a, nil
	}
	return nil, nil
}
func (f *fakeStore) EnqueueUnresolved(ctx context.Context, item canonicalstore.EnrichmentQueueItem) (int64, error) {
	f.enqueued = append(f.enqueued, item)
	return int64(len(f.enqueued)), nil
}
func (f *fakeStore) DequeuePending(context.Context, int) ([]canonicalstore.EnrichmentQueueItem, error) {
	return nil, nil
}
func (f *fakeStore) UpdateEnrichmentStatus(context.Context, int64, canonicalstore.EnrichmentStatus) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

var _ canonicalstore.Store = (*fakeStore)(nil)

// fakeEmbedder returns a fixed embedding regardless of input text.
type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}
func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestResolveExactAliasMatch(t *testing.T) {
	store := &fakeStore{aliases: map[string]canonicalstore.NodeAlias{
		"mfa": {ID: 1, Alias: "mfa", CanonicalNodeID: 42, Confidence: 0.98},
	}}
	r := New(store, &fakeEmbedder{})

	res, err := r.Resolve(context.Background(), "mfa", "control")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.IsResolved() || res.CanonicalID != 42 {
		t.Fatalf("expected exact alias match to resolve to 42, got %+v", res)
	}
}

func TestResolveVectorMatchAboveThreshold(t *testing.T) {
	store := &fakeStore{
		aliases: map[string]canonicalstore.NodeAlias{},
		nearest: []canonicalstore.ScoredNode{{Node: canonicalstore.CanonicalNode{ID: 7}, Similarity: 0.97}},
	}
	r := New(store, &fakeEmbedder{vec: []float32{0.1, 0.2}})

	res, err := r.Resolve(context.Background(), "multi-factor auth", "control")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.IsResolved() || res.CanonicalID != 7 {
		t.Fatalf("expected vector match >= threshold to resolve to 7, got %+v", res)
	}
}

func TestResolveBelowThresholdIsUnresolved(t *testing.T) {
	store := &fakeStore{
		nearest: []canonicalstore.ScoredNode{{Node: canonicalstore.CanonicalNode{ID: 7}, Similarity: 0.80}},
	}
	r := New(store, &fakeEmbedder{vec: []float32{0.1, 0.2}})

	res, err := r.Resolve(context.Background(), "some novel entity", "control")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.IsResolved() {
		t.Fatalf("expected below-threshold similarity to be unresolved, got %+v", res)
	}
	if res.BestSimilarity != 0.80 {
		t.Errorf("BestSimilarity = %v, want 0.80", res.BestSimilarity)
	}
}

func TestResolveAllBuildsIDMapAndUnresolvedList(t *testing.T) {
	store := &fakeStore{
		aliases: map[string]canonicalstore.NodeAlias{"mfa": {CanonicalNodeID: 42}},
		nearest: []canonicalstore.ScoredNode{{Node: canonicalstore.CanonicalNode{ID: 7}, Similarity: 0.5}},
	}
	r := New(store, &fakeEmbedder{vec: []float32{0.1}})

	entities := []ontology.ExtractedEntity{
		{ID: "MFA", Name: "mfa", Type: "control"},
		{ID: "ACME", Name: "acme corp", Type: "organization"},
	}
	contextByID := map[string]string{"ACME": "Acme Corp supplies the widget."}

	result, err := r.ResolveAll(context.Background(), entities, contextByID)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if result.IDMap["MFA"] != 42 {
		t.Errorf("expected MFA resolved to 42, got %+v", result.IDMap)
	}
	if len(result.Unresolved) != 1 || result.Unresolved[0].TempID != "ACME" {
		t.Fatalf("expected ACME unresolved, got %+v", result.Unresolved)
	}
	if result.Unresolved[0].Context != "Acme Corp supplies the widget." {
		t.Errorf("unresolved context not carried through, got %q", result.Unresolved[0].Context)
	}
}

func TestRemapRelationsDropsUnmappedEndpoint(t *testing.T) {
	idMap := map[string]int64{"MFA": 42}
	relations := []ontology.ExtractedRelation{
		{Source: "MFA", Target: "ACME", Type: "mitigates", ChunkID: "c1"},
	}
	remapped := RemapRelations(relations, idMap)
	if len(remapped) != 0 {
		t.Fatalf("expected relation with unmapped target dropped, got %+v", remapped)
	}
}

func TestRemapRelationsDropsSelfLoop(t *testing.T) {
	idMap := map[string]int64{"A": 1, "B": 1}
	relations := []ontology.ExtractedRelation{
		{Source: "A", Target: "B", Type: "related_to", ChunkID: "c1"},
	}
	remapped := RemapRelations(relations, idMap)
	if len(remapped) != 0 {
		t.Fatalf("expected self-loop after remap dropped, got %+v", remapped)
	}
}

func TestRemapRelationsKeepsValidRelation(t *testing.T) {
	idMap := map[string]int64{"MFA": 42, "ISO": 7}
	relations := []ontology.ExtractedRelation{
		{Source: "MFA", Target: "ISO", Type: "mitigates", ChunkID: "c1"},
	}
	remapped := RemapRelations(relations, idMap)
	if len(remapped) != 1 {
		t.Fatalf("expected 1 remapped relation, got %d", len(remapped))
	}
	if remapped[0].SourceCanonicalID != 42 || remapped[0].TargetCanonicalID != 7 {
		t.Errorf("unexpected remap: %+v", remapped[0])
	}
	if remapped[0].Type != "MITIGATES" {
		t.Errorf("relation type = %q, want uppercased MITIGATES", remapped[0].Type)
	}
}
