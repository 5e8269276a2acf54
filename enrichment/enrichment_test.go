package enrichment

import (
	"context"
	"testing"

	"github.com/kgraph-ai/harmonizer/canonicalstore"
	"github.com/kgraph-ai/harmonizer/llm"
)

type fakeStore struct {
	pending    []canonicalstore.EnrichmentQueueItem
	nodes      map[string]canonicalstore.CanonicalNode
	aliases    []canonicalstore.NodeAlias
	statusCall map[int64]canonicalstore.EnrichmentStatus
}

func newFakeStore(items ...canonicalstore.EnrichmentQueueItem) *fakeStore {
	return &fakeStore{pending: items, nodes: make(map[string]canonicalstore.CanonicalNode), statusCall: make(map[int64]canonicalstore.EnrichmentStatus)}
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

func (f *fakeStore) GetOrCreateCanonicalNode(ctx context.Context, nodeType, name string, embedding []float32) (canonicalstore.CanonicalNode, bool, error) {
	if n, ok := f.nodes[name]; ok {
		return n, false, nil
	}
	n := canonicalstore.CanonicalNode{ID: int64(len(f.nodes) + 1), NodeType: nodeType, Name: name, Embedding: embedding}
	f.nodes[name] = n
	return n, true, nil
}
func (f *fakeStore) GetCanonicalNode(context.Context, int64) (*canonicalstore.CanonicalNode, error) {
	return nil, nil
}
func (f *fakeStore) NearestCanonicalNodes(context.Context, []float32, int) ([]canonicalstore.ScoredNode, error) {
	return nil, nil
}
func (f *fakeStore) InsertNodeAlias(ctx context.Context, alias canonicalstore.NodeAlias) (int64, error) {
	f.aliases = append(f.aliases, alias)
	return int64(len(f.aliases)), nil
}
func (f *fakeStore) LookupAlias(context.Context, string) (*canonicalstore.NodeAlias, error) {
	return nil, nil
}
func (f *fakeStore) EnqueueUnresolved(context.Context, canonicalstore.EnrichmentQueueItem) (int64, error) {
	return 0, nil
}
func (f *fakeStore) DequeuePending(ctx context.Context, limit int) ([]canonicalstore.EnrichmentQueueItem, error) {
	items := f.pending
	f.pending = nil
	return items, nil
}
func (f *fakeStore) UpdateEnrichmentStatus(ctx context.Context, id int64, status canonicalstore.EnrichmentStatus) error {
	f.statusCall[id] = status
	return nil
}
func (f *fakeStore) Close() error { return nil }

var _ canonicalstore.Store = (*fakeStore)(nil)

type scriptedProvider struct {
	chatResponse string
	chatErr      error
	embedVec     []float32
}

func (s *scriptedProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &llm.ChatResponse{Content: s.chatResponse}, nil
}
func (s *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.embedVec
	}
	return out, nil
}

var _ llm.Provider = (*scriptedProvider)(nil)

func TestRunProcessesPendingItemToCompletion(t *testing.T) {
	store := newFakeStore(canonicalstore.EnrichmentQueueItem{
		ID: 1, RawName: "mfa", ProposedType: "control", ContextChunk: "Enable MFA for all admin accounts.",
	})
	provider := &scriptedProvider{
		chatResponse: `{"canonical_name": "Multi-Factor Authentication"}`,
		embedVec:     []float32{0.1, 0.2, 0.3},
	}
	w := New(store, provider, provider)

	n, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item processed, got %d", n)
	}
	if store.statusCall[1] != canonicalstore.EnrichmentCompleted {
		t.Fatalf("expected item 1 marked COMPLETED, got %q", store.statusCall[1])
	}
	if len(store.aliases) != 1 || store.aliases[0].Alias != "mfa" {
		t.Fatalf("expected alias 'mfa' inserted, got %+v", store.aliases)
	}
	if store.aliases[0].Confidence != aliasConfidence {
		t.Errorf("alias confidence = %v, want %v", store.aliases[0].Confidence, aliasConfidence)
	}
}

func TestRunMarksItemFailedOnLLMError(t *testing.T) {
	store := newFakeStore(canonicalstore.EnrichmentQueueItem{ID: 1, RawName: "acme", ProposedType: "organization"})
	provider := &scriptedProvider{chatErr: context.DeadlineExceeded}
	w := New(store, provider, provider)

	n, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item processed, got %d", n)
	}
	if store.statusCall[1] != canonicalstore.EnrichmentFailed {
		t.Fatalf("expected item marked FAILED, got %q", store.statusCall[1])
	}
	if len(store.aliases) != 0 {
		t.Fatalf("expected no alias inserted on failure, got %+v", store.aliases)
	}
}

func TestRunMarksItemFailedOnMalformedResponse(t *testing.T) {
	store := newFakeStore(canonicalstore.EnrichmentQueueItem{ID: 1, RawName: "acme", ProposedType: "organization"})
	provider := &scriptedProvider{chatResponse: "not json"}
	w := New(store, provider, provider)

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.statusCall[1] != canonicalstore.EnrichmentFailed {
		t.Fatalf("expected item marked FAILED on malformed response, got %q", store.statusCall[1])
	}
}
