package extractor

import (
	"context"
	"testing"

	"github.com/kgraph-ai/harmonizer/chunker"
	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/ontology"
)

// scriptedProvider returns canned JSON responses in order, one per Chat call.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return &llm.ChatResponse{Content: `{}`}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return &llm.ChatResponse{Content: resp}, nil
}

func (p *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func testSchema() ontology.Schema {
	return ontology.Schema{
		EntityTypes: []string{"standard", "control"},
		RelationTypes: []ontology.RelationType{
			{Name: "MITIGATES", SourceTypes: []string{"control"}, TargetTypes: []string{"standard"}},
		},
	}
}

func TestExtractParsesEntitiesAndRelationsFromOneCall(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"entities": [{"id": "ISO_27001", "name": "iso 27001", "type": "standard"}, {"id": "MFA", "name": "mfa", "type": "control"}],
		  "relations": [{"source": "MFA", "target": "ISO_27001", "type": "mitigates"}]}`,
	}}

	e := New(provider, 4)
	chunks := []chunker.Chunk{{ID: "c1", Text: "MFA satisfies ISO 27001 access control requirements.", TokenCount: 40}}

	res, err := e.Extract(context.Background(), testSchema(), chunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected exactly 1 llm call per chunk, got %d", provider.calls)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d: %+v", len(res.Entities), res.Entities)
	}
	if len(res.Relations) != 1 {
		t.Fatalf("expected 1 relation, got %d: %+v", len(res.Relations), res.Relations)
	}
	if res.Relations[0].Type != "MITIGATES" {
		t.Errorf("relation type = %q, want %q", res.Relations[0].Type, "MITIGATES")
	}
	if res.Relations[0].ChunkID != "c1" {
		t.Errorf("relation chunk_id = %q, want %q", res.Relations[0].ChunkID, "c1")
	}
}

func TestExtractSkipsChunksBelowMinTokens(t *testing.T) {
	provider := &scriptedProvider{}
	e := New(provider, 4)
	chunks := []chunker.Chunk{{ID: "c1", Text: "Too short.", TokenCount: 2}}

	res, err := e.Extract(context.Background(), testSchema(), chunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("expected no entities for a skipped chunk, got %d", len(res.Entities))
	}
	if provider.calls != 0 {
		t.Errorf("expected no LLM calls for a skipped chunk, got %d", provider.calls)
	}
}

func TestExtractEmptySchemaShortCircuits(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"entities": [{"id": "X", "name": "x", "type": "standard"}]}`,
	}}
	e := New(provider, 4)
	chunks := []chunker.Chunk{{ID: "c1", Text: "Some reasonably long piece of text to extract from.", TokenCount: 40}}

	res, err := e.Extract(context.Background(), ontology.Schema{}, chunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Entities) != 0 || len(res.Relations) != 0 {
		t.Fatalf("expected empty result for empty schema, got %+v", res)
	}
	if provider.calls != 0 {
		t.Errorf("expected no LLM calls for empty schema, got %d", provider.calls)
	}
}

func TestExtractDropsOffSchemaEntityType(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"entities": [{"id": "ACME", "name": "acme corp", "type": "organization"}], "relations": []}`,
	}}
	e := New(provider, 4)
	chunks := []chunker.Chunk{{ID: "c1", Text: "Acme Corp supplies the widget.", TokenCount: 40}}

	res, err := e.Extract(context.Background(), testSchema(), chunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("expected off-schema entity type dropped, got %+v", res.Entities)
	}
}

func TestExtractDeduplicatesByTemporaryIDFirstOccurrenceWins(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"entities": [{"id": "MFA", "name": "mfa", "type": "control"}], "relations": []}`,
		`{"entities": [{"id": "MFA", "name": "multi-factor authentication", "type": "control"}], "relations": []}`,
	}}
	e := New(provider, 1)
	chunks := []chunker.Chunk{
		{ID: "c1", Text: "MFA is required for all privileged accounts.", TokenCount: 40},
		{ID: "c2", Text: "MFA, also known as multi-factor authentication, blocks credential stuffing.", TokenCount: 40},
	}

	res, err := e.Extract(context.Background(), testSchema(), chunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Entities) != 1 {
		t.Fatalf("expected duplicate temporary id deduplicated to 1 entity, got %d: %+v", len(res.Entities), res.Entities)
	}
	if res.Entities[0].Name != "mfa" {
		t.Errorf("expected first occurrence to win, got name %q", res.Entities[0].Name)
	}
}

func TestExtractJSONHandlesMarkdownFence(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"entities\": []}\n```\n"
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON: %v", err)
	}
	if got != `{"entities": []}` {
		t.Errorf("extractJSON = %q", got)
	}
}

func TestPreExtractIdentifiersFindsStandardsAndPartNumbers(t *testing.T) {
	hints := preExtractIdentifiers("The device conforms to ISO-27001 and uses part AB-1234 Rev C.")
	if len(hints) == 0 {
		t.Fatal("expected at least one identifier hint")
	}
}
