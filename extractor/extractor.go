// Package extractor implements the Extractor (C3): LLM-driven entity and
// relation extraction over chunk text, scoped to an active ontology
// schema and run through the prompt-security layer before anything
// crosses into a prompt.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kgraph-ai/harmonizer/chunker"
	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/ontology"
	"github.com/kgraph-ai/harmonizer/security"
)

const (
	defaultConcurrency = 16
	minChunkTokens     = 30
	perChunkTimeout    = 90 * time.Second
)

// extractionPromptTemplate takes (entity type list, relation type list,
// pre-extraction hints, sanitized chunk text). Both entity and relation
// extraction happen in a single call per chunk: a second round-trip per
// chunk would double provider latency and cost for no accuracy gain once
// the model already has the full chunk in context.
const extractionPromptTemplate = `You are a knowledge graph extraction engine operating over a fixed ontology.
Given the following text chunk, extract entities and the relations between them.

ALLOWED ENTITY TYPES (use exactly these values, nothing else):
%s

ALLOWED RELATION TYPES (use exactly these values, nothing else):
%s

Return a JSON object with exactly two keys:
  "entities"  : array of {"id": string, "name": string, "type": string}
  "relations" : array of {"source": string, "target": string, "type": string}

Rules:
- id is a short uppercase snake_case token uniquely identifying the entity within this response (e.g. "ELON_MUSK"). It is a temporary handle, not a stored identifier.
- name must be the entity's surface form, normalized to lowercase.
- type must be one of the ALLOWED ENTITY/RELATION TYPES; never invent a new type.
- source and target in "relations" must reference an id from the "entities" array above.
- Only include entities and relations clearly supported by the text.
- If there are none, return empty arrays.
- Do NOT include any text outside the JSON object.
%s
TEXT:
%s`

var (
	reStandard  = regexp.MustCompile(`(?i)(?:ISO|EN|IEC|MIL-STD|ASTM|IEEE|NIST|AS|BS|NFPA|ASME)\s*[-]?\s*\d[\w.-]*`)
	rePartOrRev = regexp.MustCompile(`(?i)Rev\.?\s*[A-Z0-9]{1,5}|(?:PN[:\s]*|P/N[:\s]*)?[A-Z]{1,3}[-]?\d{3,6}`)
)

// preExtractIdentifiers surfaces standards and part/revision identifiers as
// hints so the model does not drop structured tokens it tends to overlook.
func preExtractIdentifiers(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}
	for _, m := range reStandard.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range rePartOrRev.FindAllString(text, -1) {
		add(m)
	}
	return out
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("extractor: no JSON object found in llm response")
}

type rawEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type rawRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type extractionResponse struct {
	Entities  []rawEntity   `json:"entities"`
	Relations []rawRelation `json:"relations"`
}

// Result is the accumulated, ontology-validated output of one Extract call.
type Result struct {
	Entities  []ontology.ExtractedEntity
	Relations []ontology.ExtractedRelation
	// FailedChunks holds the IDs of chunks whose extraction call errored;
	// these are non-fatal, the rest of the batch still completes.
	FailedChunks []string
}

// Extractor runs single-call-per-chunk entity+relation extraction, fanned
// out across chunks bounded by a concurrency semaphore.
type Extractor struct {
	chat        llm.Provider
	concurrency int64
}

// New creates an Extractor. concurrency <= 0 falls back to a sane default.
func New(chat llm.Provider, concurrency int) *Extractor {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Extractor{chat: chat, concurrency: int64(concurrency)}
}

// Extract runs extraction over chunks against schema, fanning out up to the
// configured concurrency, one LLM call per eligible chunk. Chunks below
// minChunkTokens are skipped (headers, TOC lines). An empty schema
// short-circuits to an empty result without calling the provider. Entities
// are deduplicated by their LLM-assigned temporary id across the whole
// batch (first occurrence wins); relations keep their originating
// chunk_id. The combined result is passed through ontology.Validate before
// being returned, so an off-schema type a model hallucinated never
// survives extraction.
func (e *Extractor) Extract(ctx context.Context, schema ontology.Schema, chunks []chunker.Chunk) (Result, error) {
	if schema.Empty() || len(schema.EntityTypes) == 0 {
		return Result{}, nil
	}

	sem := semaphore.NewWeighted(e.concurrency)
	promptSchema := security.BuildPromptSchema(schema.EntityTypes, relationTypeNames(schema))

	type chunkResult struct {
		entities  []ontology.ExtractedEntity
		relations []ontology.ExtractedRelation
		failed    bool
		chunkID   string
	}
	results := make([]chunkResult, len(chunks))

	var eg errgroup.Group
	for i, ch := range chunks {
		if ch.TokenCount < minChunkTokens {
			continue
		}
		i, ch := i, ch
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = chunkResult{failed: true, chunkID: ch.ID}
			continue
		}
		eg.Go(func() error {
			defer sem.Release(1)
			chunkCtx, cancel := context.WithTimeout(ctx, perChunkTimeout)
			defer cancel()
			entities, relations, err := e.processChunk(chunkCtx, ch, promptSchema)
			if err != nil {
				slog.Warn("extractor: chunk failed", "chunk_id", ch.ID, "error", err)
				results[i] = chunkResult{failed: true, chunkID: ch.ID}
				return nil
			}
			results[i] = chunkResult{entities: entities, relations: relations, chunkID: ch.ID}
			return nil
		})
	}
	_ = eg.Wait()

	var res Result
	for _, r := range results {
		if r.failed {
			res.FailedChunks = append(res.FailedChunks, r.chunkID)
			continue
		}
		res.Entities = append(res.Entities, r.entities...)
		res.Relations = append(res.Relations, r.relations...)
	}

	res.Entities = dedupeByTempID(res.Entities)
	res.Entities, res.Relations = ontology.Validate(res.Entities, res.Relations, schema)
	return res, nil
}

func relationTypeNames(schema ontology.Schema) []string {
	names := make([]string, 0, len(schema.RelationTypes))
	for _, r := range schema.RelationTypes {
		names = append(names, r.Name)
	}
	return names
}

// dedupeByTempID keeps the first occurrence of each LLM-assigned temporary
// id across the whole batch. Relations referencing a later duplicate's id
// still resolve correctly since the id itself, not the struct, is the key.
func dedupeByTempID(entities []ontology.ExtractedEntity) []ontology.ExtractedEntity {
	seen := make(map[string]bool, len(entities))
	out := make([]ontology.ExtractedEntity, 0, len(entities))
	for _, e := range entities {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

func (e *Extractor) processChunk(ctx context.Context, ch chunker.Chunk, ps security.PromptSchema) ([]ontology.ExtractedEntity, []ontology.ExtractedRelation, error) {
	var detections []string
	sanitizedText := security.Sanitize(ch.Text, func(p string) { detections = append(detections, p) })
	if len(detections) > 0 {
		slog.Info("extractor: injection pattern detected in chunk", "chunk_id", ch.ID, "patterns", detections)
	}

	hints := ""
	if ids := preExtractIdentifiers(sanitizedText); len(ids) > 0 {
		hints = fmt.Sprintf("\nHINTS: the following identifiers were detected in the text; include them as entities if they fit an allowed type:\n%s\n", strings.Join(ids, ", "))
	}

	prompt := fmt.Sprintf(extractionPromptTemplate, strings.Join(ps.EntityTypes, "\n"), strings.Join(ps.RelationTypes, "\n"), hints, sanitizedText)
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("llm chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, nil, err
	}
	var result extractionResponse
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling extraction result: %w", err)
	}

	validIDs := make(map[string]bool, len(result.Entities))
	entities := make([]ontology.ExtractedEntity, 0, len(result.Entities))
	for _, en := range result.Entities {
		id := strings.TrimSpace(en.ID)
		name := strings.ToLower(strings.TrimSpace(en.Name))
		if id == "" || name == "" {
			continue
		}
		validIDs[id] = true
		entities = append(entities, ontology.ExtractedEntity{
			ID:      id,
			Name:    name,
			Type:    strings.ToLower(strings.TrimSpace(en.Type)),
			ChunkID: ch.ID,
		})
	}

	relations := make([]ontology.ExtractedRelation, 0, len(result.Relations))
	for _, r := range result.Relations {
		src, tgt := strings.TrimSpace(r.Source), strings.TrimSpace(r.Target)
		if src == "" || tgt == "" || !validIDs[src] || !validIDs[tgt] {
			continue
		}
		relations = append(relations, ontology.ExtractedRelation{
			Source:  src,
			Target:  tgt,
			Type:    strings.ToUpper(strings.TrimSpace(r.Type)),
			ChunkID: ch.ID,
		})
	}

	return entities, relations, nil
}
