package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/security"
)

// planningPromptTemplate takes the sanitized query text. The model must
// pick exactly one intent from the fixed allow-list and supply whatever
// named parameters that intent needs; ValidatePlan is the actual
// enforcement point, this prompt only shapes the common case.
const planningPromptTemplate = `You are a query planner for a knowledge graph search system.
Classify the user's question into exactly one of these intents:

  "semantic_search"           - general questions answerable by meaning-based search; parameters: {} or {"entity_type": "..."}
  "find_connections"          - asks how two named things relate; parameters: {"source": "...", "target": "..."}
  "find_mitigating_controls"  - asks what mitigates/addresses/controls a named risk or threat; parameters: {"risk": "..."}
  "get_attributes"            - asks for properties/details of one named thing; parameters: {"name": "..."}

Return a JSON object with exactly two keys: "intent" and "parameters".
Do NOT include any text outside the JSON object.

QUESTION:
%s`

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON recovers a single JSON object from a chat completion's raw
// content, tolerating a fenced code block or leading/trailing prose around
// the object — the same tolerance the extractor's chunk-level planner
// already assumes of its provider.
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
	return "", fmt.Errorf("retrieval: no JSON object found in planner response")
}

// Planner turns a natural-language query into a validated security.Plan
// (§4.10 Query planning), the graph-mode dispatch key for Engine.Retrieve.
type Planner struct {
	chat llm.Provider
}

// NewPlanner builds a Planner over the given chat provider.
func NewPlanner(chat llm.Provider) *Planner {
	return &Planner{chat: chat}
}

// Plan classifies query into a security.Plan. Any failure to reach the
// provider or parse its response falls back to semantic_search, the same
// fail-safe security.ValidatePlan applies to a rejected intent.
func (p *Planner) Plan(ctx context.Context, query string) security.Plan {
	var detections []string
	sanitized := security.Sanitize(query, func(pattern string) { detections = append(detections, pattern) })

	prompt := fmt.Sprintf(planningPromptTemplate, sanitized)
	resp, err := p.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return security.ValidatePlan(security.Plan{})
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return security.ValidatePlan(security.Plan{})
	}

	var raw security.Plan
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return security.ValidatePlan(security.Plan{})
	}
	return security.ValidatePlan(raw)
}
