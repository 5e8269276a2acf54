package security

import "regexp"

// Intent is the planner's classification of a natural-language query into
// one of a fixed allow-list (§4.10 Query planning).
type Intent string

const (
	IntentSemanticSearch          Intent = "semantic_search"
	IntentFindConnections         Intent = "find_connections"
	IntentFindMitigatingControls  Intent = "find_mitigating_controls"
	IntentGetAttributes           Intent = "get_attributes"
)

var allowedIntents = map[Intent]bool{
	IntentSemanticSearch:         true,
	IntentFindConnections:        true,
	IntentFindMitigatingControls: true,
	IntentGetAttributes:          true,
}

// dangerousPatterns catch write/administrative Cypher that a planner
// response must never be allowed to carry through to a query parameter,
// even though parameters are always bound (never interpolated) — this is
// defense in depth against a planner that was coerced into emitting a
// literal query fragment as a "parameter".
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)DETACH\s+DELETE`),
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)CALL\s+dbms\.`),
	regexp.MustCompile(`(?i)\bCREATE\s+(INDEX|CONSTRAINT)\b`),
	regexp.MustCompile(`(?i)\bMERGE\b`),
	regexp.MustCompile(`(?i)\bSET\b`),
}

// Plan is the structured output of query planning: an intent plus free-form
// parameters (entity names, risk names, etc.) to dispatch on.
type Plan struct {
	Intent     Intent            `json:"intent"`
	Parameters map[string]string `json:"parameters"`
}

// ValidatePlan enforces the intent allow-list and scans every parameter
// value for dangerous patterns. A rejected plan falls back to
// semantic_search with empty parameters per §4.10.
func ValidatePlan(p Plan) Plan {
	if !allowedIntents[p.Intent] {
		return fallbackPlan()
	}
	for _, v := range p.Parameters {
		for _, d := range dangerousPatterns {
			if d.MatchString(v) {
				return fallbackPlan()
			}
		}
	}
	if p.Parameters == nil {
		p.Parameters = map[string]string{}
	}
	return p
}

func fallbackPlan() Plan {
	return Plan{Intent: IntentSemanticSearch, Parameters: map[string]string{}}
}
