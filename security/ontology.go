package security

import (
	"regexp"
	"strings"
)

var (
	entityTypeAllowed   = regexp.MustCompile(`[^A-Za-z0-9_\s]`)
	relationTypeAllowed = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

const maxOntologyTokenLen = 64

// SanitizeEntityType reduces an ontology entity-type string to
// [A-Za-z0-9_\s], truncated to 64 characters, before it is embedded in an
// extraction prompt (§4.11 Ontology schema sanitation).
func SanitizeEntityType(t string) string {
	t = entityTypeAllowed.ReplaceAllString(t, "")
	return truncate(t, maxOntologyTokenLen)
}

// SanitizeRelationType reduces an ontology relation-type string to
// [A-Za-z0-9_], upper-cased, truncated to 64 characters.
func SanitizeRelationType(t string) string {
	t = relationTypeAllowed.ReplaceAllString(t, "")
	return truncate(strings.ToUpper(t), maxOntologyTokenLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// PromptSchema is a typed prompt-builder value: it carries already-sanitized
// ontology fields, so call sites never string-concatenate raw ontology
// input into a prompt template (§9 Design Notes).
type PromptSchema struct {
	EntityTypes   []string
	RelationTypes []string
}

// BuildPromptSchema sanitizes raw ontology type lists into a PromptSchema.
func BuildPromptSchema(entityTypes, relationTypes []string) PromptSchema {
	out := PromptSchema{
		EntityTypes:   make([]string, 0, len(entityTypes)),
		RelationTypes: make([]string, 0, len(relationTypes)),
	}
	for _, t := range entityTypes {
		if s := SanitizeEntityType(t); s != "" {
			out.EntityTypes = append(out.EntityTypes, s)
		}
	}
	for _, t := range relationTypes {
		if s := SanitizeRelationType(t); s != "" {
			out.RelationTypes = append(out.RelationTypes, s)
		}
	}
	return out
}
