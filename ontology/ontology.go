// Package ontology defines the DomainConfig ("worldview") schema that
// constrains which entity and relation types the Extractor (C3) and
// Validator (C4) accept for a given document.
package ontology

import "fmt"

// Schema is the ordered set of entity and relation types a DomainConfig
// permits. Relation types may additionally be scoped to a set of source
// and target entity types; an empty SourceTypes/TargetTypes means the
// relation is unconstrained with respect to endpoint type.
type Schema struct {
	EntityTypes   []string       `json:"entity_types"`
	RelationTypes []RelationType `json:"relation_types"`
}

// RelationType describes one permitted relation and, optionally, the
// entity types its source/target endpoints must have.
type RelationType struct {
	Name        string   `json:"name"`
	SourceTypes []string `json:"source_types,omitempty"`
	TargetTypes []string `json:"target_types,omitempty"`
}

// DomainConfig is the user-defined worldview a Document is ingested
// against (§3 Data Model).
type DomainConfig struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Schema Schema `json:"schema"`
}

// EntityTypeSet returns the schema's entity types as a lookup set.
func (s Schema) EntityTypeSet() map[string]bool {
	set := make(map[string]bool, len(s.EntityTypes))
	for _, t := range s.EntityTypes {
		set[t] = true
	}
	return set
}

// RelationTypeNames returns just the relation type names, in order.
func (s Schema) RelationTypeNames() []string {
	names := make([]string, len(s.RelationTypes))
	for i, r := range s.RelationTypes {
		names[i] = r.Name
	}
	return names
}

// RelationByName looks up a relation type definition by name.
func (s Schema) RelationByName(name string) (RelationType, bool) {
	for _, r := range s.RelationTypes {
		if r.Name == name {
			return r, true
		}
	}
	return RelationType{}, false
}

// Empty reports whether the schema has no entity types configured, in
// which case the Extractor (C3) short-circuits without calling the LLM.
func (s Schema) Empty() bool {
	return len(s.EntityTypes) == 0
}

func (d DomainConfig) String() string {
	return fmt.Sprintf("DomainConfig{id=%d name=%q entity_types=%d relation_types=%d}",
		d.ID, d.Name, len(d.Schema.EntityTypes), len(d.Schema.RelationTypes))
}
