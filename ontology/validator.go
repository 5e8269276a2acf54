package ontology

// ExtractedEntity is an entity mention as produced by the Extractor (C3),
// before resolution. ID is the LLM-generated temporary identifier (an
// uppercase snake_case token such as ELON_MUSK) — a handle for remapping
// relations within a single extraction batch, never a canonical identity.
type ExtractedEntity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	ChunkID string `json:"-"`
}

// ExtractedRelation is a relation mention as produced by the Extractor,
// referencing its endpoints by their temporary entity IDs.
type ExtractedRelation struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Type    string `json:"type"`
	ChunkID string `json:"-"`
}

// Validate filters entities and relations against schema (C4). It is the
// only gate that trusts extractor output as safe-for-ontology; everything
// upstream is treated as adversarial (LLM output, ultimately user-supplied
// document content).
//
// An entity is dropped if its type is not in schema.EntityTypes. A relation
// is dropped if its type is not in schema.RelationTypes, or if either
// endpoint references an entity that was itself dropped (by temporary ID).
func Validate(entities []ExtractedEntity, relations []ExtractedRelation, schema Schema) ([]ExtractedEntity, []ExtractedRelation) {
	entityTypes := schema.EntityTypeSet()

	kept := make([]ExtractedEntity, 0, len(entities))
	survivingIDs := make(map[string]bool, len(entities))
	for _, e := range entities {
		if !entityTypes[e.Type] {
			continue
		}
		kept = append(kept, e)
		survivingIDs[e.ID] = true
	}

	relNames := make(map[string]RelationType, len(schema.RelationTypes))
	for _, r := range schema.RelationTypes {
		relNames[r.Name] = r
	}

	keptRelations := make([]ExtractedRelation, 0, len(relations))
	for _, r := range relations {
		def, ok := relNames[r.Type]
		if !ok {
			continue
		}
		if !survivingIDs[r.Source] || !survivingIDs[r.Target] {
			continue
		}
		if len(def.SourceTypes) > 0 && !typeAllowed(def.SourceTypes, entityType(entities, r.Source)) {
			continue
		}
		if len(def.TargetTypes) > 0 && !typeAllowed(def.TargetTypes, entityType(entities, r.Target)) {
			continue
		}
		keptRelations = append(keptRelations, r)
	}

	return kept, keptRelations
}

func entityType(entities []ExtractedEntity, id string) string {
	for _, e := range entities {
		if e.ID == id {
			return e.Type
		}
	}
	return ""
}

func typeAllowed(allowed []string, t string) bool {
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
