package ontology

import "testing"

func testSchema() Schema {
	return Schema{
		EntityTypes: []string{"Person", "Organization"},
		RelationTypes: []RelationType{
			{Name: "WORKS_FOR", SourceTypes: []string{"Person"}, TargetTypes: []string{"Organization"}},
			{Name: "KNOWS"},
		},
	}
}

func TestValidateDropsUnknownEntityType(t *testing.T) {
	entities := []ExtractedEntity{
		{ID: "ALICE", Name: "Alice", Type: "Person"},
		{ID: "EVIL", Name: "payload", Type: "Person`]) MATCH (n) DETACH DELETE n //"},
	}
	kept, _ := Validate(entities, nil, testSchema())
	if len(kept) != 1 || kept[0].ID != "ALICE" {
		t.Fatalf("expected only ALICE to survive, got %+v", kept)
	}
}

func TestValidateDropsRelationWithDroppedEndpoint(t *testing.T) {
	entities := []ExtractedEntity{
		{ID: "ALICE", Name: "Alice", Type: "Person"},
		{ID: "GHOST", Name: "ghost", Type: "Unknown"},
	}
	relations := []ExtractedRelation{
		{Source: "ALICE", Target: "GHOST", Type: "KNOWS"},
	}
	_, keptRel := Validate(entities, relations, testSchema())
	if len(keptRel) != 0 {
		t.Fatalf("expected relation with dropped endpoint to be removed, got %+v", keptRel)
	}
}

func TestValidateDropsRelationWithUnknownType(t *testing.T) {
	entities := []ExtractedEntity{
		{ID: "ALICE", Name: "Alice", Type: "Person"},
		{ID: "BOB", Name: "Bob", Type: "Person"},
	}
	relations := []ExtractedRelation{
		{Source: "ALICE", Target: "BOB", Type: "DETACH DELETE"},
	}
	_, keptRel := Validate(entities, relations, testSchema())
	if len(keptRel) != 0 {
		t.Fatalf("expected relation with unknown type to be removed, got %+v", keptRel)
	}
}

func TestValidateEnforcesSourceTargetTypeScoping(t *testing.T) {
	entities := []ExtractedEntity{
		{ID: "ALICE", Name: "Alice", Type: "Person"},
		{ID: "BOB", Name: "Bob", Type: "Person"},
	}
	relations := []ExtractedRelation{
		{Source: "ALICE", Target: "BOB", Type: "WORKS_FOR"},
	}
	_, keptRel := Validate(entities, relations, testSchema())
	if len(keptRel) != 0 {
		t.Fatalf("expected WORKS_FOR between two Persons to be rejected by type scoping, got %+v", keptRel)
	}
}

func TestValidateKeepsValidRelation(t *testing.T) {
	entities := []ExtractedEntity{
		{ID: "ALICE", Name: "Alice", Type: "Person"},
		{ID: "BOB", Name: "Bob", Type: "Person"},
	}
	relations := []ExtractedRelation{
		{Source: "ALICE", Target: "BOB", Type: "KNOWS"},
	}
	kept, keptRel := Validate(entities, relations, testSchema())
	if len(kept) != 2 {
		t.Fatalf("expected both entities kept, got %d", len(kept))
	}
	if len(keptRel) != 1 {
		t.Fatalf("expected KNOWS relation kept, got %+v", keptRel)
	}
}
