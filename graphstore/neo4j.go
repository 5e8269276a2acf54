package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore is the canonical Graph Store backend.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// OpenNeo4j connects to uri with basic auth and verifies connectivity.
func OpenNeo4j(ctx context.Context, uri, username, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}
	return &Neo4jStore{driver: driver}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

// InitializeSchema ensures uniqueness constraints on Document.id, Chunk.id,
// Entity.canonical_id, and cosine-similarity vector indexes on
// Chunk.embedding / Entity.embedding sized to vectorDim. Every statement is
// idempotent (IF NOT EXISTS), safe to run on every process start.
func (s *Neo4jStore) InitializeSchema(ctx context.Context, vectorDim int) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE",
		"CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE",
		"CREATE CONSTRAINT entity_canonical_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.canonical_id IS UNIQUE",
		fmt.Sprintf(`CREATE VECTOR INDEX chunk_embedding IF NOT EXISTS
			FOR (c:Chunk) ON (c.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`, vectorDim),
		fmt.Sprintf(`CREATE VECTOR INDEX entity_embedding IF NOT EXISTS
			FOR (e:Entity) ON (e.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`, vectorDim),
	}
	for _, stmt := range statements {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("schema statement %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Neo4jStore) UpsertDocument(ctx context.Context, doc Document) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		MERGE (d:Document {id: $id})
		ON CREATE SET d.filename = $filename, d.created_at = datetime()
		ON MATCH SET d.filename = $filename, d.updated_at = datetime()
	`, map[string]any{"id": doc.ID, "filename": sanitizeProperty(doc.Filename)})
	return err
}

// UpsertChunks batch-MERGEs Chunk nodes and their HAS_CHUNK edge from
// Document in a single UNWIND query.
func (s *Neo4jStore) UpsertChunks(ctx context.Context, docID int64, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		rows[i] = map[string]any{
			"id":        c.ID,
			"seq":       c.SequenceNum,
			"text":      sanitizeProperty(c.Text),
			"embedding": toVector(c.Embedding),
		}
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		MATCH (d:Document {id: $docID})
		UNWIND $rows AS row
		MERGE (c:Chunk {id: row.id})
		SET c.sequence_num = row.seq, c.text = row.text, c.embedding = row.embedding, c.doc_id = $docID
		MERGE (d)-[:HAS_CHUNK]->(c)
	`, map[string]any{"docID": docID, "rows": rows})
	return err
}

// UpsertEntities batch-MERGEs by canonical_id onto a single Entity label;
// node_type is stored as a property, never emitted as a dynamic label.
func (s *Neo4jStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(entities))
	for i, e := range entities {
		if err := ValidateIdentifier(e.NodeType); err != nil {
			return err
		}
		rows[i] = map[string]any{
			"canonical_id": e.CanonicalID,
			"node_type":    e.NodeType,
			"name":         sanitizeProperty(e.Name),
			"embedding":    toVector(e.Embedding),
		}
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		UNWIND $rows AS row
		MERGE (e:Entity {canonical_id: row.canonical_id})
		SET e.node_type = row.node_type, e.name = row.name, e.embedding = row.embedding
	`, map[string]any{"rows": rows})
	return err
}

// UpsertRelations groups relations by relation_type and runs one batched
// query per type, since Cypher cannot parameterize a relationship type.
func (s *Neo4jStore) UpsertRelations(ctx context.Context, relations []Relation) error {
	byType := make(map[string][]Relation)
	for _, r := range relations {
		rtype := strings.ToUpper(r.RelationType)
		if err := ValidateIdentifier(rtype); err != nil {
			return err
		}
		byType[rtype] = append(byType[rtype], r)
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	for rtype, rels := range byType {
		rows := make([]map[string]any, len(rels))
		for i, r := range rels {
			rows[i] = map[string]any{
				"source":  r.SourceID,
				"target":  r.TargetID,
				"chunkID": r.ChunkID,
			}
		}
		query := fmt.Sprintf(`
			UNWIND $rows AS row
			MATCH (s:Entity {canonical_id: row.source})
			MATCH (t:Entity {canonical_id: row.target})
			MERGE (s)-[rel:%s]->(t)
			SET rel.chunk_id = row.chunkID
		`, rtype)
		if _, err := sess.Run(ctx, query, map[string]any{"rows": rows}); err != nil {
			return fmt.Errorf("upserting %s relations: %w", rtype, err)
		}
	}
	return nil
}

func (s *Neo4jStore) LinkChunkToEntities(ctx context.Context, chunkID string, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		MATCH (c:Chunk {id: $chunkID})
		UNWIND $entityIDs AS eid
		MATCH (e:Entity {canonical_id: eid})
		MERGE (c)-[:MENTIONS]->(e)
	`, map[string]any{"chunkID": chunkID, "entityIDs": entityIDs})
	return err
}

// DeleteDocument deletes the Document and all its Chunks atomically.
// Entities referenced by MENTIONS from those chunks are left in place;
// they may only be removed via GarbageCollectOrphans.
func (s *Neo4jStore) DeleteDocument(ctx context.Context, docID int64) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `
		MATCH (d:Document {id: $docID})
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
		DETACH DELETE d, c
	`, map[string]any{"docID": docID})
	return err
}

// GarbageCollectOrphans deletes every Entity with no incoming MENTIONS
// edge. The caller is responsible for holding a lease that guarantees no
// ingestion is actively writing; this function performs no leasing itself.
func (s *Neo4jStore) GarbageCollectOrphans(ctx context.Context) (int, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `
		MATCH (e:Entity)
		WHERE NOT ()-[:MENTIONS]->(e)
		DETACH DELETE e
		RETURN count(e) AS deleted
	`, nil)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	deleted, _ := record.Get("deleted")
	n, _ := deleted.(int64)
	return int(n), nil
}

// VectorSearch runs native k-NN via db.index.vector.queryNodes on the
// index for label. On index absence it falls back to an unranked scan
// capped at topK, a documented second-class behavior.
func (s *Neo4jStore) VectorSearch(ctx context.Context, queryVec []float32, label SearchLabel, topK int) ([]SearchHit, error) {
	indexName := "chunk_embedding"
	if label == LabelEntity {
		indexName = "entity_embedding"
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `
		CALL db.index.vector.queryNodes($indexName, $topK, $queryVec)
		YIELD node, score
		RETURN node, score
	`, map[string]any{"indexName": indexName, "topK": topK, "queryVec": toVector(queryVec)})
	if err != nil {
		return s.vectorSearchFallback(ctx, label, topK)
	}

	var hits []SearchHit
	for result.Next(ctx) {
		rec := result.Record()
		node, _ := rec.Get("node")
		score, _ := rec.Get("score")
		hits = append(hits, hitFromNode(node, label, score))
	}
	if err := result.Err(); err != nil {
		return s.vectorSearchFallback(ctx, label, topK)
	}
	return hits, nil
}

func (s *Neo4jStore) vectorSearchFallback(ctx context.Context, label SearchLabel, topK int) ([]SearchHit, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	query := fmt.Sprintf("MATCH (n:%s) RETURN n LIMIT $topK", string(label))
	result, err := sess.Run(ctx, query, map[string]any{"topK": topK})
	if err != nil {
		return nil, fmt.Errorf("vector search fallback scan: %w", err)
	}
	var hits []SearchHit
	for result.Next(ctx) {
		rec := result.Record()
		node, _ := rec.Get("n")
		hits = append(hits, hitFromNode(node, label, 0.0))
	}
	return hits, result.Err()
}

// HybridSearch runs k-NN on Entity embeddings, optionally filtered by
// node_type, then one-hop-expands each hit's neighbors when requested.
func (s *Neo4jStore) HybridSearch(ctx context.Context, queryVec []float32, entityTypeFilter string, topK int, expandNeighbors bool) ([]SearchHit, error) {
	hits, err := s.VectorSearch(ctx, queryVec, LabelEntity, topK)
	if err != nil {
		return nil, err
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	if entityTypeFilter != "" {
		ids := make([]int64, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.EntityID)
		}
		res, err := sess.Run(ctx, "MATCH (e:Entity) WHERE e.canonical_id IN $ids AND e.node_type = $type RETURN e.canonical_id AS id",
			map[string]any{"ids": ids, "type": entityTypeFilter})
		if err != nil {
			return nil, fmt.Errorf("hybrid search type filter: %w", err)
		}
		keep := make(map[int64]bool)
		for res.Next(ctx) {
			id, _ := res.Record().Get("id")
			cid, _ := id.(int64)
			keep[cid] = true
		}
		filtered := hits[:0]
		for _, h := range hits {
			if keep[h.EntityID] {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	if !expandNeighbors {
		return hits, nil
	}

	for i := range hits {
		result, err := sess.Run(ctx, `
			MATCH (e:Entity {canonical_id: $id})-[]-(n:Entity)
			RETURN DISTINCT n.canonical_id AS id, n.node_type AS node_type, n.name AS name
			LIMIT 20
		`, map[string]any{"id": hits[i].EntityID})
		if err != nil {
			continue
		}
		for result.Next(ctx) {
			rec := result.Record()
			id, _ := rec.Get("id")
			nodeType, _ := rec.Get("node_type")
			name, _ := rec.Get("name")
			cid, _ := id.(int64)
			nt, _ := nodeType.(string)
			nm, _ := name.(string)
			hits[i].Neighbors = append(hits[i].Neighbors, Entity{CanonicalID: cid, NodeType: nt, Name: nm})
		}
	}
	return hits, nil
}

// MentioningChunks returns the distinct chunks that mention any of
// entityIDs.
func (s *Neo4jStore) MentioningChunks(ctx context.Context, entityIDs []int64, topK int) ([]SearchHit, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `
		UNWIND $entityIDs AS eid
		MATCH (c:Chunk)-[:MENTIONS]->(e:Entity {canonical_id: eid})
		RETURN DISTINCT c.id AS id, c.text AS text, c.doc_id AS doc_id
		LIMIT $topK
	`, map[string]any{"entityIDs": entityIDs, "topK": topK})
	if err != nil {
		return nil, fmt.Errorf("mentioning_chunks lookup: %w", err)
	}
	return chunkHitsFromResult(ctx, result)
}

// GetAttributes looks up entities whose name contains nameContains and
// returns the chunks that mention any of them, per the get_attributes
// query intent of §4.10.
func (s *Neo4jStore) GetAttributes(ctx context.Context, nameContains string, topK int) ([]SearchHit, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `
		MATCH (e:Entity)
		WHERE toLower(e.name) CONTAINS toLower($name)
		MATCH (c:Chunk)-[:MENTIONS]->(e)
		RETURN DISTINCT c.id AS id, c.text AS text, c.doc_id AS doc_id
		LIMIT $topK
	`, map[string]any{"name": nameContains, "topK": topK})
	if err != nil {
		return nil, fmt.Errorf("get_attributes lookup: %w", err)
	}
	return chunkHitsFromResult(ctx, result)
}

// FindConnections returns the chunks mentioning any node on a shortest path
// of at most maxHops between an entity matching sourceNameContains and one
// matching targetNameContains, per the find_connections query intent.
func (s *Neo4jStore) FindConnections(ctx context.Context, sourceNameContains, targetNameContains string, maxHops, topK int) ([]SearchHit, error) {
	if maxHops <= 0 || maxHops > 3 {
		maxHops = 3
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	query := fmt.Sprintf(`
		MATCH (src:Entity), (tgt:Entity)
		WHERE toLower(src.name) CONTAINS toLower($source) AND toLower(tgt.name) CONTAINS toLower($target)
		MATCH path = shortestPath((src)-[*..%d]-(tgt))
		WITH nodes(path) AS pathNodes
		UNWIND pathNodes AS n
		MATCH (c:Chunk)-[:MENTIONS]->(n)
		RETURN DISTINCT c.id AS id, c.text AS text, c.doc_id AS doc_id
		LIMIT $topK
	`, maxHops)
	result, err := sess.Run(ctx, query, map[string]any{"source": sourceNameContains, "target": targetNameContains, "topK": topK})
	if err != nil {
		return nil, fmt.Errorf("find_connections lookup: %w", err)
	}
	return chunkHitsFromResult(ctx, result)
}

// FindMitigatingControls returns the Control entities that mitigate a Risk
// whose name contains riskNameContains, following the
// (Risk)<-[:MITIGATES]-(Control) pattern of the find_mitigating_controls
// query intent.
func (s *Neo4jStore) FindMitigatingControls(ctx context.Context, riskNameContains string, topK int) ([]SearchHit, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `
		MATCH (r:Entity)<-[:MITIGATES]-(c:Entity)
		WHERE toLower(r.name) CONTAINS toLower($risk)
		RETURN DISTINCT c.canonical_id AS id, c.name AS name
		LIMIT $topK
	`, map[string]any{"risk": riskNameContains, "topK": topK})
	if err != nil {
		return nil, fmt.Errorf("find_mitigating_controls lookup: %w", err)
	}
	var hits []SearchHit
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		cid, _ := id.(int64)
		nm, _ := name.(string)
		hits = append(hits, SearchHit{EntityID: cid, Name: nm, Score: 1.0})
	}
	return hits, result.Err()
}

func chunkHitsFromResult(ctx context.Context, result neo4j.ResultWithContext) ([]SearchHit, error) {
	var hits []SearchHit
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		text, _ := rec.Get("text")
		cid, _ := id.(string)
		txt, _ := text.(string)
		var docID int64
		if raw, ok := rec.Get("doc_id"); ok {
			docID, _ = raw.(int64)
		}
		hits = append(hits, SearchHit{ChunkID: cid, DocID: docID, Text: txt, Score: 1.0})
	}
	return hits, result.Err()
}

func hitFromNode(node any, label SearchLabel, score any) SearchHit {
	n, ok := node.(neo4j.Node)
	if !ok {
		return SearchHit{}
	}
	s, _ := score.(float64)
	if label == LabelEntity {
		id, _ := n.Props["canonical_id"].(int64)
		name, _ := n.Props["name"].(string)
		return SearchHit{EntityID: id, Name: name, Score: s}
	}
	id, _ := n.Props["id"].(string)
	text, _ := n.Props["text"].(string)
	docID, _ := n.Props["doc_id"].(int64)
	return SearchHit{ChunkID: id, DocID: docID, Text: text, Score: s}
}

func toVector(v []float32) []float32 {
	return sanitizeEmbedding(v)
}

var _ Store = (*Neo4jStore)(nil)
