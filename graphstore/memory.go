package graphstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is the in-process Graph Store backend, satisfying the same
// Store contract as Neo4jStore for tests and single-node deployments that
// do not carry a graph database dependency.
type MemoryStore struct {
	mu sync.Mutex

	documents map[int64]Document
	chunks    map[string]Chunk
	docChunks map[int64][]string

	entities  map[int64]Entity
	mentions  map[string]map[int64]bool // chunkID -> set of entity canonical ids
	relations []Relation
}

// NewMemoryStore creates an empty in-process Graph Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[int64]Document),
		chunks:    make(map[string]Chunk),
		docChunks: make(map[int64][]string),
		entities:  make(map[int64]Entity),
		mentions:  make(map[string]map[int64]bool),
	}
}

func (m *MemoryStore) InitializeSchema(ctx context.Context, vectorDim int) error { return nil }

func (m *MemoryStore) Close(ctx context.Context) error { return nil }

func (m *MemoryStore) UpsertDocument(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
	return nil
}

func (m *MemoryStore) UpsertChunks(ctx context.Context, docID int64, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		c.DocID = docID
		c.Embedding = sanitizeEmbedding(c.Embedding)
		if _, exists := m.chunks[c.ID]; !exists {
			m.docChunks[docID] = append(m.docChunks[docID], c.ID)
		}
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		if err := ValidateIdentifier(e.NodeType); err != nil {
			return err
		}
		e.Embedding = sanitizeEmbedding(e.Embedding)
		m.entities[e.CanonicalID] = e
	}
	return nil
}

func (m *MemoryStore) UpsertRelations(ctx context.Context, relations []Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range relations {
		rtype := strings.ToUpper(r.RelationType)
		if err := ValidateIdentifier(rtype); err != nil {
			return err
		}
		r.RelationType = rtype
		m.relations = append(m.relations, r)
	}
	return nil
}

func (m *MemoryStore) LinkChunkToEntities(ctx context.Context, chunkID string, entityIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.mentions[chunkID]
	if !ok {
		set = make(map[int64]bool)
		m.mentions[chunkID] = set
	}
	for _, id := range entityIDs {
		set[id] = true
	}
	return nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunkID := range m.docChunks[docID] {
		delete(m.chunks, chunkID)
		delete(m.mentions, chunkID)
	}
	delete(m.docChunks, docID)
	delete(m.documents, docID)
	return nil
}

func (m *MemoryStore) GarbageCollectOrphans(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mentioned := make(map[int64]bool)
	for _, set := range m.mentions {
		for id := range set {
			mentioned[id] = true
		}
	}
	deleted := 0
	for id := range m.entities {
		if !mentioned[id] {
			delete(m.entities, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) VectorSearch(ctx context.Context, queryVec []float32, label SearchLabel, topK int) ([]SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []SearchHit
	if label == LabelEntity {
		for _, e := range m.entities {
			hits = append(hits, SearchHit{EntityID: e.CanonicalID, Name: e.Name, Score: cosineSimilarity(queryVec, e.Embedding)})
		}
	} else {
		for _, c := range m.chunks {
			hits = append(hits, SearchHit{ChunkID: c.ID, DocID: c.DocID, Text: c.Text, Score: cosineSimilarity(queryVec, c.Embedding)})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) HybridSearch(ctx context.Context, queryVec []float32, entityTypeFilter string, topK int, expandNeighbors bool) ([]SearchHit, error) {
	m.mu.Lock()
	var candidates []Entity
	for _, e := range m.entities {
		if entityTypeFilter != "" && e.NodeType != entityTypeFilter {
			continue
		}
		candidates = append(candidates, e)
	}
	relations := append([]Relation(nil), m.relations...)
	m.mu.Unlock()

	var hits []SearchHit
	for _, e := range candidates {
		hits = append(hits, SearchHit{EntityID: e.CanonicalID, Name: e.Name, Score: cosineSimilarity(queryVec, e.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	if !expandNeighbors {
		return hits, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range hits {
		for _, r := range relations {
			var neighborID int64
			switch hits[i].EntityID {
			case r.SourceID:
				neighborID = r.TargetID
			case r.TargetID:
				neighborID = r.SourceID
			default:
				continue
			}
			if n, ok := m.entities[neighborID]; ok {
				hits[i].Neighbors = append(hits[i].Neighbors, n)
			}
		}
	}
	return hits, nil
}

func (m *MemoryStore) MentioningChunks(ctx context.Context, entityIDs []int64, topK int) ([]SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mentioningChunksLocked(entityIDs, topK), nil
}

func (m *MemoryStore) GetAttributes(ctx context.Context, nameContains string, topK int) ([]SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matchIDs []int64
	for id, e := range m.entities {
		if strings.Contains(strings.ToLower(e.Name), strings.ToLower(nameContains)) {
			matchIDs = append(matchIDs, id)
		}
	}
	return m.mentioningChunksLocked(matchIDs, topK), nil
}

func (m *MemoryStore) FindConnections(ctx context.Context, sourceNameContains, targetNameContains string, maxHops, topK int) ([]SearchHit, error) {
	if maxHops <= 0 || maxHops > 3 {
		maxHops = 3
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var sources, targets []int64
	for id, e := range m.entities {
		lname := strings.ToLower(e.Name)
		if strings.Contains(lname, strings.ToLower(sourceNameContains)) {
			sources = append(sources, id)
		}
		if strings.Contains(lname, strings.ToLower(targetNameContains)) {
			targets = append(targets, id)
		}
	}
	if len(sources) == 0 || len(targets) == 0 {
		return nil, nil
	}

	adjacency := make(map[int64][]int64)
	for _, r := range m.relations {
		adjacency[r.SourceID] = append(adjacency[r.SourceID], r.TargetID)
		adjacency[r.TargetID] = append(adjacency[r.TargetID], r.SourceID)
	}
	targetSet := make(map[int64]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	path := bfsShortestPath(sources, targetSet, adjacency, maxHops)
	return m.mentioningChunksLocked(path, topK), nil
}

// bfsShortestPath finds the shortest path (as a node list) from any of the
// starting nodes to any node in targets, capped at maxHops edges.
func bfsShortestPath(starts []int64, targets map[int64]bool, adjacency map[int64][]int64, maxHops int) []int64 {
	visited := make(map[int64]bool, len(starts))
	type queueEntry struct {
		node int64
		path []int64
	}
	var queue []queueEntry
	for _, s := range starts {
		if !visited[s] {
			visited[s] = true
			queue = append(queue, queueEntry{node: s, path: []int64{s}})
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if targets[cur.node] {
			return cur.path
		}
		if len(cur.path)-1 >= maxHops {
			continue
		}
		for _, next := range adjacency[cur.node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			nextPath := make([]int64, len(cur.path)+1)
			copy(nextPath, cur.path)
			nextPath[len(cur.path)] = next
			queue = append(queue, queueEntry{node: next, path: nextPath})
		}
	}
	return nil
}

func (m *MemoryStore) FindMitigatingControls(ctx context.Context, riskNameContains string, topK int) ([]SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []SearchHit
	seen := make(map[int64]bool)
	for _, r := range m.relations {
		if r.RelationType != "MITIGATES" {
			continue
		}
		risk, ok := m.entities[r.TargetID]
		if !ok || !strings.Contains(strings.ToLower(risk.Name), strings.ToLower(riskNameContains)) {
			continue
		}
		control, ok := m.entities[r.SourceID]
		if !ok || seen[control.CanonicalID] {
			continue
		}
		seen[control.CanonicalID] = true
		hits = append(hits, SearchHit{EntityID: control.CanonicalID, Name: control.Name, Score: 1.0})
		if len(hits) >= topK && topK > 0 {
			break
		}
	}
	return hits, nil
}

// mentioningChunksLocked collects the distinct chunks that mention any of
// entityIDs. Caller must hold m.mu.
func (m *MemoryStore) mentioningChunksLocked(entityIDs []int64, topK int) []SearchHit {
	if len(entityIDs) == 0 {
		return nil
	}
	wanted := make(map[int64]bool, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = true
	}
	var hits []SearchHit
	for chunkID, mentioned := range m.mentions {
		hit := false
		for id := range wanted {
			if mentioned[id] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		c, ok := m.chunks[chunkID]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{ChunkID: c.ID, DocID: c.DocID, Text: c.Text, Score: 1.0})
		if topK > 0 && len(hits) >= topK {
			break
		}
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*MemoryStore)(nil)
