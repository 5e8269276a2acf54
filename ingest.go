package harmonizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kgraph-ai/harmonizer/canonicalstore"
	"github.com/kgraph-ai/harmonizer/chunker"
	"github.com/kgraph-ai/harmonizer/graphstore"
	"github.com/kgraph-ai/harmonizer/observe"
	"github.com/kgraph-ai/harmonizer/ontology"
	"github.com/kgraph-ai/harmonizer/parser"
	"github.com/kgraph-ai/harmonizer/resolver"
)

// runIngestion drives one document through the full §4.8 pipeline. It is
// the single foreground goroutine for this document; document admission
// fans out across documents, but within one document every step is
// strictly ordered.
func (e *Engine) runIngestion(ctx context.Context, docID int64) {
	ctx, span := observe.StartDocumentSpan(ctx, docID)
	defer span.End()

	if err := e.canonical.UpdateDocumentStatus(ctx, docID, canonicalstore.StatusProcessing, ""); err != nil {
		slog.Error("orchestrator: cannot start ingestion", "document_id", docID, "error", err)
		observe.RecordError(span, err)
		return
	}

	if err := e.ingestSteps(ctx, docID); err != nil {
		slog.Error("orchestrator: ingestion failed", "document_id", docID, "error", err)
		observe.RecordError(span, err)
		e.deadLetter(ctx, docID, err)
		return
	}

	if e.aborted(ctx, docID) {
		return
	}
	if err := e.canonical.UpdateDocumentStatus(ctx, docID, canonicalstore.StatusCompleted, ""); err != nil {
		slog.Error("orchestrator: failed to mark COMPLETED", "document_id", docID, "error", err)
	}
}

// deadLetter routes an exhausted document to FAILED if the current state
// permits the transition; otherwise it just logs, per §4.8's failure
// policy ("if the current state permits... otherwise logs and exits").
func (e *Engine) deadLetter(ctx context.Context, docID int64, cause error) {
	if err := e.canonical.UpdateDocumentStatus(ctx, docID, canonicalstore.StatusFailed, cause.Error()); err != nil {
		slog.Error("orchestrator: dead-letter transition rejected, document left in place", "document_id", docID, "error", err)
	}
}

// aborted checks whether a document has moved to DELETING since the
// pipeline began — the cooperative-cancellation checkpoint §5 requires
// between major steps.
func (e *Engine) aborted(ctx context.Context, docID int64) bool {
	doc, err := e.canonical.GetDocument(ctx, docID)
	if err != nil || doc == nil {
		return false
	}
	return doc.Status == canonicalstore.StatusDeleting
}

func (e *Engine) ingestSteps(ctx context.Context, docID int64) error {
	doc, err := e.canonical.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("fetching document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("%w: document %d", ErrDocumentNotFound, docID)
	}
	domainCfg, err := e.domains.Get(ctx, doc.DomainConfigID)
	if err != nil {
		return fmt.Errorf("fetching domain config: %w", err)
	}

	// Step 2: fetch bytes, streaming to a temp file (the parser contract
	// operates on paths, not in-memory readers).
	var text string
	if err := e.withRetry(ctx, "fetch+parse", func(ctx context.Context) error {
		t, ferr := e.fetchAndParse(ctx, doc.StorageRef, doc.Filename)
		if ferr != nil {
			return ferr
		}
		text = t
		return nil
	}); err != nil {
		return err
	}
	if e.aborted(ctx, docID) {
		return nil
	}

	// Step 3: chunk.
	chunks := e.chunks.Chunk(text)

	// Step 4: embed chunks.
	var vectors [][]float32
	if err := e.withRetry(ctx, "embed-chunks", func(ctx context.Context) error {
		v, eerr := e.embedChunks(ctx, chunks)
		if eerr != nil {
			return eerr
		}
		vectors = v
		return nil
	}); err != nil {
		return err
	}
	if e.aborted(ctx, docID) {
		return nil
	}

	// Step 5: upsert Document and Chunks into the Graph Store.
	graphChunks := make([]graphstore.Chunk, len(chunks))
	chunkTextByID := make(map[string]string, len(chunks))
	for i, c := range chunks {
		graphChunks[i] = graphstore.Chunk{ID: c.ID, SequenceNum: c.SequenceNum, Text: c.Text, Embedding: vectors[i]}
		chunkTextByID[c.ID] = c.Text
	}
	if err := e.withRetry(ctx, "upsert-document-chunks", func(ctx context.Context) error {
		if err := e.graph.UpsertDocument(ctx, graphstore.Document{ID: docID, Filename: doc.Filename}); err != nil {
			return err
		}
		return e.graph.UpsertChunks(ctx, docID, graphChunks)
	}); err != nil {
		return err
	}
	if e.aborted(ctx, docID) {
		return nil
	}

	// Step 6: extract entities/relations (parallel fan-out internally).
	var extractedEntities []ontology.ExtractedEntity
	var extractedRelations []ontology.ExtractedRelation
	if err := e.withRetry(ctx, "extract", func(ctx context.Context) error {
		res, eerr := e.extract.Extract(ctx, domainCfg.Schema, chunks)
		if eerr != nil {
			return eerr
		}
		extractedEntities = res.Entities
		extractedRelations = res.Relations
		return nil
	}); err != nil {
		return err
	}

	// Step 7: validate against ontology.
	validEntities, validRelations := ontology.Validate(extractedEntities, extractedRelations, domainCfg.Schema)
	if e.aborted(ctx, docID) {
		return nil
	}

	// Step 8: resolve entities; enqueue unresolved.
	contextByID := make(map[string]string, len(validEntities))
	for _, ent := range validEntities {
		contextByID[ent.ID] = chunkTextByID[ent.ChunkID]
	}
	batch, err := e.resolve.ResolveAll(ctx, validEntities, contextByID)
	if err != nil {
		return fmt.Errorf("resolving entities: %w", err)
	}
	if err := e.resolve.EnqueueUnresolved(ctx, batch.Unresolved); err != nil {
		return fmt.Errorf("enqueueing unresolved entities: %w", err)
	}
	if len(batch.Unresolved) > 0 {
		slog.Info("orchestrator: entities enqueued for enrichment", "document_id", docID, "count", len(batch.Unresolved))
	}

	// Step 9: remap relations, dropping self-loops/unmapped endpoints.
	remapped := resolver.RemapRelations(validRelations, batch.IDMap)
	if e.aborted(ctx, docID) {
		return nil
	}

	// Step 10: upsert resolved entities and remapped relations into the
	// Graph Store; link MENTIONS edges per chunk.
	if err := e.withRetry(ctx, "upsert-entities-relations", func(ctx context.Context) error {
		return e.upsertResolvedGraph(ctx, validEntities, batch.IDMap, remapped)
	}); err != nil {
		return err
	}

	return nil
}

// fetchAndParse streams the document's stored bytes to a temp file,
// parses it with the format-appropriate parser, and flattens the result
// into a single text blob for the Chunker.
func (e *Engine) fetchAndParse(ctx context.Context, storageKey, filename string) (string, error) {
	r, err := e.blobs.Get(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("fetching blob: %w", err)
	}
	defer r.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	tmp, err := os.CreateTemp("", "harmonizer-*."+ext)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, r); err != nil {
		return "", fmt.Errorf("streaming blob to temp file: %w", err)
	}

	p, err := e.parsers.Get(ext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	result, err := p.Parse(ctx, tmp.Name())
	if err != nil {
		return "", fmt.Errorf("parsing document: %w", err)
	}
	return flattenSections(result.Sections), nil
}

func flattenSections(sections []parser.Section) string {
	var b strings.Builder
	var walk func([]parser.Section)
	walk = func(secs []parser.Section) {
		for _, s := range secs {
			if s.Heading != "" {
				b.WriteString(s.Heading)
				b.WriteString("\n")
			}
			b.WriteString(s.Content)
			b.WriteString("\n")
			walk(s.Children)
		}
	}
	walk(sections)
	return b.String()
}

// embedChunks embeds every chunk's text in one batch call, trusting the
// Embedder contract's own batching adaptor for rate-limit hygiene.
func (e *Engine) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = strings.ReplaceAll(c.Text, "\n", " ")
	}
	return e.embedder.Embed(ctx, texts)
}

// upsertResolvedGraph embeds each distinct resolved canonical node's name
// (the Graph Store's Entity.embedding, used by its own vector index) and
// upserts entities, relations, and MENTIONS edges.
func (e *Engine) upsertResolvedGraph(ctx context.Context, entities []ontology.ExtractedEntity, idMap map[string]int64, remapped []resolver.RemappedRelation) error {
	uniqueIDs := make(map[int64]bool)
	for _, id := range idMap {
		uniqueIDs[id] = true
	}
	if len(uniqueIDs) == 0 {
		return nil
	}

	names := make([]string, 0, len(uniqueIDs))
	ids := make([]int64, 0, len(uniqueIDs))
	typeByID := make(map[int64]string, len(uniqueIDs))
	for _, ent := range entities {
		canonicalID, ok := idMap[ent.ID]
		if !ok {
			continue
		}
		if _, seen := typeByID[canonicalID]; seen {
			continue
		}
		typeByID[canonicalID] = ent.Type
	}
	for id := range uniqueIDs {
		node, err := e.canonical.GetCanonicalNode(ctx, id)
		if err != nil {
			return fmt.Errorf("fetching canonical node %d: %w", id, err)
		}
		name := ""
		if node != nil {
			name = node.Name
		}
		names = append(names, name)
		ids = append(ids, id)
	}
	embeddings, err := e.embedder.Embed(ctx, names)
	if err != nil {
		return fmt.Errorf("embedding canonical node names: %w", err)
	}

	graphEntities := make([]graphstore.Entity, len(ids))
	for i, id := range ids {
		graphEntities[i] = graphstore.Entity{
			CanonicalID: id,
			NodeType:    typeByID[id],
			Name:        names[i],
			Embedding:   embeddings[i],
		}
	}
	if err := e.graph.UpsertEntities(ctx, graphEntities); err != nil {
		return fmt.Errorf("upserting entities: %w", err)
	}

	graphRelations := make([]graphstore.Relation, len(remapped))
	for i, r := range remapped {
		graphRelations[i] = graphstore.Relation{SourceID: r.SourceCanonicalID, TargetID: r.TargetCanonicalID, RelationType: r.Type, ChunkID: r.ChunkID}
	}
	if err := e.graph.UpsertRelations(ctx, graphRelations); err != nil {
		return fmt.Errorf("upserting relations: %w", err)
	}

	byChunk := make(map[string][]int64)
	for _, ent := range entities {
		canonicalID, ok := idMap[ent.ID]
		if !ok {
			continue
		}
		byChunk[ent.ChunkID] = append(byChunk[ent.ChunkID], canonicalID)
	}
	for chunkID, entityIDs := range byChunk {
		if err := e.graph.LinkChunkToEntities(ctx, chunkID, entityIDs); err != nil {
			return fmt.Errorf("linking chunk %q to entities: %w", chunkID, err)
		}
	}
	return nil
}
