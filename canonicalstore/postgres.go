package canonicalstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is the production tier of the Canonical Store, backed by
// PostgreSQL through a pooled pgx connection with vector columns via
// pgvector-go.
type PostgresStore struct {
	pool         *pgxpool.Pool
	embeddingDim int
}

// OpenPostgres connects to dsn, pools the connection, and idempotently
// applies the canonical-store schema (including the pgvector extension
// and the CanonicalNode embedding column sized to embeddingDim).
func OpenPostgres(ctx context.Context, dsn string, embeddingDim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("enabling pgvector extension: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema(embeddingDim)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{pool: pool, embeddingDim: embeddingDim}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Documents ---

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO documents (filename, content_hash, storage_ref, status, error_log, domain_config_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id
	`, doc.Filename, doc.ContentHash, doc.StorageRef, string(doc.Status), doc.ErrorLog, doc.DomainConfigID).Scan(&id)
	return id, err
}

func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return s.scanDocument(s.pool.QueryRow(ctx, `
		SELECT id, filename, content_hash, storage_ref, status, error_log, domain_config_id, created_at, updated_at
		FROM documents WHERE id = $1`, id))
}

func (s *PostgresStore) GetDocumentByContentHash(ctx context.Context, hash string) (*Document, error) {
	return s.scanDocument(s.pool.QueryRow(ctx, `
		SELECT id, filename, content_hash, storage_ref, status, error_log, domain_config_id, created_at, updated_at
		FROM documents WHERE content_hash = $1`, hash))
}

func (s *PostgresStore) scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var status string
	if err := row.Scan(&d.ID, &d.Filename, &d.ContentHash, &d.StorageRef, &status,
		&d.ErrorLog, &d.DomainConfigID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.Status = DocumentStatus(status)
	return &d, nil
}

// UpdateDocumentStatus validates the transition against the current
// stored status inside the transaction that performs the write, using a
// row lock (SELECT ... FOR UPDATE) to close the race a bare read-then-
// write would leave open under concurrent transitions.
func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id int64, to DocumentStatus, errorLog string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var current string
	if err := tx.QueryRow(ctx, "SELECT status FROM documents WHERE id = $1 FOR UPDATE", id).Scan(&current); err != nil {
		return err
	}
	if err := ValidateStatusTransition(DocumentStatus(current), to, errorLog); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE documents SET status = $1, error_log = $2, updated_at = now() WHERE id = $3",
		string(to), errorLog, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	return err
}

// --- CanonicalNode ---

// GetOrCreateCanonicalNode implements the §4.6 atomic primitive exactly as
// specified: INSERT ... ON CONFLICT (canonical_name) DO NOTHING RETURNING
// id, and on an empty return (no rows), re-read the existing row inside
// the same transaction.
func (s *PostgresStore) GetOrCreateCanonicalNode(ctx context.Context, nodeType, name string, embedding []float32) (CanonicalNode, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CanonicalNode{}, false, err
	}
	defer tx.Rollback(ctx)

	vec := pgvector.NewVector(embedding)
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO canonical_nodes (node_type, canonical_name, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (canonical_name) DO NOTHING
		RETURNING id
	`, nodeType, name, vec).Scan(&id)

	var node CanonicalNode
	var created bool
	switch {
	case err == nil:
		node = CanonicalNode{ID: id, NodeType: nodeType, Name: name, Embedding: embedding}
		created = true
	case errors.Is(err, pgx.ErrNoRows):
		row := tx.QueryRow(ctx,
			"SELECT id, node_type, canonical_name FROM canonical_nodes WHERE canonical_name = $1", name)
		if serr := row.Scan(&node.ID, &node.NodeType, &node.Name); serr != nil {
			return CanonicalNode{}, false, serr
		}
		created = false
	default:
		return CanonicalNode{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CanonicalNode{}, false, err
	}
	return node, created, nil
}

func (s *PostgresStore) GetCanonicalNode(ctx context.Context, id int64) (*CanonicalNode, error) {
	var node CanonicalNode
	err := s.pool.QueryRow(ctx,
		"SELECT id, node_type, canonical_name FROM canonical_nodes WHERE id = $1", id,
	).Scan(&node.ID, &node.NodeType, &node.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// NearestCanonicalNodes runs a k-NN query using pgvector's cosine-distance
// operator (<=>).
func (s *PostgresStore) NearestCanonicalNodes(ctx context.Context, embedding []float32, topK int) ([]ScoredNode, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, `
		SELECT id, node_type, canonical_name, embedding <=> $1 AS distance
		FROM canonical_nodes
		WHERE embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2
	`, vec, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredNode
	for rows.Next() {
		var sn ScoredNode
		var distance float64
		if err := rows.Scan(&sn.Node.ID, &sn.Node.NodeType, &sn.Node.Name, &distance); err != nil {
			return nil, err
		}
		sn.Similarity = 1.0 - distance
		out = append(out, sn)
	}
	return out, rows.Err()
}

// --- NodeAlias ---

func (s *PostgresStore) InsertNodeAlias(ctx context.Context, alias NodeAlias) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO node_aliases (alias, canonical_node_id, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (alias) DO UPDATE SET
			canonical_node_id = excluded.canonical_node_id,
			confidence = excluded.confidence
		RETURNING id
	`, strings.ToLower(alias.Alias), alias.CanonicalNodeID, alias.Confidence).Scan(&id)
	return id, err
}

func (s *PostgresStore) LookupAlias(ctx context.Context, alias string) (*NodeAlias, error) {
	var a NodeAlias
	err := s.pool.QueryRow(ctx, `
		SELECT id, alias, canonical_node_id, confidence FROM node_aliases WHERE alias = $1
	`, strings.ToLower(alias)).Scan(&a.ID, &a.Alias, &a.CanonicalNodeID, &a.Confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- EnrichmentQueueItem ---

func (s *PostgresStore) EnqueueUnresolved(ctx context.Context, item EnrichmentQueueItem) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO enrichment_queue (raw_name, proposed_type, context_chunk, status)
		VALUES ($1, $2, $3, 'PENDING') RETURNING id
	`, item.RawName, item.ProposedType, item.ContextChunk).Scan(&id)
	return id, err
}

// DequeuePending claims up to limit PENDING rows with
// SELECT ... FOR UPDATE SKIP LOCKED, the standard Postgres pattern for a
// multi-worker queue: concurrent workers never block on, or double-claim,
// the same row.
func (s *PostgresStore) DequeuePending(ctx context.Context, limit int) ([]EnrichmentQueueItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, raw_name, proposed_type, context_chunk, status, created_at, updated_at
		FROM enrichment_queue
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	var items []EnrichmentQueueItem
	for rows.Next() {
		var it EnrichmentQueueItem
		var status string
		if err := rows.Scan(&it.ID, &it.RawName, &it.ProposedType, &it.ContextChunk, &status, &it.CreatedAt, &it.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		it.Status = EnrichmentStatus(status)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range items {
		if _, err := tx.Exec(ctx,
			"UPDATE enrichment_queue SET status = 'PROCESSING', updated_at = now() WHERE id = $1", items[i].ID); err != nil {
			return nil, err
		}
		items[i].Status = EnrichmentProcessing
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) UpdateEnrichmentStatus(ctx context.Context, id int64, status EnrichmentStatus) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE enrichment_queue SET status = $1, updated_at = now() WHERE id = $2",
		string(status), id)
	return err
}

var _ Store = (*PostgresStore)(nil)
