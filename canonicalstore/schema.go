package canonicalstore

import "fmt"

// sqliteSchema returns the DDL for the embedded SQLite/sqlite-vec tier.
// embeddingDim controls the vec0 virtual table dimension (§3: vector
// dimension D is a global invariant per deployment).
func sqliteSchema(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    filename TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    storage_ref TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    error_log TEXT NOT NULL DEFAULT '',
    domain_config_id INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS canonical_nodes (
    id INTEGER PRIMARY KEY,
    node_type TEXT NOT NULL,
    canonical_name TEXT NOT NULL UNIQUE
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_canonical_nodes USING vec0(
    node_id INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

CREATE TABLE IF NOT EXISTS node_aliases (
    id INTEGER PRIMARY KEY,
    alias TEXT NOT NULL UNIQUE,
    canonical_node_id INTEGER NOT NULL REFERENCES canonical_nodes(id) ON DELETE CASCADE,
    confidence REAL NOT NULL DEFAULT 1.0
);

CREATE TABLE IF NOT EXISTS enrichment_queue (
    id INTEGER PRIMARY KEY,
    raw_name TEXT NOT NULL,
    proposed_type TEXT NOT NULL,
    context_chunk TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_node_aliases_canonical ON node_aliases(canonical_node_id);
CREATE INDEX IF NOT EXISTS idx_enrichment_queue_status ON enrichment_queue(status);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
`, embeddingDim)
}

// postgresSchema returns the DDL for the pgx/pgvector tier. embeddingDim
// controls the vector column width.
func postgresSchema(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
    id BIGSERIAL PRIMARY KEY,
    filename TEXT NOT NULL,
    content_hash TEXT NOT NULL UNIQUE,
    storage_ref TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    error_log TEXT NOT NULL DEFAULT '',
    domain_config_id BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS canonical_nodes (
    id BIGSERIAL PRIMARY KEY,
    node_type TEXT NOT NULL,
    canonical_name TEXT NOT NULL UNIQUE,
    embedding vector(%d)
);

CREATE TABLE IF NOT EXISTS node_aliases (
    id BIGSERIAL PRIMARY KEY,
    alias TEXT NOT NULL UNIQUE,
    canonical_node_id BIGINT NOT NULL REFERENCES canonical_nodes(id) ON DELETE CASCADE,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0
);

CREATE TABLE IF NOT EXISTS enrichment_queue (
    id BIGSERIAL PRIMARY KEY,
    raw_name TEXT NOT NULL,
    proposed_type TEXT NOT NULL,
    context_chunk TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_node_aliases_canonical ON node_aliases(canonical_node_id);
CREATE INDEX IF NOT EXISTS idx_enrichment_queue_status ON enrichment_queue(status);
CREATE INDEX IF NOT EXISTS idx_canonical_nodes_embedding ON canonical_nodes
    USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, embeddingDim)
}
