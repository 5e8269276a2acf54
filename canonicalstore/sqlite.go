package canonicalstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteStore is the embedded tier of the Canonical Store, used for
// single-binary/offline deployments and for the contract test suite.
type SQLiteStore struct {
	db           *sql.DB
	embeddingDim int
}

// OpenSQLite opens (or creates) a SQLite database at dbPath and
// initializes the canonical-store schema, including the sqlite-vec
// virtual table sized to embeddingDim.
func OpenSQLite(dbPath string, embeddingDim int) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLiteStore{db: db, embeddingDim: embeddingDim}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Documents ---

func (s *SQLiteStore) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, content_hash, storage_ref, status, error_log, domain_config_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.Filename, doc.ContentHash, doc.StorageRef, string(doc.Status), doc.ErrorLog, doc.DomainConfigID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return s.scanDocument(s.db.QueryRowContext(ctx, `
		SELECT id, filename, content_hash, storage_ref, status, error_log, domain_config_id, created_at, updated_at
		FROM documents WHERE id = ?`, id))
}

func (s *SQLiteStore) GetDocumentByContentHash(ctx context.Context, hash string) (*Document, error) {
	return s.scanDocument(s.db.QueryRowContext(ctx, `
		SELECT id, filename, content_hash, storage_ref, status, error_log, domain_config_id, created_at, updated_at
		FROM documents WHERE content_hash = ?`, hash))
}

func (s *SQLiteStore) scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var status string
	if err := row.Scan(&d.ID, &d.Filename, &d.ContentHash, &d.StorageRef, &status,
		&d.ErrorLog, &d.DomainConfigID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.Status = DocumentStatus(status)
	return &d, nil
}

// UpdateDocumentStatus validates the transition against the current
// stored status inside the same transaction that performs the write, so
// a concurrent status change cannot race past the state machine check.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id int64, to DocumentStatus, errorLog string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, "SELECT status FROM documents WHERE id = ?", id).Scan(&current); err != nil {
			return err
		}
		if err := ValidateStatusTransition(DocumentStatus(current), to, errorLog); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE documents SET status = ?, error_log = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			string(to), errorLog, id)
		return err
	})
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	return err
}

// --- CanonicalNode ---

// GetOrCreateCanonicalNode implements the §4.6 atomic primitive via
// INSERT ... ON CONFLICT DO NOTHING followed by a re-read inside the same
// transaction when the insert was suppressed by the unique constraint.
func (s *SQLiteStore) GetOrCreateCanonicalNode(ctx context.Context, nodeType, name string, embedding []float32) (CanonicalNode, bool, error) {
	var node CanonicalNode
	var created bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO canonical_nodes (node_type, canonical_name)
			VALUES (?, ?)
			ON CONFLICT(canonical_name) DO NOTHING
		`, nodeType, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 1 {
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO vec_canonical_nodes (node_id, embedding) VALUES (?, ?)",
				id, serializeFloat32(embedding)); err != nil {
				return err
			}
			node = CanonicalNode{ID: id, NodeType: nodeType, Name: name, Embedding: embedding}
			created = true
			return nil
		}

		row := tx.QueryRowContext(ctx,
			"SELECT id, node_type, canonical_name FROM canonical_nodes WHERE canonical_name = ?", name)
		if err := row.Scan(&node.ID, &node.NodeType, &node.Name); err != nil {
			return err
		}
		created = false
		return nil
	})
	return node, created, err
}

func (s *SQLiteStore) GetCanonicalNode(ctx context.Context, id int64) (*CanonicalNode, error) {
	var node CanonicalNode
	err := s.db.QueryRowContext(ctx,
		"SELECT id, node_type, canonical_name FROM canonical_nodes WHERE id = ?", id,
	).Scan(&node.ID, &node.NodeType, &node.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// NearestCanonicalNodes runs a k-NN query against the sqlite-vec virtual
// table, the embedded tier's equivalent of the Postgres `<=>` operator.
func (s *SQLiteStore) NearestCanonicalNodes(ctx context.Context, embedding []float32, topK int) ([]ScoredNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.node_type, n.canonical_name, v.distance
		FROM vec_canonical_nodes v
		JOIN canonical_nodes n ON n.id = v.node_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), topK)
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

func (s *SQLiteStore) InsertNodeAlias(ctx context.Context, alias NodeAlias) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO node_aliases (alias, canonical_node_id, confidence)
		VALUES (?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET
			canonical_node_id = excluded.canonical_node_id,
			confidence = excluded.confidence
	`, strings.ToLower(alias.Alias), alias.CanonicalNodeID, alias.Confidence)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT id FROM node_aliases WHERE alias = ?", strings.ToLower(alias.Alias))
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *SQLiteStore) LookupAlias(ctx context.Context, alias string) (*NodeAlias, error) {
	var a NodeAlias
	err := s.db.QueryRowContext(ctx, `
		SELECT id, alias, canonical_node_id, confidence FROM node_aliases WHERE alias = ?
	`, strings.ToLower(alias)).Scan(&a.ID, &a.Alias, &a.CanonicalNodeID, &a.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- EnrichmentQueueItem ---

func (s *SQLiteStore) EnqueueUnresolved(ctx context.Context, item EnrichmentQueueItem) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_queue (raw_name, proposed_type, context_chunk, status)
		VALUES (?, ?, ?, 'PENDING')
	`, item.RawName, item.ProposedType, item.ContextChunk)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DequeuePending claims up to limit PENDING rows by transitioning them to
// PROCESSING inside a transaction, so two concurrent workers never claim
// the same row (SQLite's single-writer lock serializes the CAS).
func (s *SQLiteStore) DequeuePending(ctx context.Context, limit int) ([]EnrichmentQueueItem, error) {
	var claimed []EnrichmentQueueItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, raw_name, proposed_type, context_chunk, status, created_at, updated_at
			FROM enrichment_queue WHERE status = 'PENDING' ORDER BY created_at LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		var items []EnrichmentQueueItem
		for rows.Next() {
			var it EnrichmentQueueItem
			var status string
			if err := rows.Scan(&it.ID, &it.RawName, &it.ProposedType, &it.ContextChunk, &status, &it.CreatedAt, &it.UpdatedAt); err != nil {
				rows.Close()
				return err
			}
			it.Status = EnrichmentStatus(status)
			items = append(items, it)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for i := range items {
			res, err := tx.ExecContext(ctx,
				"UPDATE enrichment_queue SET status = 'PROCESSING', updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'PENDING'",
				items[i].ID)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 1 {
				items[i].Status = EnrichmentProcessing
				claimed = append(claimed, items[i])
			}
		}
		return nil
	})
	return claimed, err
}

func (s *SQLiteStore) UpdateEnrichmentStatus(ctx context.Context, id int64, status EnrichmentStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE enrichment_queue SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(status), id)
	return err
}

// --- helpers ---

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

var _ Store = (*SQLiteStore)(nil)
