// Package canonicalstore implements the Canonical Store (C6): the
// relational source of truth for CanonicalNode/NodeAlias/EnrichmentQueueItem
// records and Document status bookkeeping. Two backends satisfy the same
// Store interface — a pgx/pgvector tier for production and an embedded
// SQLite/sqlite-vec tier for single-binary deployments and tests — so the
// same contract tests exercise both.
package canonicalstore

import (
	"context"
	"errors"
	"time"
)

// DocumentStatus is a Document's position in the state machine of §3.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusCompleted  DocumentStatus = "COMPLETED"
	StatusFailed     DocumentStatus = "FAILED"
	StatusUpdating   DocumentStatus = "UPDATING"
	StatusDeleting   DocumentStatus = "DELETING"
)

// allowedTransitions is the strict document status state machine. A
// transition not present here fails with ErrInvalidStatusTransition. The
// zero value (empty string) represents "not yet created" and is only a
// valid source for PENDING.
var allowedTransitions = map[DocumentStatus]map[DocumentStatus]bool{
	"":               {StatusPending: true},
	StatusPending:    {StatusProcessing: true, StatusDeleting: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {StatusUpdating: true, StatusDeleting: true},
	StatusFailed:     {StatusDeleting: true},
	StatusUpdating:   {StatusProcessing: true, StatusDeleting: true},
	StatusDeleting:   {},
}

// ErrInvalidStatusTransition is returned by ValidateStatusTransition when
// from→to is not in the allowed set.
var ErrInvalidStatusTransition = errors.New("canonicalstore: invalid status transition")

// ErrFailedRequiresErrorLog is returned when transitioning to FAILED with
// an empty error_log.
var ErrFailedRequiresErrorLog = errors.New("canonicalstore: FAILED transition requires a non-empty error log")

// ValidateStatusTransition enforces the document status state machine
// (§3 Lifecycles) before any write reaches storage. errorLog is only
// consulted when to == StatusFailed.
func ValidateStatusTransition(from, to DocumentStatus, errorLog string) error {
	allowed, ok := allowedTransitions[from]
	if !ok || !allowed[to] {
		return ErrInvalidStatusTransition
	}
	if to == StatusFailed && errorLog == "" {
		return ErrFailedRequiresErrorLog
	}
	return nil
}

// EnrichmentStatus is an EnrichmentQueueItem's lifecycle position.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "PENDING"
	EnrichmentProcessing EnrichmentStatus = "PROCESSING"
	EnrichmentCompleted  EnrichmentStatus = "COMPLETED"
	EnrichmentFailed     EnrichmentStatus = "FAILED"
)

// Document is the §3 Document entity.
type Document struct {
	ID             int64
	Filename       string
	ContentHash    string
	StorageRef     string
	Status         DocumentStatus
	ErrorLog       string
	DomainConfigID int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanonicalNode is the §3 CanonicalNode entity: the single source of truth
// for a resolved entity.
type CanonicalNode struct {
	ID        int64
	NodeType  string
	Name      string
	Embedding []float32
}

// NodeAlias maps a surface form to a CanonicalNode.
type NodeAlias struct {
	ID              int64
	Alias           string // stored lowercased; equality is the logical key
	CanonicalNodeID int64
	Confidence      float64
}

// EnrichmentQueueItem is an unresolved mention awaiting canonicalization.
type EnrichmentQueueItem struct {
	ID           int64
	RawName      string
	ProposedType string
	ContextChunk string
	Status       EnrichmentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the Canonical Store contract (C6). Both the Postgres/pgvector
// and embedded SQLite/sqlite-vec backends implement it identically so
// callers never branch on deployment tier.
type Store interface {
	// Documents

	InsertDocument(ctx context.Context, doc Document) (int64, error)
	GetDocument(ctx context.Context, id int64) (*Document, error)
	GetDocumentByContentHash(ctx context.Context, hash string) (*Document, error)
	// UpdateDocumentStatus validates the transition before writing; on a
	// disallowed transition the store is left unchanged and
	// ErrInvalidStatusTransition (or ErrFailedRequiresErrorLog) is returned.
	UpdateDocumentStatus(ctx context.Context, id int64, to DocumentStatus, errorLog string) error
	DeleteDocument(ctx context.Context, id int64) error

	// CanonicalNode

	// GetOrCreateCanonicalNode is the atomic get-or-create primitive of
	// §4.6: it returns the existing node (created=false) if canonical_name
	// already exists, otherwise inserts and returns the new node
	// (created=true). This is the system's single race-condition
	// chokepoint for concurrent enrichment/resolution of the same name.
	GetOrCreateCanonicalNode(ctx context.Context, nodeType, name string, embedding []float32) (node CanonicalNode, created bool, err error)
	GetCanonicalNode(ctx context.Context, id int64) (*CanonicalNode, error)
	// NearestCanonicalNodes returns up to topK CanonicalNodes ordered by
	// cosine similarity to embedding, most similar first, each paired with
	// its similarity score.
	NearestCanonicalNodes(ctx context.Context, embedding []float32, topK int) ([]ScoredNode, error)

	// NodeAlias

	InsertNodeAlias(ctx context.Context, alias NodeAlias) (int64, error)
	// LookupAlias performs the case-insensitive exact match of §4.7 stage 1.
	LookupAlias(ctx context.Context, alias string) (*NodeAlias, error)

	// EnrichmentQueueItem

	EnqueueUnresolved(ctx context.Context, item EnrichmentQueueItem) (int64, error)
	// DequeuePending performs a compare-and-swap PENDING→PROCESSING claim
	// on up to limit queue items and returns the claimed rows; a row another
	// worker claimed first is simply absent from the result, never an error.
	DequeuePending(ctx context.Context, limit int) ([]EnrichmentQueueItem, error)
	UpdateEnrichmentStatus(ctx context.Context, id int64, status EnrichmentStatus) error

	Close() error
}

// ScoredNode pairs a CanonicalNode with its similarity to a query vector.
type ScoredNode struct {
	Node       CanonicalNode
	Similarity float64
}
