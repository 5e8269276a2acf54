package harmonizer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kgraph-ai/harmonizer/canonicalstore"
	"github.com/kgraph-ai/harmonizer/chunker"
	"github.com/kgraph-ai/harmonizer/extractor"
	"github.com/kgraph-ai/harmonizer/graphstore"
	"github.com/kgraph-ai/harmonizer/llm"
	"github.com/kgraph-ai/harmonizer/observe"
	"github.com/kgraph-ai/harmonizer/ontology"
	"github.com/kgraph-ai/harmonizer/parser"
	"github.com/kgraph-ai/harmonizer/resolver"
	"github.com/kgraph-ai/harmonizer/retrieval"
)

// Engine is the Ingestion Orchestrator (C8): the central state machine
// that composes the Chunker, Embedder, Extractor, Validator, Resolver,
// Canonical Store, and Graph Store into one per-document pipeline, and
// exposes the narrow external interface of §6.
type Engine struct {
	cfg Config

	canonical canonicalstore.Store
	graph     graphstore.Store
	domains   DomainConfigStore
	blobs     BlobStore

	chat     llm.Provider
	embedder llm.Provider

	chunks   *chunker.Chunker
	parsers  *parser.Registry
	extract  *extractor.Extractor
	resolve  *resolver.Resolver
	retrieve *retrieval.Engine
}

// NewEngine wires the Engine's dependencies. chat and embedder are
// typically distinct llm.Provider instances (different models), per
// config.go's separate Chat/Embedding LLMConfig fields.
func NewEngine(cfg Config, canonical canonicalstore.Store, graph graphstore.Store, domains DomainConfigStore, blobs BlobStore, chat, embedder llm.Provider) (*Engine, error) {
	ch, err := chunker.New(chunker.Config{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap})
	if err != nil {
		return nil, fmt.Errorf("constructing chunker: %w", err)
	}
	retrieveCfg := retrieval.Config{
		WeightVector: cfg.WeightVector,
		WeightGraph:  cfg.WeightGraph,
		RRFK:         cfg.RRFK,
	}

	parsers := parser.NewRegistry()
	if vision, ok := chat.(llm.VisionProvider); ok {
		parsers.SetVisionProvider(vision)
	}

	return &Engine{
		cfg:       cfg,
		canonical: canonical,
		graph:     graph,
		domains:   domains,
		blobs:     blobs,
		chat:      chat,
		embedder:  embedder,
		chunks:    ch,
		parsers:   parsers,
		extract:   extractor.New(chat, cfg.ExtractionConcurrency),
		resolve:   resolver.New(canonical, embedder, resolver.WithResolutionThreshold(cfg.ResolutionThreshold)),
		retrieve:  retrieval.NewEngine(retrieveCfg, graph, embedder, chat),
	}, nil
}

// New wires a complete Engine from Config: the relational tier (SQLite or
// Postgres, picked by which DSN field is set), the Neo4j graph tier, the
// filesystem blob store, an in-memory domain config store, and the chat/
// embedding LLM providers. Callers that already hold constructed
// dependencies (tests, alternative backends) should use NewEngine
// directly instead.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	var canonical canonicalstore.Store
	var err error
	if cfg.RelationalDSN != "" {
		canonical, err = canonicalstore.OpenPostgres(ctx, cfg.RelationalDSN, cfg.EmbeddingDim)
	} else {
		canonical, err = canonicalstore.OpenSQLite(cfg.SQLitePath, cfg.EmbeddingDim)
	}
	if err != nil {
		return nil, fmt.Errorf("opening canonical store: %w", err)
	}

	graph, err := graphstore.OpenNeo4j(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	if err := graph.InitializeSchema(ctx, cfg.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("initializing graph schema: %w", err)
	}

	blobs, err := NewFilesystemBlobStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	chat, err := llm.NewProvider(llm.Config{Provider: cfg.Chat.Provider, Model: cfg.Chat.Model, BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey})
	if err != nil {
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}
	embedder, err := llm.NewProvider(llm.Config{Provider: cfg.Embedding.Provider, Model: cfg.Embedding.Model, BaseURL: cfg.Embedding.BaseURL, APIKey: cfg.Embedding.APIKey})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	return NewEngine(cfg, canonical, graph, NewInMemoryDomainConfigStore(), blobs, chat, embedder)
}

// RegisterDomainConfig stores an ontology for later lookup by Submit and
// Update. §6 lists `ontologies/domain_configs` as a host-owned relational
// table; this is the narrow write path onto the DomainConfigStore seam a
// host uses to populate it (the default InMemoryDomainConfigStore has no
// other way in).
func (e *Engine) RegisterDomainConfig(ctx context.Context, cfg ontology.DomainConfig) error {
	return e.domains.Put(ctx, cfg)
}

// Submit admits a new document (§6). Duplicate content hashes are
// rejected before any work is scheduled; a successful Submit returns a
// job id (the document id) and starts ingestion in its own goroutine —
// one foreground goroutine drives a single document's pipeline end to
// end, per §5.
func (e *Engine) Submit(ctx context.Context, documentBytes []byte, filename string, ontologyID int64) (int64, error) {
	if int64(len(documentBytes)) > e.cfg.MaxUploadBytes {
		return 0, fmt.Errorf("%w: %d bytes exceeds max %d", ErrTooLarge, len(documentBytes), e.cfg.MaxUploadBytes)
	}

	safeName := SanitizeFilename(filename)
	hash := sha256.Sum256(documentBytes)
	hashHex := hex.EncodeToString(hash[:])

	if existing, err := e.canonical.GetDocumentByContentHash(ctx, hashHex); err != nil {
		return 0, fmt.Errorf("checking duplicate hash: %w", err)
	} else if existing != nil {
		return 0, fmt.Errorf("%w: document %d", ErrDuplicateHash, existing.ID)
	}

	if _, err := e.domains.Get(ctx, ontologyID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	storageKey := fmt.Sprintf("%s_%s", hashHex, safeName)
	if err := e.blobs.Put(ctx, storageKey, bytes.NewReader(documentBytes)); err != nil {
		return 0, fmt.Errorf("storing document bytes: %w", err)
	}

	docID, err := e.canonical.InsertDocument(ctx, canonicalstore.Document{
		Filename:       safeName,
		ContentHash:    hashHex,
		StorageRef:     storageKey,
		Status:         canonicalstore.StatusPending,
		DomainConfigID: ontologyID,
	})
	if err != nil {
		return 0, fmt.Errorf("inserting document: %w", err)
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.HardBudgetSeconds)*time.Second)
		defer cancel()
		e.runIngestion(bgCtx, docID)
	}()

	return docID, nil
}

// DocumentStatus is the host-visible projection of a document's pipeline
// state (§6 GetStatus).
type DocumentStatus struct {
	Status    canonicalstore.DocumentStatus
	UpdatedAt time.Time
	ErrorLog  string
}

// GetStatus returns a document's current status.
func (e *Engine) GetStatus(ctx context.Context, docID int64) (DocumentStatus, error) {
	doc, err := e.canonical.GetDocument(ctx, docID)
	if err != nil {
		return DocumentStatus{}, fmt.Errorf("fetching document: %w", err)
	}
	if doc == nil {
		return DocumentStatus{}, fmt.Errorf("%w: document %d", ErrDocumentNotFound, docID)
	}
	return DocumentStatus{Status: doc.Status, UpdatedAt: doc.UpdatedAt, ErrorLog: doc.ErrorLog}, nil
}

// Update chains a delete followed by a fresh Submit (§6): the update
// pipeline composes after the running ingestion rather than racing it.
func (e *Engine) Update(ctx context.Context, docID int64, newBytes []byte, filename string, ontologyID int64) (int64, error) {
	if err := e.Delete(ctx, docID); err != nil {
		return 0, fmt.Errorf("deleting prior document version: %w", err)
	}
	return e.Submit(ctx, newBytes, filename, ontologyID)
}

// Delete transitions a document to DELETING and performs cleanup. A
// delete request arriving during active ingestion is honored
// cooperatively: the running pipeline checks status between steps and
// aborts on DELETING (see runIngestion).
func (e *Engine) Delete(ctx context.Context, docID int64) error {
	doc, err := e.canonical.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("fetching document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("%w: document %d", ErrDocumentNotFound, docID)
	}
	if err := e.canonical.UpdateDocumentStatus(ctx, docID, canonicalstore.StatusDeleting, ""); err != nil {
		return fmt.Errorf("transitioning to DELETING: %w", err)
	}

	if err := e.graph.DeleteDocument(ctx, docID); err != nil {
		slog.Error("orchestrator: graph store delete failed", "document_id", docID, "error", err)
	}
	if err := e.blobs.Delete(ctx, doc.StorageRef); err != nil {
		slog.Error("orchestrator: blob delete failed", "document_id", docID, "error", err)
	}
	return e.canonical.DeleteDocument(ctx, docID)
}

// Close releases the canonical and graph store connections. The blob
// store and LLM providers are not closed since FilesystemBlobStore and
// the HTTP-based llm.Provider implementations hold no long-lived handles.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.canonical.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.graph.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withRetry runs fn up to e.cfg.RetryMaxAttempts times with exponential
// backoff, retrying every error that isTransient accepts, that is, all
// but the validation-class errors (§4.8 failure policy, §7 error taxonomy). A non-transient error or final
// exhaustion returns immediately/last, respectively.
func (e *Engine) withRetry(ctx context.Context, stepName string, fn func(ctx context.Context) error) error {
	ctx, span := observe.StartStep(ctx, stepName)
	defer span.End()

	maxAttempts := e.cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := 250 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			observe.RecordError(span, lastErr)
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		slog.Warn("orchestrator: step failed, retrying", "step", stepName, "attempt", attempt, "error", lastErr)
		span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
		select {
		case <-ctx.Done():
			observe.RecordError(span, ctx.Err())
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	err := fmt.Errorf("%w: step %q exhausted %d attempts: %v", ErrPermanentProvider, stepName, maxAttempts, lastErr)
	observe.RecordError(span, err)
	return err
}

// isTransient reports whether err is worth retrying. Validation-class
// errors (bad input, malformed config, unsafe identifiers) can never
// succeed on retry and are routed straight to dead-letter handling;
// everything else is assumed to be an infra hiccup (LLM/DB/storage) and
// gets the retry budget.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidLabel),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrInvalidStatusTransition):
		return false
	default:
		return true
	}
}
