package harmonizer

import "os"

// Config holds all configuration for the engine. Zero-value fields are
// filled in by DefaultConfig; a JSON file overlay and environment-variable
// overlay are applied on top of the defaults by the host (see cmd/server).
type Config struct {
	// Relational tier (Canonical Store, C6). DSN is a pgx connection string;
	// when SQLitePath is set instead, the embedded sqlite-vec backend is
	// used (single-binary / offline / test deployments).
	RelationalDSN string `json:"relational_dsn" yaml:"relational_dsn"`
	SQLitePath    string `json:"sqlite_path" yaml:"sqlite_path"`

	// Graph tier (Graph Store, C5).
	Neo4jURI      string `json:"neo4j_uri" yaml:"neo4j_uri"`
	Neo4jUser     string `json:"neo4j_user" yaml:"neo4j_user"`
	Neo4jPassword string `json:"neo4j_password" yaml:"neo4j_password"`

	// Object storage for uploaded document bytes. Host-owned; the engine
	// only needs a key prefix convention (see Submit in §6).
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM capabilities (C2 Embedder, C3 Extractor, C9/C10 planners).
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// EmbeddingDim is the global vector dimension D (§3). Mixing dimensions
	// across documents is forbidden; this is enforced at the store layer.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Chunker (C1).
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Extraction/enrichment concurrency (C3, C9).
	ExtractionConcurrency int `json:"extraction_concurrency" yaml:"extraction_concurrency"`
	EnrichmentBatchSize   int `json:"enrichment_batch_size" yaml:"enrichment_batch_size"`
	EnrichmentConcurrency int `json:"enrichment_concurrency" yaml:"enrichment_concurrency"`

	// Resolver (C7, §9 Open Questions).
	ResolutionThreshold float64 `json:"resolution_threshold" yaml:"resolution_threshold"`
	TypeScopedMatch     bool    `json:"type_scoped_match" yaml:"type_scoped_match"`

	// Retrieval (C10).
	RRFK          int     `json:"rrf_k" yaml:"rrf_k"`
	WeightVector  float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightGraph   float64 `json:"weight_graph" yaml:"weight_graph"`
	MaxContextKiB int     `json:"max_context_kib" yaml:"max_context_kib"`

	// Upload admission (§6 External Interfaces).
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`

	// Orchestrator timing budgets (§5).
	RetryMaxAttempts    int `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	SoftBudgetSeconds   int `json:"soft_budget_seconds" yaml:"soft_budget_seconds"`
	HardBudgetSeconds   int `json:"hard_budget_seconds" yaml:"hard_budget_seconds"`
	RelationalStmtTimeoutSeconds int `json:"relational_stmt_timeout_seconds" yaml:"relational_stmt_timeout_seconds"`
	ProviderCallTimeoutSeconds   int `json:"provider_call_timeout_seconds" yaml:"provider_call_timeout_seconds"`
}

// LLMConfig configures a single LLM provider endpoint (§6 recognized keys).
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, openrouter, anthropic
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults. The relational and
// graph tiers default to local/embedded options so the engine runs without
// external services configured; production deployments set RelationalDSN
// and Neo4jURI via the overlay.
func DefaultConfig() Config {
	return Config{
		SQLitePath: defaultSQLitePath(),
		Neo4jURI:   "bolt://localhost:7687",
		Neo4jUser:  "neo4j",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		EmbeddingDim:          1536,
		ChunkSize:             1024,
		ChunkOverlap:          128,
		ExtractionConcurrency: 16,
		EnrichmentBatchSize:   50,
		EnrichmentConcurrency: 8,
		ResolutionThreshold:   0.95,
		TypeScopedMatch:       false,
		RRFK:                  60,
		WeightVector:          1.0,
		WeightGraph:           1.0,
		MaxContextKiB:         50,
		MaxUploadBytes:        50 * 1024 * 1024,
		RetryMaxAttempts:      3,
		SoftBudgetSeconds:     9 * 60,
		HardBudgetSeconds:     10 * 60,
		RelationalStmtTimeoutSeconds: 30,
		ProviderCallTimeoutSeconds:   60,
	}
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "harmonizer.db"
	}
	return home + "/.harmonizer/harmonizer.db"
}

// Validate checks invariant configuration constraints, returning
// ErrInvalidConfig wrapped with the offending field when violated.
func (c Config) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return wrapInvalidConfig("chunk_overlap must be less than chunk_size")
	}
	if c.EmbeddingDim <= 0 {
		return wrapInvalidConfig("embedding_dim must be positive")
	}
	if c.ResolutionThreshold < 0 || c.ResolutionThreshold > 1 {
		return wrapInvalidConfig("resolution_threshold must be in [0,1]")
	}
	if c.RelationalDSN == "" && c.SQLitePath == "" {
		return wrapInvalidConfig("one of relational_dsn or sqlite_path must be set")
	}
	return nil
}

func wrapInvalidConfig(msg string) error {
	return &configError{msg: msg}
}

type configError struct{ msg string }

func (e *configError) Error() string { return "harmonizer: invalid configuration: " + e.msg }
func (e *configError) Unwrap() error { return ErrInvalidConfig }
