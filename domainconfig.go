package harmonizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/kgraph-ai/harmonizer/ontology"
)

// DomainConfigStore resolves an ontology_id to the DomainConfig it names.
// Persistence of DomainConfig rows is a thin, host-owned concern (§6 lists
// `ontologies/domain_configs` alongside the relational tier); the engine
// only needs this narrow lookup seam.
type DomainConfigStore interface {
	Get(ctx context.Context, id int64) (ontology.DomainConfig, error)
	Put(ctx context.Context, cfg ontology.DomainConfig) error
}

// InMemoryDomainConfigStore is the default DomainConfigStore: adequate
// for single-binary and test deployments; a relational-backed
// implementation is a drop-in replacement behind the same interface.
type InMemoryDomainConfigStore struct {
	mu      sync.Mutex
	configs map[int64]ontology.DomainConfig
}

// NewInMemoryDomainConfigStore creates an empty DomainConfigStore.
func NewInMemoryDomainConfigStore() *InMemoryDomainConfigStore {
	return &InMemoryDomainConfigStore{configs: make(map[int64]ontology.DomainConfig)}
}

func (s *InMemoryDomainConfigStore) Get(ctx context.Context, id int64) (ontology.DomainConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return ontology.DomainConfig{}, fmt.Errorf("%w: domain config %d", ErrValidation, id)
	}
	return cfg, nil
}

func (s *InMemoryDomainConfigStore) Put(ctx context.Context, cfg ontology.DomainConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
	return nil
}

var _ DomainConfigStore = (*InMemoryDomainConfigStore)(nil)
