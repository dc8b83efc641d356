package factor

import (
	"sync"

	"github.com/quantatlas-lab/factor-trading/internal/types"
	"github.com/quantatlas-lab/factor-trading/pkg/errors"
)

// Registry manages all available factor scorers, selected by configuration
// enum rather than runtime type inspection.
type Registry interface {
	RegisterScorer(scorer Scorer) error
	GetScorer(name types.FactorType) (Scorer, error)
	ListScorers() []types.FactorType
	RemoveScorer(name types.FactorType) error
}

// RegistryV1 is the default registry implementation.
type RegistryV1 struct {
	scorers map[types.FactorType]Scorer
	mu      sync.RWMutex
}

// NewRegistry creates an empty scorer registry.
func NewRegistry() Registry {
	return &RegistryV1{
		scorers: make(map[types.FactorType]Scorer),
		mu:      sync.RWMutex{},
	}
}

// NewDefaultRegistry creates a registry with every built-in scorer
// registered.
func NewDefaultRegistry() Registry {
	registry := NewRegistry()

	// Registration of built-ins cannot collide.
	_ = registry.RegisterScorer(NewCovarianceSensitivity())
	_ = registry.RegisterScorer(NewShapeStatistic())
	_ = registry.RegisterScorer(NewStationarityStatistic())

	return registry
}

// RegisterScorer adds a scorer to the registry.
func (r *RegistryV1) RegisterScorer(scorer Scorer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := scorer.Name()
	if _, exists := r.scorers[name]; exists {
		return errors.Newf(errors.ErrCodeScorerAlreadyExists, "RegisterScorer: scorer with name %s already registered", name)
	}

	r.scorers[name] = scorer

	return nil
}

// GetScorer retrieves a scorer by name.
func (r *RegistryV1) GetScorer(name types.FactorType) (Scorer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scorer, exists := r.scorers[name]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeScorerNotFound, "GetScorer: scorer with name %s not found", name)
	}

	return scorer, nil
}

// ListScorers returns a list of all registered scorer names.
func (r *RegistryV1) ListScorers() []types.FactorType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]types.FactorType, 0, len(r.scorers))
	for name := range r.scorers {
		names = append(names, name)
	}

	return names
}

// RemoveScorer removes a scorer from the registry.
func (r *RegistryV1) RemoveScorer(name types.FactorType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scorers[name]; !exists {
		return errors.Newf(errors.ErrCodeScorerNotFound, "RemoveScorer: scorer with name %s not found", name)
	}

	delete(r.scorers, name)

	return nil
}
