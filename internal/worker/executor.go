package worker

import (
	"fmt"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/provider"
)

// Registry — реестр providers по типу stage.
//
// Заполняется при старте worker'а и после этого только читается,
// поэтому мьютекс не нужен.
type Registry struct {
	providers map[domain.StageType]provider.Provider
}

// NewRegistry создаёт пустой Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[domain.StageType]provider.Provider),
	}
}

// Register регистрирует provider для типа stage.
func (r *Registry) Register(t domain.StageType, p provider.Provider) {
	r.providers[t] = p
}

// Get возвращает provider для типа stage.
func (r *Registry) Get(t domain.StageType) (provider.Provider, error) {
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, t)
	}
	return p, nil
}

// Types возвращает зарегистрированные типы stages (для логов при старте).
func (r *Registry) Types() []domain.StageType {
	types := make([]domain.StageType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	return types
}
