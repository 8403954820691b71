package provider

import (
	"context"
	"sync"

	"github.com/xela07ax/freedom-sandbox/internal/domain"
)

// Result — то, что провайдер возвращает агенту (сериализуется в JSON хостом).
type Result map[string]any

// Provider исполняет один вид действия. simulate=true обязывает провайдера
// вернуть спрогнозированный результат без единого внешнего эффекта
// (чистое вычисление или read-only проба).
type Provider interface {
	Call(ctx context.Context, params map[string]any, simulate bool) (Result, error)
}

// Func — адаптер для регистрации функции как провайдера.
type Func func(ctx context.Context, params map[string]any, simulate bool) (Result, error)

func (f Func) Call(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
	return f(ctx, params, simulate)
}

// Registry связывает ActionKind с провайдером. Состав фиксируется хостом
// на старте (Dependency Injection), фасад не знает конкретных реализаций.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.ActionKind]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[domain.ActionKind]Provider)}
}

// Register привязывает kind к провайдеру. Повторная регистрация заменяет
// привязку — хост может обернуть провайдера (см. Reliability).
func (r *Registry) Register(kind domain.ActionKind, p Provider) {
	r.mu.Lock()
	r.providers[kind] = p
	r.mu.Unlock()
}

// Kinds — список зарегистрированных kind (для exhaustive-проверок и статуса).
func (r *Registry) Kinds() []domain.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ActionKind, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	return out
}

// Execute вызывает провайдера для kind. Незарегистрированный kind —
// MissingProviderError, до провайдера дело не доходит.
func (r *Registry) Execute(ctx context.Context, kind domain.ActionKind, params map[string]any, simulate bool) (Result, error) {
	r.mu.RLock()
	p, ok := r.providers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.MissingProviderError{Kind: kind}
	}
	return p.Call(ctx, params, simulate)
}
