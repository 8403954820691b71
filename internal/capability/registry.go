package capability

import (
	"fmt"
	"sync"

	"github.com/xela07ax/freedom-sandbox/internal/domain"

	"go.uber.org/zap"
)

// Registry хранит текущую активную capability и отвечает на вопросы политики.
// Hot Path (IsAllowed/Current) работает только с RAM под RWMutex.
// Решение "как именно исполнять" (live/simulate/HITL) принимает фасад,
// у которого есть доступ к бюджету, лимитеру и анализатору риска.
type Registry struct {
	mu     sync.RWMutex
	active *domain.Capability

	secret []byte
	logger *zap.Logger
}

func NewRegistry(secret []byte, logger *zap.Logger) *Registry {
	return &Registry{
		secret: secret,
		logger: logger.Named("capability"),
	}
}

// Set заменяет активную capability. Побочных эффектов кроме свопа нет:
// прошлые записи аудита и закоммиченный бюджет не пересматриваются.
// Токен с битой подписью отвергается (Zero Trust: подпись — источник правды).
func (r *Registry) Set(cap domain.Capability) error {
	if !cap.VerifySignature(r.secret) {
		return fmt.Errorf("capability %s: signature verification failed", cap.ID)
	}
	if len(cap.Allowed) == 0 {
		return fmt.Errorf("capability %s: empty allowed set", cap.ID)
	}
	for _, k := range cap.Allowed {
		if !k.Valid() {
			return fmt.Errorf("capability %s: unknown action kind %q", cap.ID, k)
		}
	}

	r.mu.Lock()
	r.active = &cap
	r.mu.Unlock()

	r.logger.Info("capability installed",
		zap.String("id", cap.ID),
		zap.String("scope", cap.Scope),
		zap.Float64("budget", cap.Budget),
		zap.Int("rate_per_minute", cap.RatePerMinute),
	)
	return nil
}

// Current возвращает активную capability или ErrNoCapability.
// Возвращаем копию: установленный токен неизменяем.
func (r *Registry) Current() (domain.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return domain.Capability{}, domain.ErrNoCapability
	}
	return *r.active, nil
}

// IsAllowed — чистая проверка членства. Default Deny: без capability все запрещено.
func (r *Registry) IsAllowed(kind domain.ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return false
	}
	return r.active.Permits(kind)
}
