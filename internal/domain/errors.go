package domain

import (
	"errors"
	"fmt"
	"time"
)

// Сентинельные ошибки фасада.
var (
	ErrNoCapability     = errors.New("no capability installed")
	ErrHumanGateDenied  = errors.New("human gate: request denied by reviewer")
	ErrHumanGateExpired = errors.New("human gate: approval ticket expired")
	ErrTicketNotFound   = errors.New("approval ticket not found")
)

// PolicyViolationError — kind не входит в активную capability.
// Fail fast: ни резерва, ни обращения к провайдеру не было.
type PolicyViolationError struct {
	Kind         ActionKind
	CapabilityID string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: capability %s does not permit %s", e.CapabilityID, e.Kind)
}

// RateLimitedError несет RetryAfter — время до выхода самого старого
// гранта из окна. Хост может отдать его агенту как Retry-After.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: scope %s, retry after %v", e.Scope, e.RetryAfter)
}

// BudgetExceededError — структурный отказ резервирования.
// Remaining считается с учетом незакрытых резервов (committed + outstanding).
type BudgetExceededError struct {
	Scope     string
	Requested float64
	Remaining float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: scope %s requested %.2f ALB, remaining %.2f ALB", e.Scope, e.Requested, e.Remaining)
}

// MissingProviderError — для kind не зарегистрирован провайдер.
type MissingProviderError struct {
	Kind ActionKind
}

func (e *MissingProviderError) Error() string {
	return fmt.Sprintf("no provider registered for %s", e.Kind)
}

// ProviderError оборачивает сбой исполнения. Резерв к этому моменту уже
// откачен, бюджет не тронут.
type ProviderError struct {
	Kind ActionKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AuditIntegrityError — цепочка аудита сломана на Index.
// Фатально для доверия к журналу: ремонт не предпринимается, эскалация наружу.
type AuditIntegrityError struct {
	Index int
}

func (e *AuditIntegrityError) Error() string {
	return fmt.Sprintf("audit chain integrity broken at entry %d", e.Index)
}
