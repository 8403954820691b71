package provider

import (
	"fmt"
	"time"
)

// ThrottleError — провайдер сообщает, когда его можно дергать снова
// (например, считал Retry-After у внешнего API). Reliability использует
// это вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
