package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Reliability оборачивает провайдера в защитный контур: сглаживающий
// rate-лимитер, Circuit Breaker и ретраи с умным бэкоффом.
// Это защита ВНЕШНЕЙ системы от шторма вызовов; политика sandbox'а
// (скользящее окно per-scope) живет выше, в ratelimit.SlidingWindow.
// Simulate-вызовы идут мимо контура: внешних эффектов у них нет.
type Reliability struct {
	next    Provider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

type ReliabilitySettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration // Время, через которое CB попробует закрыться
	CallTimeout time.Duration // Предел одного вызова провайдера
	RPS         rate.Limit
	Burst       int
}

func NewReliability(next Provider, s ReliabilitySettings) *Reliability {
	if s.Name == "" {
		s.Name = "sandbox-provider"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = 5 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.RPS == 0 {
		s.RPS = 100
	}
	if s.Burst == 0 {
		s.Burst = 20
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся, блокируем трафик
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Reliability{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(s.RPS, s.Burst),
		timeout: s.CallTimeout,
	}
}

// State — состояние предохранителя (для метрики).
func (w *Reliability) State() gobreaker.State { return w.cb.State() }

func (w *Reliability) Call(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
	if simulate {
		return w.next.Call(ctx, params, true)
	}

	// 1. Сглаживающий лимитер
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider rate limit: %w", err)
	}

	var finalData Result

	// 2. Circuit Breaker поверх ретраев
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Провайдер подсказал паузу — слушаемся его
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			finalData, callErr = w.next.Call(tCtx, params, false)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}
	return cbResult.(Result), nil
}
