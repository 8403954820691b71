package ratelimit

import (
	"sync"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/domain"
)

// Window — длина скользящего окна. Лимит capability задан "в минуту".
const Window = 60 * time.Second

// SlidingWindow — per-scope лимитер по точным таймстемпам грантов.
// Токен-бакет здесь не подходит: инвариант "не больше N грантов в ЛЮБОМ
// 60-секундном окне" плюс честный retry-after требуют хранить сами моменты
// выдачи (см. provider.Reliability — там как раз сглаживающий rate.Limiter).
type SlidingWindow struct {
	mu     sync.Mutex
	grants map[string][]time.Time
	now    func() time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		grants: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// TryAcquire выдает грант, если за последние 60с по scope их меньше limit.
// При отказе RetryAfter — время до выхода самого старого гранта из окна.
func (w *SlidingWindow) TryAcquire(scope string, limit int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-Window)

	// Вычищаем гранты, уже покинувшие окно. Память на scope ограничена limit.
	live := w.grants[scope][:0]
	for _, t := range w.grants[scope] {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	w.grants[scope] = live

	if limit <= 0 || len(live) >= limit {
		retry := Window
		if len(live) > 0 {
			retry = live[0].Add(Window).Sub(now)
		}
		return &domain.RateLimitedError{Scope: scope, RetryAfter: retry}
	}

	w.grants[scope] = append(live, now)
	return nil
}

// Release возвращает последний выданный грант по scope. Вызывается, когда
// следующий за лимитером гейт отверг действие: отказ бюджета не должен
// съедать место в окне.
func (w *SlidingWindow) Release(scope string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	live := w.grants[scope]
	if len(live) == 0 {
		return
	}
	w.grants[scope] = live[:len(live)-1]
}

// InWindow — текущее число грантов в окне (для статуса и метрик).
func (w *SlidingWindow) InWindow(scope string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-Window)
	n := 0
	for _, t := range w.grants[scope] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
