package budget

import (
	"sync"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/domain"

	"github.com/google/uuid"
)

// Op — вид записи в журнале бухгалтерии.
type Op string

const (
	OpReserve  Op = "RESERVE"
	OpCommit   Op = "COMMIT"
	OpRollback Op = "ROLLBACK"
)

// Entry — неизменяемая запись журнала. Итоги (committed/outstanding)
// всегда выводятся сверткой по записям, а не правкой счетчиков на месте:
// это и дает журналу доказательную ценность.
type Entry struct {
	ReservationID string    `json:"reservation_id"`
	Scope         string    `json:"scope"`
	Op            Op        `json:"op"`
	Amount        float64   `json:"amount"` // ALB
	At            time.Time `json:"at"`
}

// Reservation — хэндл удержания средств. До Commit/Rollback сумма
// считается outstanding и уменьшает доступный остаток.
type Reservation struct {
	ID     string
	Scope  string
	Amount float64
}

// Ledger — append-only журнал расходов по scope.
// Резервы сами по себе не истекают: резерв всегда закрывает тот же
// путь Act/Approve/Deny/janitor, который его создал.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	// Открытые резервы: id -> Reservation. Закрытые удаляются из мапы,
	// но их след остается в entries.
	open map[string]Reservation
	now  func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		open: make(map[string]Reservation),
		now:  time.Now,
	}
}

// Reserve удерживает cost под потолком limit (бюджет активной capability).
// Инвариант: committed + outstanding + cost <= limit, иначе BudgetExceededError.
func (l *Ledger) Reserve(scope string, cost, limit float64) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	committed, outstanding := l.foldLocked(scope)
	if committed+outstanding+cost > limit {
		return Reservation{}, &domain.BudgetExceededError{
			Scope:     scope,
			Requested: cost,
			Remaining: limit - committed - outstanding,
		}
	}

	res := Reservation{ID: uuid.New().String(), Scope: scope, Amount: cost}
	l.open[res.ID] = res
	l.entries = append(l.entries, Entry{
		ReservationID: res.ID,
		Scope:         scope,
		Op:            OpReserve,
		Amount:        cost,
		At:            l.now(),
	})
	return res, nil
}

// Commit превращает резерв в постоянное списание.
// Идемпотентен по id резерва: повторный Commit — no-op, не двойное списание.
// Именно это свойство дает "at most one charge" при ретраях транспорта.
func (l *Ledger) Commit(reservationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.open[reservationID]
	if !ok {
		return // Уже закрыт (commit или rollback) — ничего не делаем
	}
	delete(l.open, reservationID)
	l.entries = append(l.entries, Entry{
		ReservationID: res.ID,
		Scope:         res.Scope,
		Op:            OpCommit,
		Amount:        res.Amount,
		At:            l.now(),
	})
}

// Rollback снимает удержание без следа в committed.
func (l *Ledger) Rollback(reservationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.open[reservationID]
	if !ok {
		return
	}
	delete(l.open, reservationID)
	l.entries = append(l.entries, Entry{
		ReservationID: res.ID,
		Scope:         res.Scope,
		Op:            OpRollback,
		Amount:        res.Amount,
		At:            l.now(),
	})
}

// Usage — сумма закоммиченных списаний по scope.
func (l *Ledger) Usage(scope string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	committed, _ := l.foldLocked(scope)
	return committed
}

// Outstanding — сумма открытых резервов по scope (для диагностики/статуса).
func (l *Ledger) Outstanding(scope string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, outstanding := l.foldLocked(scope)
	return outstanding
}

// Entries возвращает снапшот журнала (для статуса и отладки).
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// foldLocked — свертка журнала: committed и outstanding по scope.
// Вызывается только под l.mu.
func (l *Ledger) foldLocked(scope string) (committed, outstanding float64) {
	for _, e := range l.entries {
		if e.Scope != scope || e.Op != OpCommit {
			continue
		}
		committed += e.Amount
	}
	for _, r := range l.open {
		if r.Scope == scope {
			outstanding += r.Amount
		}
	}
	return committed, outstanding
}
