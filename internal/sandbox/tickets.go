package sandbox

import (
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/domain"

	"github.com/google/uuid"
)

// TicketStore — in-memory очередь HITL-тикетов (Decision Queue).
// Переход статуса атомарен: Double Decision отсекается конечным автоматом
// тикета, а не надеждой на дисциплину вызывающих.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	now     func() time.Time
}

func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets: make(map[string]*domain.Ticket),
		now:     time.Now,
	}
}

// Create паркует действие с уже удержанным резервом.
func (s *TicketStore) Create(traceID, agentID, scope string, kind domain.ActionKind, params map[string]any, paramsHash, reservationID string, cost float64, simulate bool, ttl time.Duration) *domain.Ticket {
	now := s.now()
	t := &domain.Ticket{
		ID:            uuid.New().String(),
		ReservationID: reservationID,
		TraceID:       traceID,
		AgentID:       agentID,
		Scope:         scope,
		Kind:          kind,
		Params:        params,
		ParamsHash:    paramsHash,
		Cost:          cost,
		Simulate:      simulate,
		Status:        domain.TicketPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()
	return t
}

// Resolve атомарно переводит тикет из PENDING в терминальный статус и
// возвращает его копию. Просроченный PENDING разрешается только в EXPIRED.
func (s *TicketStore) Resolve(id string, next domain.TicketStatus, reviewer, comment string) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	if err := t.CanTransitionTo(next); err != nil {
		return domain.Ticket{}, err
	}
	if t.ExpiredAt(s.now()) && next != domain.TicketExpired {
		return domain.Ticket{}, domain.ErrHumanGateExpired
	}

	t.Status = next
	t.UpdatedAt = s.now()
	if reviewer != "" {
		t.ReviewerID = &reviewer
	}
	if comment != "" {
		t.Comment = &comment
	}
	return *t, nil
}

// Get возвращает копию тикета.
func (s *TicketStore) Get(id string) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return *t, nil
}

// Pending — очередь ожидающих решений, старые первыми.
func (s *TicketStore) Pending() []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Ticket, 0)
	for _, t := range s.tickets {
		if t.Status == domain.TicketPending {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// TakeExpired выбирает просроченные PENDING тикеты и переводит их в EXPIRED.
// Вызывается janitor'ом; сам откат резерва и аудит — дело фасада.
func (s *TicketStore) TakeExpired() []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.ExpiredAt(now) {
			t.Status = domain.TicketExpired
			t.UpdatedAt = now
			out = append(out, *t)
		}
	}
	return out
}
