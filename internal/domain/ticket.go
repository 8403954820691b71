package domain

import (
	"errors"
	"time"
)

// Статусы State Machine тикета (HITL)
type TicketStatus string

const (
	TicketPending  TicketStatus = "PENDING"
	TicketApproved TicketStatus = "APPROVED"
	TicketDenied   TicketStatus = "DENIED"
	TicketExpired  TicketStatus = "EXPIRED"
)

var (
	ErrInvalidTransition = errors.New("invalid ticket status transition")
	ErrAlreadyProcessed  = errors.New("approval ticket already processed")
)

// Ticket — приостановленное действие, ожидающее решения оператора.
// Act() с humanGate возвращает тикет немедленно, не блокируя поток;
// возобновление — отдельным вызовом Approve/Deny либо сигналом из Redis.
type Ticket struct {
	ID            string       `json:"id"`
	ReservationID string       `json:"reservation_id"` // Удерживаемый бюджет
	TraceID       string       `json:"trace_id"`       // Trace исходного запроса
	AgentID       string       `json:"agent_id"`
	Scope         string       `json:"scope"`
	Kind          ActionKind   `json:"kind"`
	Params        map[string]any `json:"params"`
	ParamsHash    string       `json:"params_hash"`
	Cost          float64      `json:"cost"`
	Simulate      bool         `json:"simulate"` // Зафиксировано на момент Act()
	Status        TicketStatus `json:"status"`

	ReviewerID *string `json:"reviewer_id,omitempty"`
	Comment    *string `json:"comment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата.
// Из PENDING можно уйти один раз; повторное решение — Double Decision, запрещено.
func (t *Ticket) CanTransitionTo(next TicketStatus) error {
	if t.Status != TicketPending {
		return ErrAlreadyProcessed
	}
	if next == TicketPending {
		return ErrInvalidTransition
	}
	return nil
}

// ExpiredAt сообщает, истек ли TTL тикета на момент now.
func (t *Ticket) ExpiredAt(now time.Time) bool {
	return t.Status == TicketPending && now.After(t.ExpiresAt)
}
