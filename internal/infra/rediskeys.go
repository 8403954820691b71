package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "freedom"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalDecisions — канал трансляции решений оператора (HITL).
	// Формат сообщения: "ticket_id:approve:reviewer" либо "ticket_id:deny:reviewer".
	RedisChanApprovalDecisions = RedisNamespace + ":approvals:decisions"
)

// ApprovalLockKey — ключ распределенной блокировки применения решения:
// сигнал из Pub/Sub получают все инстансы, применяет первый взявший лок.
func ApprovalLockKey(ticketID string) string {
	return fmt.Sprintf("%s:approvals:execution:%s", RedisNamespace, ticketID)
}
