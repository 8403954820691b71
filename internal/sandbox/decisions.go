package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DecisionListener — «живучая» подписка на решения оператора из Redis.
// Консоль публикует "ticket_id:approve:reviewer" либо "ticket_id:deny:reviewer",
// sandbox возобновляет припаркованное действие. Переподключение — с паузой,
// без падения процесса: потерянный сигнал не страшен, тикет добьет TTL.
type DecisionListener struct {
	facade *Facade
	rdb    *redis.Client
	logger *zap.Logger
}

func NewDecisionListener(facade *Facade, rdb *redis.Client, logger *zap.Logger) *DecisionListener {
	return &DecisionListener{
		facade: facade,
		rdb:    rdb,
		logger: logger.Named("decisions"),
	}
}

// Listen блокирует до отмены контекста; запускать в отдельной горутине.
func (l *DecisionListener) Listen(ctx context.Context) {
	channel := infra.RedisChanApprovalDecisions

	for {
		pubsub := l.rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			l.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				l.handle(ctx, msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

// handle разбирает формат "ticket_id:decision:reviewer".
func (l *DecisionListener) handle(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		l.logger.Error("invalid decision signal format", zap.String("payload", payload))
		return
	}
	ticketID, decision, reviewer := parts[0], parts[1], parts[2]

	// Сигнал из Pub/Sub видят все инстансы: применяет решение тот, кто
	// первым взял лок. Тикет и сам отобьет Double Decision, лок лишь
	// экономит лишний проход.
	acquired, err := l.rdb.SetNX(ctx, infra.ApprovalLockKey(ticketID), reviewer, time.Minute).Result()
	if err != nil {
		l.logger.Warn("approval lock unavailable, applying anyway", zap.Error(err))
	} else if !acquired {
		return
	}

	switch decision {
	case "approve":
		_, err = l.facade.Approve(ctx, ticketID, reviewer)
	case "deny":
		err = l.facade.Deny(ctx, ticketID, reviewer, "denied via redis channel")
	default:
		l.logger.Error("unknown decision", zap.String("decision", decision))
		return
	}

	if err != nil {
		l.logger.Warn("decision signal not applied",
			zap.String("ticket_id", ticketID),
			zap.String("decision", decision),
			zap.Error(err),
		)
	}
}
