package risk

import (
	"github.com/xela07ax/freedom-sandbox/internal/domain"

	"go.uber.org/zap"
)

// Analyzer решает, требуется ли ручное подтверждение (HITL) сверх того,
// что запросил вызывающий. Вместо жесткого «вкл/выкл» риск операции
// оценивается динамически по параметрам.
type Analyzer struct {
	// TransferThreshold — сумма ALB, выше которой TOKEN_TRANSFER
	// принудительно уходит на апрув. 0 — порог выключен.
	transferThreshold float64
	logger            *zap.Logger
}

func NewAnalyzer(transferThreshold float64, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		transferThreshold: transferThreshold,
		logger:            logger.Named("risk"),
	}
}

// IsRequired проверяет, нужно ли отправлять действие на апрув (HITL).
func (a *Analyzer) IsRequired(kind domain.ActionKind, params map[string]any) bool {
	if kind != domain.KindTransfer || a.transferThreshold <= 0 {
		return false
	}

	// В JSON числа всегда парсятся в float64
	amount, ok := params["amount_alb"].(float64)
	if !ok {
		return false
	}

	if amount > a.transferThreshold {
		a.logger.Warn("DYNAMIC APPROVAL TRIGGERED",
			zap.String("kind", string(kind)),
			zap.Float64("amount_alb", amount),
			zap.Float64("threshold", a.transferThreshold),
		)
		return true
	}
	return false
}
