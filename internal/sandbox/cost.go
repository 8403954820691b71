package sandbox

import "github.com/xela07ax/freedom-sandbox/internal/domain"

// CostModel считает стоимость действия в ALB. Dry run и live-исполнение
// оцениваются одной и той же функцией: прогноз dry run всегда равен
// списанию реального запуска.
type CostModel struct {
	base map[domain.ActionKind]float64
}

// Дефолтные базовые стоимости (ALB) по kind.
var defaultCosts = map[domain.ActionKind]float64{
	domain.KindLog:          1,
	domain.KindFileRead:     1,
	domain.KindReadDB:       1,
	domain.KindNetworkFetch: 2,
	domain.KindFileWrite:    5,
	domain.KindWriteDB:      5,
	domain.KindSpawnProcess: 10,
}

// NewCostModel собирает модель: дефолты, перекрытые значениями из конфига.
func NewCostModel(overrides map[string]float64) *CostModel {
	base := make(map[domain.ActionKind]float64, len(defaultCosts))
	for k, v := range defaultCosts {
		base[k] = v
	}
	for k, v := range overrides {
		if kind, err := domain.ParseActionKind(k); err == nil {
			base[kind] = v
		}
	}
	return &CostModel{base: base}
}

// Cost — стоимость попытки. TOKEN_TRANSFER стоит саму переводимую сумму:
// бюджет capability и есть кошелек агента.
func (m *CostModel) Cost(kind domain.ActionKind, params map[string]any) float64 {
	if kind == domain.KindTransfer {
		if amount, ok := params["amount_alb"].(float64); ok && amount > 0 {
			return amount
		}
		return 0
	}
	return m.base[kind]
}
