package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/domain"
)

// Outcome — исход попытки действия.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"   // Исполнено, бюджет закоммичен
	OutcomeFailed    Outcome = "FAILED"    // Сбой провайдера, резерв откачен
	OutcomeSimulated Outcome = "SIMULATED" // Dry run, списания нет
	OutcomeRejected  Outcome = "REJECTED"  // Отказ на гейте (policy/rate/budget)
	OutcomeDenied    Outcome = "DENIED"    // Оператор отклонил (HITL)
	OutcomeExpired   Outcome = "EXPIRED"   // TTL тикета истек
)

// GenesisHash — фиксированный PrevHash нулевой записи.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry — одна запись hash-chained журнала. Ключ идемпотентности попытки —
// (scope, kind, params_hash, seq). Записи никогда не мутируются после
// добавления: любая ретроактивная правка или перестановка ломает цепочку.
type Entry struct {
	Seq        int64             `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	TraceID    string            `json:"trace_id"`
	AgentID    string            `json:"agent_id"`
	Scope      string            `json:"scope"`
	Kind       domain.ActionKind `json:"kind"`
	ParamsHash string            `json:"params_hash"`
	Outcome    Outcome           `json:"outcome"`
	Cost       float64           `json:"cost"` // ALB; ненулевой только у SUCCESS
	PrevHash   string            `json:"prev_hash"`
	Hash       string            `json:"hash"`
}

// preimage — каноническая строка под HMAC. Порядок полей фиксирован,
// таймстемп в RFC3339Nano, cost без хвостовых нулей: одинаковые поля
// всегда дают одинаковый прообраз при повторной проверке.
func (e *Entry) preimage() string {
	return strings.Join([]string{
		e.PrevHash,
		strconv.FormatInt(e.Seq, 10),
		e.Timestamp.Format(time.RFC3339Nano),
		e.AgentID,
		e.Scope,
		string(e.Kind),
		e.ParamsHash,
		string(e.Outcome),
		strconv.FormatFloat(e.Cost, 'f', -1, 64),
	}, "|")
}

// HashParams — SHA-256 от канонического JSON параметров.
// encoding/json сортирует ключи map, так что хэш детерминирован.
func HashParams(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		// map[string]any с JSON-совместимыми значениями не падает;
		// на не-сериализуемом мусоре фиксируем сам факт
		raw = []byte("unserializable")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
