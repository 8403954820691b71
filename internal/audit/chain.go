package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"iter"
	"sync"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/domain"
)

// Sink получает записи после включения в цепочку (персистентность, экспорт).
// Цепочка в RAM остается источником правды для Verify.
type Sink interface {
	Log(e Entry)
}

// Chain — append-only журнал с HMAC-связыванием записей.
// Секрет принадлежит цепочке (и фасаду), провайдерам и хосту не выдается:
// без секрета нельзя пересчитать валидный хэш, значит нельзя и незаметно
// переписать историю.
type Chain struct {
	mu      sync.RWMutex
	entries []Entry
	secret  []byte
	sink    Sink
	now     func() time.Time
}

// NewChain создает пустую цепочку. sink может быть nil (только RAM).
func NewChain(secret []byte, sink Sink) *Chain {
	return &Chain{
		secret: secret,
		sink:   sink,
		now:    time.Now,
	}
}

// Fields — входные поля новой записи; seq, prev_hash и hash проставляет цепочка.
type Fields struct {
	TraceID    string
	AgentID    string
	Scope      string
	Kind       domain.ActionKind
	ParamsHash string
	Outcome    Outcome
	Cost       float64
}

// Append вычисляет hash от prev_hash и полей, присваивает следующий seq
// и сохраняет запись. Единственная точка записи в журнал.
func (c *Chain) Append(f Fields) Entry {
	c.mu.Lock()

	prev := GenesisHash
	if n := len(c.entries); n > 0 {
		prev = c.entries[n-1].Hash
	}

	e := Entry{
		Seq:        int64(len(c.entries)),
		Timestamp:  c.now(),
		TraceID:    f.TraceID,
		AgentID:    f.AgentID,
		Scope:      f.Scope,
		Kind:       f.Kind,
		ParamsHash: f.ParamsHash,
		Outcome:    f.Outcome,
		Cost:       f.Cost,
		PrevHash:   prev,
	}
	e.Hash = c.seal(&e)
	c.entries = append(c.entries, e)
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Log(e)
	}
	return e
}

// All — ленивая, конечная, перезапускаемая итерация по журналу.
// Снимается снапшот длины: записи, добавленные после начала обхода,
// в этот обход не попадают.
func (c *Chain) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		c.mu.RLock()
		n := len(c.entries)
		c.mu.RUnlock()

		for i := 0; i < n; i++ {
			c.mu.RLock()
			e := c.entries[i]
			c.mu.RUnlock()
			if !yield(e) {
				return
			}
		}
	}
}

// Len — текущее число записей.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Verify пересчитывает цепочку с нулевой записи.
func (c *Chain) Verify() bool {
	_, ok := c.VerifyChain()
	return ok
}

// VerifyChain возвращает индекс первой битой записи (и ok=false),
// либо (-1, true), если журнал цел. Проверяются и связка prev_hash,
// и пересчет hash от сохраненных полей.
func (c *Chain) VerifyChain() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prev := GenesisHash
	for i := range c.entries {
		e := &c.entries[i]
		if e.Seq != int64(i) || e.PrevHash != prev {
			return i, false
		}
		if !hmac.Equal([]byte(e.Hash), []byte(c.seal(e))) {
			return i, false
		}
		prev = e.Hash
	}
	return -1, true
}

// seal — HMAC-SHA256(secret, preimage) hex.
func (c *Chain) seal(e *Entry) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(e.preimage()))
	return hex.EncodeToString(mac.Sum(nil))
}
