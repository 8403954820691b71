package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Capability — именованный пакет прав: какие действия разрешены,
// потолок бюджета (в ALB) и потолок частоты вызовов.
// После установки через SetCapability объект неизменяем; смена capability
// меняет только будущие решения политики, прошлые записи аудита не трогает.
type Capability struct {
	ID            string       `json:"id"`
	Scope         string       `json:"scope"`
	Allowed       []ActionKind `json:"allowed"`
	Budget        float64      `json:"budget"`          // Потолок в ALB
	RatePerMinute int          `json:"rate_per_minute"` // Скользящее окно 60с
	Signature     string       `json:"signature"`       // HMAC-SHA256(ID, secret), hex

	IssuedAt time.Time `json:"issued_at,omitempty"`
}

// Permits — чистая проверка членства kind в разрешенном множестве.
func (c *Capability) Permits(kind ActionKind) bool {
	for _, k := range c.Allowed {
		if k == kind {
			return true
		}
	}
	return false
}

// SignCapability считает подпись токена. Используется хостом при выпуске
// capability и реестром при проверке на установке.
func SignCapability(id string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сверяет подпись в constant-time.
func (c *Capability) VerifySignature(secret []byte) bool {
	want, err := hex.DecodeString(c.Signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(c.ID))
	return hmac.Equal(want, mac.Sum(nil))
}
