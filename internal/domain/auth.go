package domain

import "github.com/golang-jwt/jwt/v5"

// CustomClaims — claims RS256-токена хост-периметра.
// Scopes: "act": true, "approvals": true, "audit": true — права на
// эндпоинты адаптера, не на виды действий (виды — дело capability).
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}
