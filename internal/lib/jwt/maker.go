// Package jwt проверяет токены доступа, выпущенные сервисом авторизации.
// Токен подписан HS256 и несёт идентификатор работодателя.
package jwt

import (
	"time"
)

// Maker описывает создание и разбор токенов.
type Maker interface {
	GenerateToken(employerID, role string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl реализует Maker с секретным ключом и временем жизни токена.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт MakerImpl.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
