package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoEmployer токен валиден, но не содержит работодателя.
var ErrNoEmployer = errors.New("token has no employer_id claim")

// CustomClaims данные, хранящиеся в токене.
type CustomClaims struct {
	EmployerID string `json:"employer_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken создаёт подписанный токен. В проде токены выпускает
// сервис авторизации, здесь метод нужен для локального запуска и тестов.
func (j *MakerImpl) GenerateToken(employerID, role string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		EmployerID: employerID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken проверяет подпись и срок действия токена и возвращает его claims.
func (j *MakerImpl) ParseToken(tokenStr string) (*CustomClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.EmployerID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoEmployer)
	}
	return claims, nil
}
