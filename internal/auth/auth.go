// Package auth выпускает и проверяет токены, которыми агенты подтверждают свою личность.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrEmptySecret возвращается, если секрет подписи не задан
	ErrEmptySecret = errors.New("jwt secret is empty")
	// ErrInvalidToken возвращается для неподписанного, просроченного или пустого токена
	ErrInvalidToken = errors.New("invalid peer token")
)

// DefaultTTL время жизни токена по умолчанию
const DefaultTTL = 5 * time.Minute

// Signer выпускает и проверяет HMAC-токены агентов
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner создаёт новый экземпляр Signer
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue выпускает токен для агента
func (s *Signer) Issue(agentID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   agentID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse проверяет токен и возвращает ID агента
func (s *Signer) Parse(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
