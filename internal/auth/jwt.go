package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuerName = "room-server"

	// DefaultTokenTTL срок жизни админского токена
	DefaultTokenTTL = 24 * time.Hour

	minSecretLen = 32
)

var (
	ErrWeakSecret   = errors.New("secret key must be at least 32 bytes")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims содержимое токена оператора
type Claims struct {
	Operator string `json:"operator"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Issuer выпускает и проверяет HS256-токены одним секретом
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer принимает секрет в base64 (см. GenerateSecureSecret)
func NewIssuer(secret string) (*Issuer, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(decoded) < minSecretLen {
		return nil, ErrWeakSecret
	}
	return &Issuer{secret: decoded, now: time.Now}, nil
}

// NewRandomIssuer секрет живёт только в памяти процесса; для разработки
func NewRandomIssuer() *Issuer {
	issuer, err := NewIssuer(GenerateSecureSecret())
	if err != nil {
		panic(err)
	}
	return issuer
}

// Generate подписывает токен оператора
func (i *Issuer) Generate(operator string, isAdmin bool, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := i.now()
	claims := &Claims{
		Operator: operator,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuerName,
			Subject:   operator,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate проверяет подпись, срок и издателя
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecureSecret новый случайный секрет в base64
func GenerateSecureSecret() string {
	b := make([]byte, minSecretLen)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
