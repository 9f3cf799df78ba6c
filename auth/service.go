package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptySecret signals the service was built without a signing secret.
var ErrEmptySecret = errors.New("auth: empty signing secret")

const defaultTokenTTL = 24 * time.Hour

// Service issues and verifies caller tokens. A token proves its bearer
// controls the address in its subject claim.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service signing with HS256.
func NewService(secret string) (*Service, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Service{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}, nil
}

func (s *Service) WithTTL(ttl time.Duration) *Service {
	s.ttl = ttl
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueToken creates a signed token for address.
func (s *Service) IssueToken(address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("auth: empty address")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   address,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token and returns the address it was issued for.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("auth: invalid token")
	}
	return claims.Subject, nil
}

// Authenticate verifies tokenString and binds its address to ctx.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (context.Context, error) {
	address, err := s.VerifyToken(tokenString)
	if err != nil {
		return ctx, err
	}
	return WithCaller(ctx, address), nil
}
