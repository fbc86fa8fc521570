package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"taskhub-api/domain"
)

// TokenTTL is the fixed validity window of an issued token.
const TokenTTL = 24 * time.Hour

var (
	ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	ErrExpiredToken = fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
)

// SigningKey is an HMAC secret identified by the kid header of the tokens it signs.
type SigningKey struct {
	ID     string
	Secret []byte
}

// TokenService issues and verifies HS256 identity tokens. Tokens are signed with
// the current key; verification accepts the current key and any previous keys
// still in rotation.
type TokenService struct {
	current SigningKey
	keys    *keyfunc.JWKS
	parser  *jwt.Parser
	now     func() time.Time
}

// NewTokenService creates a TokenService signing with key.
func NewTokenService(key SigningKey, previous ...SigningKey) *TokenService {
	given := make(map[string]keyfunc.GivenKey, len(previous)+1)
	for _, k := range previous {
		given[k.ID] = keyfunc.NewGivenHMAC(k.Secret)
	}
	given[key.ID] = keyfunc.NewGivenHMAC(key.Secret)

	return &TokenService{
		current: key,
		keys:    keyfunc.NewGiven(given),
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		now:     time.Now,
	}
}

// Issue returns a signed token asserting userID, valid for TokenTTL.
func (s *TokenService) Issue(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = s.current.ID
	signed, err := token.SignedString(s.current.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its subject.
func (s *TokenService) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}
	var claims jwt.RegisteredClaims
	if _, err := s.parser.ParseWithClaims(token, &claims, s.keys.Keyfunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// ParseKeyList parses "kid=secret" pairs separated by commas.
func ParseKeyList(raw string) ([]SigningKey, error) {
	var keys []SigningKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, "=")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid key entry %q", part)
		}
		keys = append(keys, SigningKey{ID: id, Secret: []byte(secret)})
	}
	return keys, nil
}
