package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirinyoku/tixledger/internal/domain"
)

const issuer = "tixledger"

// TokenIssuer signs HS256 tokens whose subject is the principal.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret, now: time.Now}
}

func (i *TokenIssuer) Issue(principal domain.Identity, ttl time.Duration) (string, error) {
	const op = "auth.TokenIssuer.Issue"

	if principal == "" {
		return "", fmt.Errorf("%s: empty principal", op)
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   string(principal),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// TokenVerifier validates tokens produced by TokenIssuer.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewTokenVerifier(secret []byte, opts ...jwt.ParserOption) *TokenVerifier {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	}, opts...)

	return &TokenVerifier{
		secret: secret,
		parser: jwt.NewParser(opts...),
	}
}

// Verify returns the principal proven by token.
func (v *TokenVerifier) Verify(token string) (domain.Identity, error) {
	var claims jwt.RegisteredClaims

	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("token expired: %w", ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("missing subject: %w", ErrInvalidToken)
	}

	return domain.Identity(claims.Subject), nil
}
