package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

// ErrIncompleteClaims is returned for a well-signed token without a user or role.
var ErrIncompleteClaims = errors.New("token is missing user or role")

// Tokens mints and verifies HS256 access tokens for one issuer.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewTokens(cfg config.JWTConfig) (*Tokens, error) {
	switch {
	case cfg.Secret == "":
		return nil, errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	case cfg.Leeway < 0:
		return nil, errors.New("jwt leeway must not be negative")
	}
	return &Tokens{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
		),
	}, nil
}

// Mint signs a token valid from now for the configured lifetime. A blank JTI
// gets a random one.
func (t *Tokens) Mint(now time.Time, payload AccessTokenPayload) (string, error) {
	if payload.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid role %q", payload.Role)
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   payload.UserID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, and that the token names a user
// with a known role.
func (t *Tokens) Verify(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if _, err := t.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil || !claims.Role.IsValid() {
		return nil, ErrIncompleteClaims
	}
	return claims, nil
}
