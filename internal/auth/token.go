package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"storefront/internal/types"
)

// Claims is the bearer token payload.
type Claims struct {
	Role  types.UserRole `json:"role"`
	Email string         `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  types.Clock
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl defaults to 30 days.
func NewTokenIssuer(secret types.SecretString, ttl time.Duration, issuer string, clock types.Clock) *TokenIssuer {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TokenIssuer{
		secret: []byte(secret.Unmask()),
		ttl:    ttl,
		issuer: issuer,
		clock:  clock,
	}
}

// Issue returns a signed token for u and its expiry.
func (t *TokenIssuer) Issue(u *types.User) (string, time.Time, error) {
	now := t.clock.Now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Role:  u.Role,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to sign token", err)
	}
	return signed, exp, nil
}

// Parse verifies tokenStr and returns the actor it names. Expired tokens
// return ErrCodeAuthTokenExpired; every other failure returns
// ErrCodeAuthTokenInvalid.
func (t *TokenIssuer) Parse(tokenStr string) (*types.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}
	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", errors.New("missing subject"))
	}

	role := claims.Role
	if role == "" {
		role = types.RoleCustomer
	}
	return &types.Actor{ID: claims.Subject, Role: role, Email: claims.Email}, nil
}
