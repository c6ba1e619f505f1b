package auth

import (
	"context"

	"storefront/internal/types"
)

// UserLookup is the user read the authenticator needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// Authenticator resolves bearer tokens to actors. The token proves identity;
// role and email come from the users table on every request, so a demotion
// takes effect without waiting for the token to expire.
type Authenticator struct {
	tokens *TokenIssuer
	users  UserLookup
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *TokenIssuer, users UserLookup) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// ResolveToken verifies token and loads the current role of the user it
// names. Tokens for deleted users are invalid.
func (a *Authenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	claimed, err := a.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	u, err := a.users.GetByID(ctx, claimed.ID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundUser) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
		}
		return nil, err
	}

	return &types.Actor{ID: u.ID, Role: u.Role, Email: u.Email}, nil
}
