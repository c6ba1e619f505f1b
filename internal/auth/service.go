// Package auth implements password authentication and bearer tokens for
// storefront users.
package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// UserRepo defines the data access methods needed by Service.
type UserRepo interface {
	Create(ctx context.Context, u *types.User) error
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Session is the result of a successful register or login.
type Session struct {
	User      *types.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Service implements registration and login.
type Service struct {
	users  UserRepo
	tokens *TokenIssuer
	hasher PasswordHasher
	clock  types.Clock
	logger *slog.Logger
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Users  UserRepo
	Tokens *TokenIssuer
	Hasher PasswordHasher
	Clock  types.Clock
	Logger *slog.Logger
}

// NewService creates a new Service.
// If Hasher is nil, bcrypt is used.
// If Clock is nil, RealClock is used.
// If Logger is nil, slog.Default() is used.
func NewService(cfg ServiceConfig) *Service {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &bcryptHasher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:  cfg.Users,
		tokens: cfg.Tokens,
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

// Register creates a customer account and returns a session for it.
// A duplicate email surfaces as ErrCodeConflictEmail from the repository.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	hash, err := s.hasher.GenerateFromPassword(in.Password)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	now := s.clock.Now()
	user := &types.User{
		ID:           "usr_" + uuid.New().String(),
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Role:         types.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return s.issue(user)
}

// Login verifies credentials and returns a session.
//
// Enumeration Protection: unknown email and wrong password both return
// ErrCodeAuthInvalidCreds.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundUser) {
			return nil, invalidCredentials()
		}
		return nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		s.logger.InfoContext(ctx, "login failed", "user_id", user.ID)
		return nil, invalidCredentials()
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return s.issue(user)
}

// Me returns the user behind an authenticated actor.
func (s *Service) Me(ctx context.Context, actor *types.Actor) (*types.User, error) {
	return s.users.GetByID(ctx, actor.ID)
}

func (s *Service) issue(u *types.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

func invalidCredentials() error {
	return types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
}
